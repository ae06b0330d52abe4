package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"marketdata/internal/events"
)

// Writer abstracts the output topic.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a kafka-go writer keyed by symbol so one symbol's updates
// stay on one partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// Sink publishes accepted quote writes to Kafka.
type Sink struct {
	writer Writer
	log    *zap.Logger
}

func New(writer Writer, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{writer: writer, log: log}
}

func (s *Sink) Write(ctx context.Context, u events.PriceUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(u.Quote.OriginalSymbol),
		Value: payload,
		Time:  u.Quote.LastUpdated,
	})
	if err != nil {
		return fmt.Errorf("kafka write for %s: %w", u.Quote.OriginalSymbol, err)
	}
	return nil
}

// Run drains updates until ctx is done or the channel closes, then closes
// the writer.
func (s *Sink) Run(ctx context.Context, updates <-chan events.PriceUpdate) {
	defer func() {
		if err := s.writer.Close(); err != nil {
			s.log.Warn("kafka writer close failed", zap.Error(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := s.Write(ctx, u); err != nil {
				s.log.Error("kafka sink write failed", zap.Error(err), zap.String("symbol", u.Quote.OriginalSymbol))
			}
		}
	}
}
