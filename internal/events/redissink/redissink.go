package redissink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketdata/internal/events"
)

const (
	keyPrefix     = "quote:"
	channelPrefix = "quotes."
)

// Client is the subset of go-redis the sink needs.
type Client interface {
	Pipeline() redis.Pipeliner
}

// Sink mirrors accepted quote writes into Redis: a snapshot key with a TTL
// and a pub/sub message per symbol.
type Sink struct {
	client Client
	ttl    time.Duration
	log    *zap.Logger
}

func New(client Client, ttl time.Duration, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{client: client, ttl: ttl, log: log}
}

// Write stores and publishes one update in a single pipeline.
func (s *Sink) Write(ctx context.Context, u events.PriceUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}
	sym := u.Quote.OriginalSymbol
	pipe := s.client.Pipeline()
	pipe.Set(ctx, keyPrefix+sym, payload, s.ttl)
	pipe.Publish(ctx, channelPrefix+sym, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline for %s: %w", sym, err)
	}
	return nil
}

// Run drains updates until ctx is done or the channel closes.
func (s *Sink) Run(ctx context.Context, updates <-chan events.PriceUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := s.Write(ctx, u); err != nil {
				s.log.Error("redis sink write failed", zap.Error(err), zap.String("symbol", u.Quote.OriginalSymbol))
			}
		}
	}
}
