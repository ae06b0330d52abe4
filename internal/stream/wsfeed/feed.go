package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketdata/internal/batch"
	"marketdata/internal/events"
	"marketdata/internal/provider"
	"marketdata/internal/stream"
)

const (
	defaultURL       = "wss://ws.twelvedata.com/v1/quotes/price"
	defaultChunkSize = 100
	writeWait        = 10 * time.Second
)

var errNotConnected = errors.New("wsfeed: not connected")

// Handler receives everything the feed observes.
type Handler interface {
	SetState(ctx context.Context, s stream.State)
	HandlePrice(ctx context.Context, t stream.Tick) int
	HandleAck(succeeded, failed []stream.AckSymbol) events.SubscriptionStatus
}

// Feed is the Twelve Data price websocket. It owns dialing and a fixed-delay
// redial; subscription bookkeeping belongs to the handler.
type Feed struct {
	url       string
	apiKey    string
	handler   Handler
	dialer    *websocket.Dialer
	reconnect time.Duration
	heartbeat time.Duration
	chunkSize int
	log       *zap.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

type Option func(*Feed)

func WithURL(u string) Option {
	return func(f *Feed) {
		if u != "" {
			f.url = u
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(f *Feed) { f.dialer = d }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(f *Feed) { f.reconnect = d }
}

func WithHeartbeat(d time.Duration) Option {
	return func(f *Feed) { f.heartbeat = d }
}

// WithChunkSize caps the number of symbols per subscribe frame.
func WithChunkSize(n int) Option {
	return func(f *Feed) { f.chunkSize = n }
}

func New(apiKey string, handler Handler, log *zap.Logger, opts ...Option) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Feed{
		url:       defaultURL,
		apiKey:    apiKey,
		handler:   handler,
		dialer:    websocket.DefaultDialer,
		reconnect: 5 * time.Second,
		heartbeat: 10 * time.Second,
		chunkSize: defaultChunkSize,
		log:       log,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Feed) endpoint() (string, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	if f.apiKey != "" {
		q := u.Query()
		q.Set("apikey", f.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Run dials, reads until the connection drops and redials after the
// reconnect delay. It returns when ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	if f.apiKey == "" {
		return provider.NotConfigured(provider.Primary)
	}
	endpoint, err := f.endpoint()
	if err != nil {
		return err
	}
	for {
		f.handler.SetState(ctx, stream.Connecting)
		conn, _, err := f.dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			f.log.Warn("stream dial failed", zap.Error(err))
			f.handler.SetState(ctx, stream.Disconnected)
			if !sleep(ctx, f.reconnect) {
				return nil
			}
			continue
		}

		f.setConn(conn)
		f.handler.SetState(ctx, stream.Connected)
		err = f.readLoop(ctx, conn)
		f.setConn(nil)
		_ = conn.Close()
		f.handler.SetState(ctx, stream.Disconnected)

		if ctx.Err() != nil {
			return nil
		}
		f.log.Warn("stream connection lost", zap.Error(err))
		if !sleep(ctx, f.reconnect) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (f *Feed) setConn(c *websocket.Conn) {
	f.mu.Lock()
	f.conn = c
	f.mu.Unlock()
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(f.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-t.C:
				if err := f.send(conn, action{Action: "heartbeat"}); err != nil {
					f.log.Debug("heartbeat failed", zap.Error(err))
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.dispatch(ctx, data)
	}
}

type action struct {
	Action string  `json:"action"`
	Params *params `json:"params,omitempty"`
}

type params struct {
	Symbols string `json:"symbols"`
}

type ackEntry struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

type message struct {
	Event     string          `json:"event"`
	Symbol    string          `json:"symbol"`
	Exchange  string          `json:"exchange"`
	Price     provider.Number `json:"price"`
	DayVolume provider.Number `json:"day_volume"`
	Timestamp int64           `json:"timestamp"`
	Status    string          `json:"status"`
	Success   []ackEntry      `json:"success"`
	Fails     []ackEntry      `json:"fails"`
	Message   string          `json:"message"`
}

func acks(in []ackEntry) []stream.AckSymbol {
	out := make([]stream.AckSymbol, 0, len(in))
	for _, a := range in {
		out = append(out, stream.AckSymbol{Symbol: a.Symbol, Exchange: a.Exchange})
	}
	return out
}

func (f *Feed) dispatch(ctx context.Context, data []byte) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		f.log.Debug("undecodable stream frame", zap.Error(err))
		return
	}
	switch m.Event {
	case "price":
		if !m.Price.Valid {
			return
		}
		t := stream.Tick{
			Symbol:    m.Symbol,
			Exchange:  m.Exchange,
			Price:     m.Price.Decimal,
			DayVolume: m.DayVolume.NullDecimal,
		}
		if m.Timestamp > 0 {
			t.At = time.Unix(m.Timestamp, 0).UTC()
		}
		f.handler.HandlePrice(ctx, t)
	case "subscribe-status":
		f.handler.HandleAck(acks(m.Success), acks(m.Fails))
	case "heartbeat":
	default:
		if m.Status == "error" {
			f.log.Warn("stream error frame", zap.String("message", m.Message))
		}
	}
}

func (f *Feed) send(conn *websocket.Conn, a action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(a)
}

func (f *Feed) current() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

// Subscribe sends one subscribe frame per chunk of symbols.
func (f *Feed) Subscribe(ctx context.Context, vendorSymbols []string) error {
	return f.change(ctx, "subscribe", vendorSymbols)
}

func (f *Feed) Unsubscribe(ctx context.Context, vendorSymbols []string) error {
	return f.change(ctx, "unsubscribe", vendorSymbols)
}

func (f *Feed) change(ctx context.Context, verb string, vendorSymbols []string) error {
	conn := f.current()
	if conn == nil {
		return errNotConnected
	}
	for _, chunk := range batch.Chunk(vendorSymbols, f.chunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.send(conn, action{Action: verb, Params: &params{Symbols: strings.Join(chunk, ",")}}); err != nil {
			return fmt.Errorf("%s %d symbols: %w", verb, len(chunk), err)
		}
	}
	return nil
}
