package stream

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/provider"
	"marketdata/internal/symbols"
)

// QuoteSource fetches one quote from the alternate vendor.
type QuoteSource interface {
	GetOne(ctx context.Context, original string) (provider.Quote, error)
}

// Sink records poll outcomes.
type Sink interface {
	Put(ctx context.Context, q provider.Quote) bool
	PutError(ctx context.Context, symbol string, err error)
}

// Poller refreshes alternate-owned symbols on a fixed interval, one symbol at
// a time. It runs whether or not the push feed is connected.
type Poller struct {
	resolver *symbols.Resolver
	source   QuoteSource
	sink     Sink
	interval time.Duration
	delay    time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	symbols []string
}

func NewPoller(resolver *symbols.Resolver, source QuoteSource, sink Sink, interval, delay time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		resolver: resolver,
		source:   source,
		sink:     sink,
		interval: interval,
		delay:    delay,
		log:      log,
	}
}

// SetUniverse keeps the alternate-owned subset of originals.
func (p *Poller) SetUniverse(originals []string) {
	var own []string
	for _, s := range originals {
		if s != "" && p.resolver.OwnerOf(s) == provider.Alternate && !slices.Contains(own, s) {
			own = append(own, s)
		}
	}
	p.mu.Lock()
	p.symbols = own
	p.mu.Unlock()
}

func (p *Poller) Symbols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.symbols)
}

// Run polls immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// PollOnce fetches every tracked symbol sequentially and reports how many
// quotes were written.
func (p *Poller) PollOnce(ctx context.Context) int {
	written := 0
	for i, s := range p.Symbols() {
		if i > 0 && p.delay > 0 {
			select {
			case <-ctx.Done():
				return written
			case <-time.After(p.delay):
			}
		}
		if ctx.Err() != nil {
			return written
		}
		q, err := p.source.GetOne(ctx, s)
		if err != nil {
			p.log.Debug("alternate poll failed", zap.String("symbol", s), zap.Error(err))
			p.sink.PutError(ctx, s, err)
			continue
		}
		q.Source = provider.SourceAltVendorPoll
		if p.sink.Put(ctx, q) {
			written++
		}
	}
	return written
}
