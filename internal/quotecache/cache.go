package quotecache

import (
	"context"
	"maps"
	"sync"
	"time"

	"marketdata/internal/provider"
)

// Record is a cached quote with the sequence number of the write that stored it.
type Record struct {
	Quote provider.Quote `json:"quote"`
	Seq   uint64         `json:"seq"`
}

// Snapshot is a consistent copy of both maps. A symbol may appear in both:
// a stale quote and a current error.
type Snapshot struct {
	Quotes map[string]provider.Quote `json:"quotes"`
	Errors map[string]string         `json:"errors"`
	Seq    uint64                    `json:"seq"`
}

// Cache is the single keyed store of latest known quotes. Every write path
// goes through Put, which keeps the newest write by LastUpdated.
type Cache struct {
	now func() time.Time

	mu        sync.RWMutex
	quotes    map[string]Record
	errors    map[string]string
	seq       uint64
	observers []func(Record)
}

func New() *Cache {
	return &Cache{
		now:    time.Now,
		quotes: make(map[string]Record),
		errors: make(map[string]string),
	}
}

// OnWrite registers fn to run after every accepted write, outside the lock.
func (c *Cache) OnWrite(fn func(Record)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Put stores q under q.OriginalSymbol unless the stored quote is newer.
// Equal timestamps are accepted so the later write wins. A zero LastUpdated
// is stamped with the current time. Writes for a canceled ctx are dropped.
// An accepted write clears the symbol's error.
func (c *Cache) Put(ctx context.Context, q provider.Quote) bool {
	if ctx.Err() != nil || q.OriginalSymbol == "" {
		return false
	}
	if q.LastUpdated.IsZero() {
		q.LastUpdated = c.now()
	}

	c.mu.Lock()
	if cur, ok := c.quotes[q.OriginalSymbol]; ok && q.LastUpdated.Before(cur.Quote.LastUpdated) {
		c.mu.Unlock()
		return false
	}
	c.seq++
	rec := Record{Quote: q, Seq: c.seq}
	c.quotes[q.OriginalSymbol] = rec
	delete(c.errors, q.OriginalSymbol)
	observers := c.observers
	c.mu.Unlock()

	for _, fn := range observers {
		fn(rec)
	}
	return true
}

// PutError records the last failure for symbol. The cached quote, if any,
// is kept.
func (c *Cache) PutError(ctx context.Context, symbol string, err error) {
	if ctx.Err() != nil || err == nil {
		return
	}
	c.mu.Lock()
	c.errors[symbol] = err.Error()
	c.mu.Unlock()
}

func (c *Cache) Get(symbol string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.quotes[symbol]
	return r, ok
}

// Error returns the last recorded failure for symbol.
func (c *Cache) Error(symbol string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.errors[symbol]
	return e, ok
}

func (c *Cache) Quotes() map[string]provider.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]provider.Quote, len(c.quotes))
	for k, r := range c.quotes {
		out[k] = r.Quote
	}
	return out
}

func (c *Cache) Errors() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.errors)
}

func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		Quotes: make(map[string]provider.Quote, len(c.quotes)),
		Errors: maps.Clone(c.errors),
		Seq:    c.seq,
	}
	for k, r := range c.quotes {
		s.Quotes[k] = r.Quote
	}
	return s
}
