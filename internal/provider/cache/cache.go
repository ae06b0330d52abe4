package cache

import (
	"context"
	"sync"
	"time"

	"marketdata/internal/provider"
)

// entry stores one cached value with expiry.
type entry[T any] struct {
	expiresAt time.Time
	value     T
}

// Provider memoises successful results of a provider.Client per symbol for a
// TTL. Only missing or expired symbols reach the underlying client; errors are
// never cached.
type Provider[T any] struct {
	P        provider.Client[T]
	TTL      time.Duration
	MaxItems int

	// now is swapped in tests.
	now func() time.Time

	mu    sync.RWMutex
	items map[string]entry[T]
}

func New[T any](p provider.Client[T], ttl time.Duration, maxItems int) *Provider[T] {
	return &Provider[T]{P: p, TTL: ttl, MaxItems: maxItems}
}

func (c *Provider[T]) Name() provider.ID { return c.P.Name() }

func (c *Provider[T]) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Provider[T]) lookup(symbol string, now time.Time) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[symbol]
	if !ok || !now.Before(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

func (c *Provider[T]) store(values map[string]T, now time.Time) {
	expiry := now.Add(c.TTL)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[string]entry[T], len(values))
	}
	for sym, v := range values {
		c.items[sym] = entry[T]{expiresAt: expiry, value: v}
	}
	// best-effort cap: expired entries first, then arbitrary ones
	if c.MaxItems > 0 && len(c.items) > c.MaxItems {
		for k, v := range c.items {
			if now.After(v.expiresAt) {
				delete(c.items, k)
			}
		}
		for k := range c.items {
			if len(c.items) <= c.MaxItems {
				break
			}
			delete(c.items, k)
		}
	}
}

// GetOne returns the cached value when still valid, otherwise fetches it.
func (c *Provider[T]) GetOne(ctx context.Context, symbol string) (T, error) {
	if c.TTL <= 0 {
		return c.P.GetOne(ctx, symbol)
	}
	now := c.clock()
	if v, ok := c.lookup(symbol, now); ok {
		return v, nil
	}
	v, err := c.P.GetOne(ctx, symbol)
	if err != nil {
		return v, err
	}
	c.store(map[string]T{symbol: v}, now)
	return v, nil
}

// GetMany combines cached values with a fetch of the missing symbols.
func (c *Provider[T]) GetMany(ctx context.Context, symbols []string) (map[string]T, map[string]error) {
	if c.TTL <= 0 {
		return c.P.GetMany(ctx, symbols)
	}
	now := c.clock()
	out := make(map[string]T, len(symbols))
	missing := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if v, ok := c.lookup(s, now); ok {
			out[s] = v
			continue
		}
		missing = append(missing, s)
	}
	if len(missing) == 0 {
		return out, map[string]error{}
	}

	fresh, errs := c.P.GetMany(ctx, missing)
	c.store(fresh, now)
	for s, v := range fresh {
		out[s] = v
	}
	if errs == nil {
		errs = map[string]error{}
	}
	return out, errs
}
