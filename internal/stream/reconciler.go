package stream

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketdata/internal/events"
	"marketdata/internal/provider"
	"marketdata/internal/quotecache"
	"marketdata/internal/symbols"
)

// Transport sends subscription changes to the push feed.
type Transport interface {
	Subscribe(ctx context.Context, vendorSymbols []string) error
	Unsubscribe(ctx context.Context, vendorSymbols []string) error
}

// Store is the quote cache as seen by the reconciler.
type Store interface {
	Get(symbol string) (quotecache.Record, bool)
	Put(ctx context.Context, q provider.Quote) bool
}

// Reconciler keeps the feed's subscriptions in line with the ticker universe
// and merges pushed prices into the quote cache.
type Reconciler struct {
	resolver  *symbols.Resolver
	transport Transport
	store     Store
	hub       *events.Hub
	log       *zap.Logger
	now       func() time.Time

	syncMu sync.Mutex

	mu      sync.Mutex
	state   State
	epoch   uint64
	desired map[string][]string // vendor symbol -> originals
	tracked map[string]struct{}
	acked   map[string]struct{}
	failed  map[string]struct{}
}

func NewReconciler(resolver *symbols.Resolver, transport Transport, store Store, hub *events.Hub, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		resolver:  resolver,
		transport: transport,
		store:     store,
		hub:       hub,
		log:       log,
		now:       time.Now,
		desired:   map[string][]string{},
		tracked:   map[string]struct{}{},
		acked:     map[string]struct{}{},
		failed:    map[string]struct{}{},
	}
}

// SetTransport attaches the transport once it exists. The feed and the
// reconciler reference each other, so one of them is wired late.
func (r *Reconciler) SetTransport(t Transport) {
	r.syncMu.Lock()
	r.transport = t
	r.syncMu.Unlock()
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// desiredSet is every non alternate-owned symbol keyed by vendor symbol.
func (r *Reconciler) desiredSet(universe []string) map[string][]string {
	out := make(map[string][]string, len(universe))
	seen := make(map[string]struct{}, len(universe))
	for _, orig := range universe {
		if orig == "" {
			continue
		}
		if _, dup := seen[orig]; dup {
			continue
		}
		seen[orig] = struct{}{}
		if r.resolver.OwnerOf(orig) == provider.Alternate {
			continue
		}
		v := r.resolver.ToVendorSymbol(orig)
		out[v] = append(out[v], orig)
	}
	return out
}

// UpdateSubscriptions replaces the ticker universe and, when connected,
// sends only the delta against what is already subscribed.
func (r *Reconciler) UpdateSubscriptions(ctx context.Context, originals []string) error {
	desired := r.desiredSet(originals)
	r.mu.Lock()
	r.desired = desired
	r.mu.Unlock()
	return r.sync(ctx)
}

func (r *Reconciler) sync(ctx context.Context) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	r.mu.Lock()
	if r.state < Connected || r.transport == nil {
		r.mu.Unlock()
		return nil
	}
	epoch := r.epoch
	var add, remove []string
	for v := range r.desired {
		if _, ok := r.tracked[v]; !ok {
			add = append(add, v)
		}
	}
	for v := range r.tracked {
		if _, ok := r.desired[v]; !ok {
			remove = append(remove, v)
		}
	}
	r.mu.Unlock()

	slices.Sort(add)
	slices.Sort(remove)

	// Both directions are attempted; a failed unsubscribe must not hold back
	// new symbols.
	var errs []error
	if len(add) > 0 {
		if err := r.transport.Subscribe(ctx, add); err != nil {
			errs = append(errs, fmt.Errorf("subscribe: %w", err))
		} else {
			r.commit(epoch, add, nil)
		}
	}
	if len(remove) > 0 {
		if err := r.transport.Unsubscribe(ctx, remove); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		} else {
			r.commit(epoch, nil, remove)
		}
	}
	return errors.Join(errs...)
}

// commit updates the tracked set unless a reconnect happened while the
// transport call was in flight.
func (r *Reconciler) commit(epoch uint64, added, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch {
		return
	}
	for _, v := range added {
		r.tracked[v] = struct{}{}
	}
	for _, v := range removed {
		delete(r.tracked, v)
	}
}

// SetState records a transport transition. Entering Connected clears the
// tracked subscriptions and outcome counts and resends the full desired set.
func (r *Reconciler) SetState(ctx context.Context, s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	reset := s == Disconnected || s == Connected
	if reset {
		r.epoch++
		clear(r.tracked)
		clear(r.acked)
		clear(r.failed)
	}
	r.mu.Unlock()

	if prev != s {
		r.log.Info("stream state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
		if r.hub != nil {
			r.hub.Connection.Publish(events.ConnectionStatus{State: s.String(), At: r.now()})
		}
	}
	if s == Connected {
		if err := r.sync(ctx); err != nil {
			r.log.Warn("resubscribe after connect failed", zap.Error(err))
		}
	}
}

// vendorKey maps a feed symbol back to the vendor symbol used in the
// subscription. Exchange-qualified subscriptions come back split in two.
func (r *Reconciler) vendorKey(symbol, exchange string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exchange != "" {
		if k := symbol + ":" + exchange; r.desired[k] != nil {
			return k
		}
	}
	return symbol
}

// HandlePrice applies one pushed price to every original mapped to its
// vendor symbol and reports how many cache writes were accepted. Writes whose
// price equals the cached one are skipped.
func (r *Reconciler) HandlePrice(ctx context.Context, t Tick) int {
	key := r.vendorKey(t.Symbol, t.Exchange)

	r.mu.Lock()
	originals := slices.Clone(r.desired[key])
	first := r.state == Connected
	if first {
		r.state = Streaming
	}
	r.mu.Unlock()

	if first {
		r.log.Info("stream state changed", zap.Stringer("from", Connected), zap.Stringer("to", Streaming))
		if r.hub != nil {
			r.hub.Connection.Publish(events.ConnectionStatus{State: Streaming.String(), At: r.now()})
		}
	}

	if len(originals) == 0 {
		r.log.Debug("price for unsubscribed symbol", zap.String("symbol", key))
		return 0
	}

	written := 0
	for _, orig := range originals {
		price := r.resolver.Normalize(orig, provider.Quote{Price: decimal.NewNullDecimal(t.Price)}).Price
		prev, ok := r.store.Get(orig)
		if ok && prev.Quote.Price.Valid && prev.Quote.Price.Decimal.Equal(price.Decimal) {
			continue
		}
		q := r.derive(orig, key, price, prev.Quote, t)
		if r.store.Put(ctx, q) {
			written++
		}
	}
	return written
}

// derive builds a complete quote for a pushed price. Session fields are
// carried from the cached record; change is recomputed from previous close.
func (r *Reconciler) derive(orig, vendor string, price decimal.NullDecimal, prev provider.Quote, t Tick) provider.Quote {
	q := provider.Quote{
		OriginalSymbol: orig,
		VendorSymbol:   vendor,
		Price:          price,
		PreviousClose:  prev.PreviousClose,
		Open:           prev.Open,
		High:           prev.High,
		Low:            prev.Low,
		Volume:         prev.Volume,
		LastUpdated:    r.now(),
		Source:         provider.SourceWebsocket,
		IsIntraday:     true,
	}
	if t.DayVolume.Valid {
		q.Volume = t.DayVolume
	}
	if !q.High.Valid || price.Decimal.GreaterThan(q.High.Decimal) {
		q.High = price
	}
	if !q.Low.Valid || price.Decimal.LessThan(q.Low.Decimal) {
		q.Low = price
	}
	if pc := prev.PreviousClose; pc.Valid && !pc.Decimal.IsZero() {
		change := price.Decimal.Sub(pc.Decimal)
		q.Change = decimal.NewNullDecimal(change)
		q.ChangePercent = decimal.NewNullDecimal(change.Div(pc.Decimal).Mul(decimal.NewFromInt(100)).Round(4))
	}
	return q
}

// HandleAck accumulates one batch of subscription outcomes. Counts add up
// across batches until the next reconnect; repeated symbols count once.
func (r *Reconciler) HandleAck(succeeded, failed []AckSymbol) events.SubscriptionStatus {
	r.mu.Lock()
	for _, a := range succeeded {
		k := r.ackKey(a)
		r.acked[k] = struct{}{}
		delete(r.failed, k)
	}
	for _, a := range failed {
		k := r.ackKey(a)
		if _, ok := r.acked[k]; !ok {
			r.failed[k] = struct{}{}
		}
	}
	st := r.statusLocked()
	r.mu.Unlock()

	if len(failed) > 0 {
		r.log.Warn("stream subscription failures", zap.Strings("symbols", st.FailedSymbols))
	}
	if r.hub != nil {
		r.hub.Subscriptions.Publish(st)
	}
	return st
}

func (r *Reconciler) ackKey(a AckSymbol) string {
	if a.Exchange != "" {
		if k := a.Symbol + ":" + a.Exchange; r.desired[k] != nil {
			return k
		}
	}
	return a.Symbol
}

func (r *Reconciler) statusLocked() events.SubscriptionStatus {
	failed := slices.Sorted(maps.Keys(r.failed))
	return events.SubscriptionStatus{
		Subscribed:    len(r.tracked),
		Succeeded:     len(r.acked),
		Failed:        len(failed),
		FailedSymbols: failed,
	}
}

// Status reports the accumulated subscription outcomes.
func (r *Reconciler) Status() events.SubscriptionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

// Subscribed lists the vendor symbols currently tracked as subscribed.
func (r *Reconciler) Subscribed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.tracked))
}
