package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketdata/internal/provider"
	"marketdata/internal/symbols"
)

// QuoteSource is the primary vendor surface used for quote batches.
type QuoteSource interface {
	AggregateQuotes(ctx context.Context, vendorSymbols []string) ([]provider.Entry, error)
	GetOne(ctx context.Context, original string) (provider.Quote, error)
}

// VolumeSource is the primary vendor surface used for volume batches.
type VolumeSource interface {
	AggregateVolumes(ctx context.Context, vendorSymbols []string, days int) ([]provider.VolumeEntry, error)
	DailyVolume(ctx context.Context, original string, days int) (provider.VolumeSummary, error)
}

// Primary serves both batch kinds.
type Primary interface {
	QuoteSource
	VolumeSource
}

// SingleSource fetches one symbol at a time.
type SingleSource interface {
	GetOne(ctx context.Context, original string) (provider.Quote, error)
}

// Sink receives every quote outcome. The quote cache implements it.
type Sink interface {
	Put(ctx context.Context, q provider.Quote) bool
	PutError(ctx context.Context, symbol string, err error)
}

type Config struct {
	QuoteChunkSize    int
	VolumeChunkSize   int
	RefreshChunkSize  int
	InterChunkDelay   time.Duration
	RetryConcurrency  int
	IncrementalWindow int
}

func (c Config) withDefaults() Config {
	if c.QuoteChunkSize <= 0 {
		c.QuoteChunkSize = 8
	}
	if c.VolumeChunkSize <= 0 {
		c.VolumeChunkSize = 8
	}
	if c.RefreshChunkSize <= 0 {
		c.RefreshChunkSize = 120
	}
	if c.RetryConcurrency <= 0 {
		c.RetryConcurrency = 5
	}
	if c.IncrementalWindow <= 0 {
		c.IncrementalWindow = 5
	}
	return c
}

// QuoteResult holds every input symbol in exactly one of the two maps.
type QuoteResult struct {
	Quotes map[string]provider.Quote `json:"quotes"`
	Errors map[string]error          `json:"-"`
}

// VolumeResult holds every input symbol in exactly one of the two maps.
type VolumeResult struct {
	Volumes map[string]provider.VolumeSummary `json:"volumes"`
	Errors  map[string]error                  `json:"-"`
}

// Orchestrator splits large symbol sets into vendor-sized chunks, issues one
// aggregate request per chunk and retries whatever a response left out.
type Orchestrator struct {
	cfg       Config
	resolver  *symbols.Resolver
	primary   Primary
	alternate SingleSource
	sink      Sink
	log       *zap.Logger
}

func New(cfg Config, resolver *symbols.Resolver, primary Primary, alternate SingleSource, sink Sink, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		resolver:  resolver,
		primary:   primary,
		alternate: alternate,
		sink:      sink,
		log:       log,
	}
}

// Chunk splits in into consecutive slices of at most size elements.
func Chunk[T any](in []T, size int) [][]T {
	if len(in) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{in}
	}
	out := make([][]T, 0, (len(in)+size-1)/size)
	for i := 0; i < len(in); i += size {
		j := min(i+size, len(in))
		out = append(out, in[i:j])
	}
	return out
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// quoteCollector records outcomes from concurrent retries and forwards them
// to the sink.
type quoteCollector struct {
	sink Sink

	mu  sync.Mutex
	res QuoteResult
}

func newQuoteCollector(sink Sink, n int) *quoteCollector {
	return &quoteCollector{sink: sink, res: QuoteResult{
		Quotes: make(map[string]provider.Quote, n),
		Errors: make(map[string]error),
	}}
}

func (c *quoteCollector) ok(ctx context.Context, q provider.Quote) {
	c.mu.Lock()
	c.res.Quotes[q.OriginalSymbol] = q
	delete(c.res.Errors, q.OriginalSymbol)
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.Put(ctx, q)
	}
}

func (c *quoteCollector) fail(ctx context.Context, symbol string, err error) {
	c.mu.Lock()
	c.res.Errors[symbol] = err
	delete(c.res.Quotes, symbol)
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.PutError(ctx, symbol, err)
	}
}

func (c *quoteCollector) has(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, q := c.res.Quotes[symbol]
	_, e := c.res.Errors[symbol]
	return q || e
}

// Quotes fetches quotes using the quote batch chunk size.
func (o *Orchestrator) Quotes(ctx context.Context, originals []string) QuoteResult {
	return o.quotes(ctx, originals, o.cfg.QuoteChunkSize)
}

// Refresh fetches the whole universe using the refresh chunk size.
func (o *Orchestrator) Refresh(ctx context.Context, originals []string) QuoteResult {
	return o.quotes(ctx, originals, o.cfg.RefreshChunkSize)
}

func (o *Orchestrator) quotes(ctx context.Context, originals []string, chunkSize int) QuoteResult {
	originals = unique(originals)
	col := newQuoteCollector(o.sink, len(originals))

	var primaryOwned, alternateOwned []string
	for _, s := range originals {
		if o.resolver.OwnerOf(s) == provider.Alternate {
			alternateOwned = append(alternateOwned, s)
		} else {
			primaryOwned = append(primaryOwned, s)
		}
	}

	bm := symbols.NewBiMap(primaryOwned, o.resolver.ToVendorSymbol)
	for i, chunk := range Chunk(bm.VendorSymbols(), chunkSize) {
		if i > 0 {
			if err := wait(ctx, o.cfg.InterChunkDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		o.quoteChunk(ctx, bm, chunk, col)
	}

	for _, s := range alternateOwned {
		if ctx.Err() != nil {
			break
		}
		o.single(ctx, o.alternate, s, col)
	}

	// anything left unrecorded was skipped by cancellation
	for _, s := range originals {
		if !col.has(s) {
			col.fail(ctx, s, fmt.Errorf("%s: %w", s, context.Cause(ctx)))
		}
	}
	return col.res
}

func (o *Orchestrator) single(ctx context.Context, src SingleSource, original string, col *quoteCollector) {
	if src == nil {
		col.fail(ctx, original, provider.NotConfigured(provider.Alternate))
		return
	}
	q, err := src.GetOne(ctx, original)
	if err != nil {
		col.fail(ctx, original, err)
		return
	}
	col.ok(ctx, q)
}

// aggregateQuotes issues the chunk request and decodes it into per-original
// outcomes without recording them, so a panic leaves nothing half written.
func (o *Orchestrator) aggregateQuotes(ctx context.Context, bm *symbols.BiMap, chunk []string) (quotes map[string]provider.Quote, errs map[string]error, seen map[string]struct{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in quote chunk: %v", r)
		}
	}()

	entries, err := o.primary.AggregateQuotes(ctx, chunk)
	if err != nil {
		return nil, nil, nil, err
	}
	quotes = make(map[string]provider.Quote, len(chunk))
	errs = make(map[string]error)
	seen = make(map[string]struct{}, len(entries))
	for _, e := range entries {
		origs := bm.Originals(e.VendorSymbol)
		if len(origs) == 0 {
			o.log.Debug("unrequested symbol in batch response", zap.String("vendor_symbol", e.VendorSymbol))
			continue
		}
		seen[e.VendorSymbol] = struct{}{}
		for _, orig := range origs {
			if e.Err != nil {
				errs[orig] = e.Err
				continue
			}
			q := e.Quote
			q.OriginalSymbol = orig
			q.VendorSymbol = e.VendorSymbol
			q.Source = provider.SourceRESTBatch
			q = o.resolver.Normalize(orig, q)
			if !q.HasPrice() {
				errs[orig] = &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: orig, Reason: "missing price"}
				continue
			}
			quotes[orig] = q
		}
	}
	return quotes, errs, seen, nil
}

func (o *Orchestrator) quoteChunk(ctx context.Context, bm *symbols.BiMap, chunk []string, col *quoteCollector) {
	quotes, errs, seen, err := o.aggregateQuotes(ctx, bm, chunk)
	if err != nil {
		o.log.Warn("quote chunk failed; retrying symbols one by one", zap.Strings("symbols", chunk), zap.Error(err))
		for _, v := range chunk {
			for _, orig := range bm.Originals(v) {
				if ctx.Err() != nil {
					return
				}
				o.single(ctx, o.primary, orig, col)
			}
		}
		return
	}

	for _, q := range quotes {
		col.ok(ctx, q)
	}
	for sym, e := range errs {
		col.fail(ctx, sym, e)
	}

	var residual []string
	for _, v := range chunk {
		if _, ok := seen[v]; !ok {
			residual = append(residual, bm.Originals(v)...)
		}
	}
	if len(residual) == 0 {
		return
	}
	o.log.Debug("retrying symbols missing from batch response", zap.Strings("symbols", residual))

	var g errgroup.Group
	g.SetLimit(o.cfg.RetryConcurrency)
	for _, orig := range residual {
		g.Go(func() error {
			o.single(ctx, o.primary, orig, col)
			return nil
		})
	}
	_ = g.Wait()
}

// volumeCollector mirrors quoteCollector for volume summaries.
type volumeCollector struct {
	mu  sync.Mutex
	res VolumeResult
}

func (c *volumeCollector) ok(s provider.VolumeSummary) {
	c.mu.Lock()
	c.res.Volumes[s.Symbol] = s
	delete(c.res.Errors, s.Symbol)
	c.mu.Unlock()
}

func (c *volumeCollector) fail(symbol string, err error) {
	c.mu.Lock()
	c.res.Errors[symbol] = err
	delete(c.res.Volumes, symbol)
	c.mu.Unlock()
}

func (c *volumeCollector) has(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, v := c.res.Volumes[symbol]
	_, e := c.res.Errors[symbol]
	return v || e
}

// Volumes fetches daily volume summaries. Volume history always comes from
// the primary vendor, whatever market the symbol trades on.
func (o *Orchestrator) Volumes(ctx context.Context, originals []string, days int) VolumeResult {
	originals = unique(originals)
	col := &volumeCollector{res: VolumeResult{
		Volumes: make(map[string]provider.VolumeSummary, len(originals)),
		Errors:  make(map[string]error),
	}}

	bm := symbols.NewBiMap(originals, o.resolver.ToVendorSymbol)
	for i, chunk := range Chunk(bm.VendorSymbols(), o.cfg.VolumeChunkSize) {
		if i > 0 {
			if err := wait(ctx, o.cfg.InterChunkDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		o.volumeChunk(ctx, bm, chunk, days, col)
	}

	for _, s := range originals {
		if !col.has(s) {
			col.fail(s, fmt.Errorf("%s: %w", s, context.Cause(ctx)))
		}
	}
	return col.res
}

func (o *Orchestrator) aggregateVolumes(ctx context.Context, bm *symbols.BiMap, chunk []string, days int) (entries []provider.VolumeEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in volume chunk: %v", r)
		}
	}()
	return o.primary.AggregateVolumes(ctx, chunk, days)
}

func (o *Orchestrator) singleVolume(ctx context.Context, original string, days int, col *volumeCollector) {
	s, err := o.primary.DailyVolume(ctx, original, days)
	if err != nil {
		col.fail(original, err)
		return
	}
	col.ok(s)
}

func (o *Orchestrator) volumeChunk(ctx context.Context, bm *symbols.BiMap, chunk []string, days int, col *volumeCollector) {
	entries, err := o.aggregateVolumes(ctx, bm, chunk, days)
	if err != nil {
		o.log.Warn("volume chunk failed; retrying symbols one by one", zap.Strings("symbols", chunk), zap.Error(err))
		for _, v := range chunk {
			for _, orig := range bm.Originals(v) {
				if ctx.Err() != nil {
					return
				}
				o.singleVolume(ctx, orig, days, col)
			}
		}
		return
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		origs := bm.Originals(e.VendorSymbol)
		if len(origs) == 0 {
			continue
		}
		seen[e.VendorSymbol] = struct{}{}
		for _, orig := range origs {
			if e.Err != nil {
				col.fail(orig, e.Err)
				continue
			}
			col.ok(provider.SummarizeVolume(orig, e.VendorSymbol, days, e.Bars))
		}
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.RetryConcurrency)
	for _, v := range chunk {
		if _, ok := seen[v]; ok {
			continue
		}
		for _, orig := range bm.Originals(v) {
			g.Go(func() error {
				o.singleVolume(ctx, orig, days, col)
				return nil
			})
		}
	}
	_ = g.Wait()
}

// Incremental refreshes symbols one by one through their owning vendor with
// a small bounded window, for background top-ups between full refreshes.
func (o *Orchestrator) Incremental(ctx context.Context, originals []string) QuoteResult {
	originals = unique(originals)
	col := newQuoteCollector(o.sink, len(originals))

	var g errgroup.Group
	g.SetLimit(o.cfg.IncrementalWindow)
	for _, s := range originals {
		if ctx.Err() != nil {
			break
		}
		var src SingleSource = o.primary
		if o.resolver.OwnerOf(s) == provider.Alternate {
			src = o.alternate
		}
		g.Go(func() error {
			o.single(ctx, src, s, col)
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range originals {
		if !col.has(s) {
			col.fail(ctx, s, fmt.Errorf("%s: %w", s, context.Cause(ctx)))
		}
	}
	return col.res
}
