package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"go.uber.org/zap"

	"marketdata/internal/app"
	"marketdata/internal/config"
)

var configPath string

var commands = []subcommands.Command{
	&quoteCmd{},
	&batchCmd{},
	&volumeCmd{},
	&fundamentalsCmd{},
	&searchCmd{},
	&dumpCmd{},
	&watchCmd{},
}

// build loads configuration and wires the core without starting the stream.
func build(stream bool) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Stream.Enabled = stream
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	return subcommands.ExitFailure
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// symbolArgs accepts symbols as arguments or as one comma separated argument.
// Symbols like "NESN SW" must be quoted.
func symbolArgs(f *flag.FlagSet) []string {
	var out []string
	for _, a := range f.Args() {
		out = append(out, splitCSV(a)...)
	}
	return out
}

type quoteCmd struct{}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "fetches one quote from its owning vendor" }
func (*quoteCmd) Usage() string {
	return `quote "SYMBOL SUFFIX"

Fetches a single quote, e.g. quote "AAPL US" or quote "NESN SW".
`
}
func (*quoteCmd) SetFlags(*flag.FlagSet) {}

func (*quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := build(false)
	if err != nil {
		return fail("%v", err)
	}
	q, err := a.Service.GetQuote(ctx, f.Arg(0))
	if err != nil {
		return fail("%v", err)
	}
	if err := writeJSON(os.Stdout, q); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

type batchCmd struct{}

func (*batchCmd) Name() string     { return "batch" }
func (*batchCmd) Synopsis() string { return "fetches many quotes with chunked vendor requests" }
func (*batchCmd) Usage() string {
	return `batch SYMBOL[,SYMBOL...] ...

Prints every quote and every per-symbol error.
`
}
func (*batchCmd) SetFlags(*flag.FlagSet) {}

func (*batchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	syms := symbolArgs(f)
	if len(syms) == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := build(false)
	if err != nil {
		return fail("%v", err)
	}
	res := a.Service.GetBatchQuotes(ctx, syms)
	errs := make(map[string]string, len(res.Errors))
	for s, e := range res.Errors {
		errs[s] = e.Error()
	}
	out := struct {
		Quotes any               `json:"quotes"`
		Errors map[string]string `json:"errors"`
	}{res.Quotes, errs}
	if err := writeJSON(os.Stdout, out); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

type volumeCmd struct {
	days int
}

func (*volumeCmd) Name() string     { return "volume" }
func (*volumeCmd) Synopsis() string { return "summarizes daily volume over a trailing window" }
func (*volumeCmd) Usage() string {
	return `volume [-days N] SYMBOL
`
}
func (c *volumeCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.days, "days", 30, "number of trailing trading days")
}

func (c *volumeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := build(false)
	if err != nil {
		return fail("%v", err)
	}
	v, err := a.Service.GetDailyVolumeData(ctx, f.Arg(0), c.days)
	if err != nil {
		return fail("%v", err)
	}
	if err := writeJSON(os.Stdout, v); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

type fundamentalsCmd struct{}

func (*fundamentalsCmd) Name() string     { return "fundamentals" }
func (*fundamentalsCmd) Synopsis() string { return "prints fundamentals, market cap and next earnings" }
func (*fundamentalsCmd) Usage() string {
	return `fundamentals SYMBOL

Parts that fail or time out are omitted.
`
}
func (*fundamentalsCmd) SetFlags(*flag.FlagSet) {}

func (*fundamentalsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := build(false)
	if err != nil {
		return fail("%v", err)
	}
	if err := writeJSON(os.Stdout, a.Service.GetOverview(ctx, f.Arg(0))); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

type searchCmd struct{}

func (*searchCmd) Name() string     { return "search" }
func (*searchCmd) Synopsis() string { return "searches instruments by name or ticker" }
func (*searchCmd) Usage() string {
	return `search QUERY
`
}
func (*searchCmd) SetFlags(*flag.FlagSet) {}

func (*searchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := build(false)
	if err != nil {
		return fail("%v", err)
	}
	matches, err := a.Service.SearchSymbols(ctx, strings.Join(f.Args(), " "))
	if err != nil {
		return fail("%v", err)
	}
	for _, m := range matches {
		fmt.Printf("%-12s %-8s %-4s %s\n", m.Symbol, m.Exchange, m.Currency, m.InstrumentName)
	}
	return subcommands.ExitSuccess
}

// dumpCmd refreshes a symbol file through the refresh-sized chunks and writes
// the resulting snapshot.
type dumpCmd struct {
	symbolsFile string
	outPath     string
}

func (*dumpCmd) Name() string     { return "dump" }
func (*dumpCmd) Synopsis() string { return "refreshes a symbol file and writes the snapshot as JSON" }
func (*dumpCmd) Usage() string {
	return `dump -symbols-file FILE [-out FILE]

FILE holds a JSON array of symbols, or one symbol per line.
`
}
func (c *dumpCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbolsFile, "symbols-file", "symbols.json", "symbols to refresh")
	f.StringVar(&c.outPath, "out", "", "output file (stdout by default)")
}

func (c *dumpCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	syms, err := readSymbols(c.symbolsFile)
	if err != nil {
		return fail("could not read symbols: %v", err)
	}
	if len(syms) == 0 {
		fmt.Fprintf(os.Stderr, "Warning: no symbols in %s\n", c.symbolsFile)
		return subcommands.ExitSuccess
	}
	a, err := build(false)
	if err != nil {
		return fail("%v", err)
	}
	if err := a.Service.UpdateSubscriptions(ctx, syms); err != nil {
		return fail("%v", err)
	}
	start := time.Now()
	res := a.Service.RefreshUniverse(ctx)
	fmt.Fprintf(os.Stderr, "refreshed %d symbols in %s: %d quotes, %d errors\n",
		len(syms), time.Since(start).Round(time.Millisecond), len(res.Quotes), len(res.Errors))

	w := io.Writer(os.Stdout)
	if c.outPath != "" {
		file, err := os.Create(c.outPath)
		if err != nil {
			return fail("%v", err)
		}
		defer file.Close()
		w = file
	}
	if err := writeJSON(w, a.Service.Snapshot()); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

func readSymbols(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if trimmed := strings.TrimSpace(string(b)); strings.HasPrefix(trimmed, "[") {
		var syms []string
		if err := json.Unmarshal(b, &syms); err != nil {
			return nil, err
		}
		return syms, nil
	}
	var syms []string
	for _, line := range strings.Split(string(b), "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			syms = append(syms, line)
		}
	}
	return syms, nil
}

// watchCmd runs the streaming side and prints every accepted price.
type watchCmd struct {
	duration time.Duration
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "streams live prices for a set of symbols" }
func (*watchCmd) Usage() string {
	return `watch [-for DURATION] SYMBOL[,SYMBOL...] ...

Subscribes the primary vendor's push feed and polls alternate markets.
`
}
func (c *watchCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.duration, "for", 0, "stop after this long (0 = until interrupted)")
}

func (c *watchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	syms := symbolArgs(f)
	if len(syms) == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := build(true)
	if err != nil {
		return fail("%v", err)
	}
	if c.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.duration)
		defer cancel()
	}

	hub := a.Service.Hub()
	prices, stopPrices := hub.Prices.Subscribe(256)
	defer stopPrices()
	states, stopStates := hub.Connection.Subscribe(8)
	defer stopStates()

	a.Config.Symbols.Universe = syms
	go a.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return subcommands.ExitSuccess
		case s := <-states:
			a.Log.Info("stream state", zap.String("state", s.State))
		case u := <-prices:
			q := u.Quote
			fmt.Printf("%s %-12s %12s %10s %s\n",
				q.LastUpdated.Format(time.TimeOnly), q.OriginalSymbol,
				q.Price.Decimal.StringFixed(4), q.ChangePercent.Decimal.StringFixed(2), q.Source)
		}
	}
}
