package symbols

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"marketdata/internal/provider"
)

func newResolver() *Resolver {
	return NewResolver(DefaultTables(), zap.NewNop())
}

func dec(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func TestToVendorSymbol(t *testing.T) {
	t.Parallel()

	r := newResolver()
	cases := map[string]string{
		"RKT LN":    "RKT:LSE",
		"rkt  ln":   "RKT:LSE",
		"NESN SW":   "NESN:SIX",
		"AAPL US":   "AAPL",
		"AAPL":      "AAPL",
		"aapl":      "AAPL",
		"7203 JP":   "7203:JPX",
		"RKT:LSE":   "RKT:LSE",
		" msft ":    "MSFT",
		"BRK A B C": "BRK A B C",
	}
	for in, want := range cases {
		require.Equal(t, want, r.ToVendorSymbol(in), in)
	}
}

func TestToVendorSymbol_Deterministic(t *testing.T) {
	t.Parallel()

	r := newResolver()
	first := r.ToVendorSymbol("RKT LN")
	for range 10 {
		require.Equal(t, first, r.ToVendorSymbol("RKT LN"))
	}
	// Assert: already-resolved symbols are fixed points.
	require.Equal(t, first, r.ToVendorSymbol(first))
}

func TestToVendorSymbol_UnknownSuffixLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	r := NewResolver(DefaultTables(), zap.New(core))

	require.Equal(t, "ABC ZZ", r.ToVendorSymbol("abc zz"))
	require.Equal(t, 1, logs.FilterMessage("unknown exchange suffix").Len())
}

func TestOwnerOf(t *testing.T) {
	t.Parallel()

	r := newResolver()
	require.Equal(t, provider.Alternate, r.OwnerOf("RKT LN"))
	require.Equal(t, provider.Alternate, r.OwnerOf("7203 JP"))
	require.Equal(t, provider.Alternate, r.OwnerOf("700 HK"))
	require.Equal(t, provider.Alternate, r.OwnerOf("ENI IM"))
	require.Equal(t, provider.Alternate, r.OwnerOf("NOVOB DC"))
	require.Equal(t, provider.Primary, r.OwnerOf("NESN SW"))
	require.Equal(t, provider.Primary, r.OwnerOf("AAPL"))
	require.Equal(t, provider.Primary, r.OwnerOf("ABC ZZ"))
}

func TestAlternateCandidates(t *testing.T) {
	t.Parallel()

	r := newResolver()
	require.Equal(t, []string{"7203.T", "7203.TYO", "7203"}, r.AlternateCandidates("7203 JP"))
	require.Equal(t, []string{"0005.HK", "5.HK", "5"}, r.AlternateCandidates("5 HK"))
	require.Equal(t, []string{"0700.HK", "700.HK", "700"}, r.AlternateCandidates("700 hk"))
	require.Equal(t, []string{"RKT.L", "RKT"}, r.AlternateCandidates("RKT LN"))
	require.Equal(t, []string{"AAPL"}, r.AlternateCandidates("aapl"))
}

func TestIsInternational(t *testing.T) {
	t.Parallel()

	r := newResolver()
	require.False(t, r.IsInternational("AAPL"))
	require.False(t, r.IsInternational("AAPL US"))
	require.True(t, r.IsInternational("RKT LN"))
	require.True(t, r.IsInternational("NESN SW"))
}

func TestNormalize_MinorUnits(t *testing.T) {
	t.Parallel()

	r := newResolver()
	q := provider.Quote{
		Price:         dec("12300"),
		Change:        dec("150"),
		ChangePercent: dec("1.2"),
		Volume:        dec("1000"),
		PreviousClose: dec("12150"),
	}

	got := r.Normalize("NESN SW", q)
	require.True(t, got.Price.Decimal.Equal(decimal.NewFromInt(123)))
	require.True(t, got.Change.Decimal.Equal(decimal.RequireFromString("1.5")))
	require.True(t, got.PreviousClose.Decimal.Equal(decimal.RequireFromString("121.5")))
	require.True(t, got.ChangePercent.Decimal.Equal(decimal.RequireFromString("1.2")))
	require.True(t, got.Volume.Decimal.Equal(decimal.NewFromInt(1000)))
	require.False(t, got.High.Valid)

	// Assert: other symbols are untouched and the input is not mutated.
	require.True(t, r.Normalize("AAPL", q).Price.Decimal.Equal(decimal.NewFromInt(12300)))
	require.True(t, q.Price.Decimal.Equal(decimal.NewFromInt(12300)))
}

func TestUsesMinorUnits_SubstringMatch(t *testing.T) {
	t.Parallel()

	r := newResolver()

	require.True(t, r.UsesMinorUnits("NESN SW"))
	require.True(t, r.UsesMinorUnits("nesn sw"))
	require.False(t, r.UsesMinorUnits("SWK US"))
	// any suffix that merely starts with SW matches too
	require.True(t, r.UsesMinorUnits("ABC SWX"))
}

func TestLoadTables_Override(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
exchanges:
  ZZ: ZEX
alternate_markets: [ZZ]
minor_unit_markers: [" LN"]
`), 0o600))

	tables, err := LoadTables(path)
	require.NoError(t, err)

	r := NewResolver(tables, zap.NewNop())
	require.Equal(t, "ABC:ZEX", r.ToVendorSymbol("ABC ZZ"))
	require.Equal(t, "RKT:LSE", r.ToVendorSymbol("RKT LN"), "defaults are kept for other suffixes")
	require.Equal(t, provider.Alternate, r.OwnerOf("ABC ZZ"))
	require.Equal(t, provider.Primary, r.OwnerOf("RKT LN"))
	require.True(t, r.UsesMinorUnits("RKT LN"))
}

func TestLoadTables_Missing(t *testing.T) {
	t.Parallel()

	_, err := LoadTables(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	tables, err := LoadTables("")
	require.NoError(t, err)
	require.Equal(t, DefaultTables(), tables)
}

func TestBiMap(t *testing.T) {
	t.Parallel()

	r := newResolver()
	m := NewBiMap([]string{"AAPL", "AAPL US", "NESN SW", "AAPL"}, r.ToVendorSymbol)

	require.Equal(t, 3, m.Len())
	require.Equal(t, []string{"AAPL", "NESN:SIX"}, m.VendorSymbols())
	require.Equal(t, []string{"AAPL", "AAPL US"}, m.Originals("AAPL"))
	v, ok := m.Vendor("NESN SW")
	require.True(t, ok)
	require.Equal(t, "NESN:SIX", v)
	require.Empty(t, m.Originals("MSFT"))
}
