package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketdata/internal/events"
	"marketdata/internal/provider"
	"marketdata/internal/quotecache"
	"marketdata/internal/symbols"
)

type fakeTransport struct {
	mu          sync.Mutex
	subscribed  [][]string
	unsubscribe [][]string
	err         error
	unsubErr    error
}

func (f *fakeTransport) Subscribe(_ context.Context, s []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subscribed = append(f.subscribed, s)
	return nil
}

func (f *fakeTransport) Unsubscribe(_ context.Context, s []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsubErr != nil {
		return f.unsubErr
	}
	f.unsubscribe = append(f.unsubscribe, s)
	return nil
}

func newReconciler(t *testing.T) (*Reconciler, *fakeTransport, *quotecache.Cache, *events.Hub) {
	t.Helper()
	tr := &fakeTransport{}
	cache := quotecache.New()
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	r := NewReconciler(symbols.NewResolver(symbols.DefaultTables(), zap.NewNop()), tr, cache, hub, zap.NewNop())
	return r, tr, cache, hub
}

func nd(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func TestUpdateSubscriptions_DisconnectedSendsNothing(t *testing.T) {
	t.Parallel()

	r, tr, _, _ := newReconciler(t)

	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"AAPL"}))
	require.Empty(t, tr.subscribed)
}

func TestUpdateSubscriptions_ExcludesAlternateOwned(t *testing.T) {
	t.Parallel()

	// Arrange
	r, tr, _, _ := newReconciler(t)
	r.SetState(t.Context(), Connected)

	// Act
	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"AAPL", "RKT LN", "NESN SW", "7203 JP"}))

	// Assert
	require.Equal(t, [][]string{{"AAPL", "NESN:SIX"}}, tr.subscribed)
	require.Equal(t, []string{"AAPL", "NESN:SIX"}, r.Subscribed())
}

func TestUpdateSubscriptions_IdenticalSetSentOnce(t *testing.T) {
	t.Parallel()

	r, tr, _, _ := newReconciler(t)
	r.SetState(t.Context(), Connected)
	set := []string{"AAPL", "MSFT"}

	require.NoError(t, r.UpdateSubscriptions(t.Context(), set))
	require.NoError(t, r.UpdateSubscriptions(t.Context(), set))

	require.Len(t, tr.subscribed, 1)
}

func TestUpdateSubscriptions_Delta(t *testing.T) {
	t.Parallel()

	r, tr, _, _ := newReconciler(t)
	r.SetState(t.Context(), Connected)

	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"AAPL", "MSFT"}))
	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"MSFT", "NVDA"}))

	require.Equal(t, [][]string{{"AAPL", "MSFT"}, {"NVDA"}}, tr.subscribed)
	require.Equal(t, [][]string{{"AAPL"}}, tr.unsubscribe)
}

func TestSetState_ReconnectResendsFullSet(t *testing.T) {
	t.Parallel()

	// Arrange
	r, tr, _, hub := newReconciler(t)
	states, cancel := hub.Connection.Subscribe(8)
	defer cancel()
	r.SetState(t.Context(), Connected)
	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"AAPL", "MSFT"}))

	// Act: drop and come back
	r.SetState(t.Context(), Disconnected)
	require.Empty(t, r.Subscribed())
	r.SetState(t.Context(), Connecting)
	r.SetState(t.Context(), Connected)

	// Assert
	require.Equal(t, [][]string{{"AAPL", "MSFT"}, {"AAPL", "MSFT"}}, tr.subscribed)
	var got []string
	for range 4 {
		got = append(got, (<-states).State)
	}
	require.Equal(t, []string{"connected", "disconnected", "connecting", "connected"}, got)
}

func TestUpdateSubscriptions_TransportErrorRetriedNextTime(t *testing.T) {
	t.Parallel()

	r, tr, _, _ := newReconciler(t)
	r.SetState(t.Context(), Connected)
	tr.err = errors.New("write: broken pipe")

	require.Error(t, r.UpdateSubscriptions(t.Context(), []string{"AAPL"}))
	require.Empty(t, r.Subscribed())

	tr.err = nil
	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"AAPL"}))
	require.Equal(t, []string{"AAPL"}, r.Subscribed())
}

func TestHandlePrice_DerivesQuoteAndSkipsUnchanged(t *testing.T) {
	t.Parallel()

	// Arrange: cached REST quote with a previous close
	r, _, cache, _ := newReconciler(t)
	r.SetState(t.Context(), Connected)
	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"AAPL"}))
	cache.Put(t.Context(), provider.Quote{
		OriginalSymbol: "AAPL",
		Price:          nd("100"),
		PreviousClose:  nd("100"),
		High:           nd("101"),
		Low:            nd("99"),
		LastUpdated:    time.Now().Add(-time.Minute),
		Source:         provider.SourceRESTQuote,
	})

	// Act
	n := r.HandlePrice(t.Context(), Tick{Symbol: "AAPL", Price: decimal.RequireFromString("102")})
	again := r.HandlePrice(t.Context(), Tick{Symbol: "AAPL", Price: decimal.RequireFromString("102")})

	// Assert
	require.Equal(t, 1, n)
	require.Zero(t, again)
	rec, ok := cache.Get("AAPL")
	require.True(t, ok)
	q := rec.Quote
	require.Equal(t, provider.SourceWebsocket, q.Source)
	require.True(t, q.Change.Decimal.Equal(decimal.NewFromInt(2)))
	require.True(t, q.ChangePercent.Decimal.Equal(decimal.NewFromInt(2)))
	require.True(t, q.High.Decimal.Equal(decimal.NewFromInt(102)))
	require.True(t, q.Low.Decimal.Equal(decimal.NewFromInt(99)))
	require.True(t, q.IsIntraday)
	require.Equal(t, Streaming, r.State())
}

func TestHandlePrice_MinorUnitsAndExchangeQualified(t *testing.T) {
	t.Parallel()

	r, _, cache, _ := newReconciler(t)
	r.SetState(t.Context(), Connected)
	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"NESN SW"}))

	n := r.HandlePrice(t.Context(), Tick{Symbol: "NESN", Exchange: "SIX", Price: decimal.NewFromInt(12300)})

	require.Equal(t, 1, n)
	rec, _ := cache.Get("NESN SW")
	require.True(t, rec.Quote.Price.Decimal.Equal(decimal.NewFromInt(123)))
	require.Equal(t, "NESN:SIX", rec.Quote.VendorSymbol)
}

func TestHandlePrice_UnknownSymbolIgnored(t *testing.T) {
	t.Parallel()

	r, _, cache, _ := newReconciler(t)
	r.SetState(t.Context(), Connected)

	require.Zero(t, r.HandlePrice(t.Context(), Tick{Symbol: "ZZZZ", Price: decimal.NewFromInt(1)}))
	require.Empty(t, cache.Quotes())
}

func TestHandlePrice_NewerRESTWriteWins(t *testing.T) {
	t.Parallel()

	// Arrange: REST write stamped in the future relative to the stream tick
	r, _, cache, _ := newReconciler(t)
	fixed := time.Date(2024, 3, 8, 9, 0, 1, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	r.SetState(t.Context(), Connected)
	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"AAPL"}))
	cache.Put(t.Context(), provider.Quote{OriginalSymbol: "AAPL", Price: nd("10"), LastUpdated: fixed.Add(time.Second)})

	// Act
	n := r.HandlePrice(t.Context(), Tick{Symbol: "AAPL", Price: decimal.NewFromInt(11)})

	// Assert
	require.Zero(t, n)
	rec, _ := cache.Get("AAPL")
	require.True(t, rec.Quote.Price.Decimal.Equal(decimal.NewFromInt(10)))
}

func TestHandleAck_AccumulatesAndDedupes(t *testing.T) {
	t.Parallel()

	// Arrange
	r, _, _, hub := newReconciler(t)
	statuses, cancel := hub.Subscriptions.Subscribe(4)
	defer cancel()
	r.SetState(t.Context(), Connected)
	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"AAPL", "MSFT", "NESN SW", "BAD"}))

	// Act: two acknowledgement batches with a repeated failure
	r.HandleAck([]AckSymbol{{Symbol: "AAPL", Exchange: "NASDAQ"}}, []AckSymbol{{Symbol: "BAD"}})
	st := r.HandleAck([]AckSymbol{{Symbol: "NESN", Exchange: "SIX"}, {Symbol: "MSFT"}}, []AckSymbol{{Symbol: "BAD"}})

	// Assert
	require.Equal(t, 3, st.Succeeded)
	require.Equal(t, 1, st.Failed)
	require.Equal(t, []string{"BAD"}, st.FailedSymbols)
	require.Equal(t, 4, st.Subscribed)
	<-statuses
	require.Equal(t, st, <-statuses)

	// Assert: reconnect resets the counts
	r.SetState(t.Context(), Disconnected)
	require.Zero(t, r.Status().Succeeded)
}

func TestUpdateSubscriptions_UnsubscribeFailureStillSubscribes(t *testing.T) {
	t.Parallel()

	// Arrange
	r, tr, _, _ := newReconciler(t)
	r.SetState(t.Context(), Connected)
	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"AAPL", "MSFT"}))
	tr.unsubErr = errors.New("write: broken pipe")

	// Act: MSFT leaves, IBM joins
	err := r.UpdateSubscriptions(t.Context(), []string{"AAPL", "IBM"})

	// Assert: the add went out and is tracked; MSFT stays tracked for the next sync
	require.ErrorIs(t, err, tr.unsubErr)
	require.Equal(t, []string{"IBM"}, tr.subscribed[len(tr.subscribed)-1])
	require.Equal(t, []string{"AAPL", "IBM", "MSFT"}, r.Subscribed())

	tr.unsubErr = nil
	require.NoError(t, r.UpdateSubscriptions(t.Context(), []string{"AAPL", "IBM"}))
	require.Equal(t, [][]string{{"MSFT"}}, tr.unsubscribe)
	require.Equal(t, []string{"AAPL", "IBM"}, r.Subscribed())
}
