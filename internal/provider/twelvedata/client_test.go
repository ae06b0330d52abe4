package twelvedata_test

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketdata/internal/provider"
	"marketdata/internal/provider/twelvedata"
)

func respond(status int, body string) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}, nil
	}
}

func newClient(t *testing.T, httpClient twelvedata.HTTPClient) *twelvedata.Client {
	t.Helper()
	client, err := twelvedata.NewClient("test-key", twelvedata.WithHTTPClient(httpClient), twelvedata.WithBaseURL("https://td.test"))
	require.NoError(t, err)
	require.NotNil(t, client)
	return client
}

func TestQuote_SingleObject(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: stub the Do method
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.Equal(t, "/quote", req.URL.Path)
			require.Equal(t, "test-key", req.URL.Query().Get("apikey"))
			require.Equal(t, "AAPL", req.URL.Query().Get("symbol"))
			return respond(http.StatusOK, `{"symbol":"AAPL","close":"189.84","change":"1.20","percent_change":"0.64","volume":"51234500","previous_close":"188.64","high":"190.1","low":"187.5","open":"188.7","datetime":"2024-03-08"}`)(req)
		}).
		Times(1)

	client := newClient(t, httpClient)

	// Act
	q, err := client.Quote(t.Context(), "AAPL")

	// Assert
	require.NoError(t, err)
	require.Equal(t, "AAPL", q.Symbol)
	require.True(t, q.Close.Decimal.Equal(decimal.RequireFromString("189.84")))
	require.True(t, q.Volume.Decimal.Equal(decimal.NewFromInt(51234500)))
	require.True(t, q.PreviousClose.Valid)
}

func TestQuotes_KeyedResponse(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "AAPL,NESN:SIX,MSFT", req.URL.Query().Get("symbol"))
			return respond(http.StatusOK, `{
				"AAPL": {"symbol":"AAPL","close":"189.84"},
				"NESN:SIX": {"code":400,"message":"symbol not found","status":"error"}
			}`)(req)
		}).
		Times(1)

	client := newClient(t, httpClient)

	// Act
	results, err := client.Quotes(t.Context(), []string{"AAPL", "NESN:SIX", "MSFT"})

	// Assert: MSFT is simply absent, NESN carries its own error.
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "AAPL", results[0].Symbol)
	require.NoError(t, results[0].Err)
	require.Equal(t, "NESN:SIX", results[1].Symbol)
	var pe *provider.ProviderError
	require.ErrorAs(t, results[1].Err, &pe)
	require.Equal(t, 400, pe.Code)
}

func TestQuotes_ArrayResponse(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(respond(http.StatusOK, `[{"symbol":"AAPL","close":"1"},{"symbol":"MSFT","close":"2"}]`)).
		Times(1)

	client := newClient(t, httpClient)

	results, err := client.Quotes(t.Context(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "MSFT", results[1].Symbol)
	require.True(t, results[1].Quote.Close.Decimal.Equal(decimal.NewFromInt(2)))
}

func TestQuotes_ExchangeQualifiedEcho(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	gomock.InOrder(
		httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(respond(http.StatusOK, `{"symbol":"NESN","exchange":"SIX","close":"9000"}`)),
		httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(respond(http.StatusOK, `[{"symbol":"RKT","exchange":"LSE","close":"5400"},{"symbol":"AAPL","close":"1"}]`)),
	)

	client := newClient(t, httpClient)

	// Act: single object for one exchange-qualified symbol
	single, err := client.Quotes(t.Context(), []string{"NESN:SIX"})
	require.NoError(t, err)
	require.Equal(t, "NESN:SIX", single[0].Symbol)

	// Act: array echoing bare tickers
	many, err := client.Quotes(t.Context(), []string{"AAPL", "RKT:LSE"})
	require.NoError(t, err)
	require.Equal(t, "RKT:LSE", many[0].Symbol)
	require.Equal(t, "AAPL", many[1].Symbol)
}

func TestQuote_ErrorEnvelopes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		body        string
		code        int
		rateLimited bool
	}{
		{name: "error field", body: `{"error":"invalid symbol"}`},
		{name: "note field", body: `{"note":"Thank you for using our API"}`, rateLimited: true},
		{name: "code and message", body: `{"code":404,"message":"not found","status":"error"}`, code: 404},
		{name: "credits exhausted", body: `{"code":429,"message":"You have run out of API credits","status":"error"}`, code: 429, rateLimited: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			httpClient := NewMockHTTPClient(ctrl)
			httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(respond(http.StatusOK, tc.body)).Times(1)

			client := newClient(t, httpClient)

			_, err := client.Quote(t.Context(), "AAPL")

			var pe *provider.ProviderError
			require.ErrorAs(t, err, &pe)
			require.Equal(t, tc.code, pe.Code)
			require.Equal(t, tc.rateLimited, pe.RateLimited)
		})
	}
}

func TestQuote_NotConfigured(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: no request is made without a key
	httpClient.EXPECT().Do(gomock.Any()).Times(0)

	client, err := twelvedata.NewClient("", twelvedata.WithHTTPClient(httpClient))
	require.NoError(t, err)
	require.False(t, client.Configured())

	_, err = client.Quote(t.Context(), "AAPL")
	var ce *provider.ConfigurationError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, provider.Primary, ce.Vendor)
}

func TestQuote_TransportFailures(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	gomock.InOrder(
		httpClient.EXPECT().Do(gomock.Any()).Return(nil, errors.New("connection reset")),
		httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(respond(http.StatusBadGateway, "")),
		httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(respond(http.StatusTooManyRequests, "")),
		httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(respond(http.StatusOK, "not json")),
	)

	client := newClient(t, httpClient)

	_, err := client.Quote(t.Context(), "AAPL")
	var te *provider.TransportError
	require.ErrorAs(t, err, &te)
	require.Zero(t, te.Status)

	_, err = client.Quote(t.Context(), "AAPL")
	require.ErrorAs(t, err, &te)
	require.Equal(t, http.StatusBadGateway, te.Status)

	_, err = client.Quote(t.Context(), "AAPL")
	require.True(t, provider.IsRateLimited(err))

	_, err = client.Quote(t.Context(), "AAPL")
	var de *provider.DataUnavailableError
	require.ErrorAs(t, err, &de)
}

func TestQuote_ErrCreatingRequest(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().Do(gomock.Any()).Times(0)

	client := newClient(t, httpClient)

	_, err := client.Quote(t.Context(), "AAPL", twelvedata.WithBaseURL(string([]rune{0x7f})))
	require.Error(t, err)
}

func TestPrice(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "/price", req.URL.Path)
			return respond(http.StatusOK, `{"price":"12300.00"}`)(req)
		}).
		Times(1)

	client := newClient(t, httpClient)

	p, err := client.Price(t.Context(), "NESN:SIX")
	require.NoError(t, err)
	require.True(t, p.Price.Decimal.Equal(decimal.NewFromInt(12300)))
}

func TestDailySeries(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "/time_series", req.URL.Path)
			require.Equal(t, "1day", req.URL.Query().Get("interval"))
			require.Equal(t, "3", req.URL.Query().Get("outputsize"))
			return respond(http.StatusOK, `{
				"AAPL": {"meta":{"symbol":"AAPL","interval":"1day"},"values":[{"datetime":"2024-03-08","close":"1","volume":"300"},{"datetime":"2024-03-07","close":"1","volume":"100"}],"status":"ok"},
				"MSFT": {"meta":{"symbol":"MSFT","interval":"1day"},"values":[],"status":"ok"}
			}`)(req)
		}).
		Times(1)

	client := newClient(t, httpClient)

	results, err := client.DailySeries(t.Context(), []string{"AAPL", "MSFT"}, 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Series.Values, 2)
	require.True(t, results[0].Series.Values[0].Volume.Decimal.Equal(decimal.NewFromInt(300)))

	var de *provider.DataUnavailableError
	require.ErrorAs(t, results[1].Err, &de)
}

func TestProfileAndSearch(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	gomock.InOrder(
		httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(respond(http.StatusOK, `{"symbol":"AAPL","name":"Apple Inc","exchange":"NASDAQ","sector":"Technology"}`)),
		httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(respond(http.StatusOK, `{"data":[{"symbol":"RKT","instrument_name":"Reckitt Benckiser","exchange":"LSE","country":"United Kingdom","currency":"GBp","instrument_type":"Common Stock"}],"status":"ok"}`)),
	)

	client := newClient(t, httpClient)

	p, err := client.Profile(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, "Apple Inc", p.Name)

	matches, err := client.SymbolSearch(t.Context(), "reckitt")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "LSE", matches[0].Exchange)
}
