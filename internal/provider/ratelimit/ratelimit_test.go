package ratelimit

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingClient struct{ calls atomic.Int32 }

func (c *countingClient) Do(*http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func newRequest(t *testing.T, ctx context.Context) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost/quote", http.NoBody)
	require.NoError(t, err)
	return req
}

func TestTokenBucket_BurstThenWait(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1000, 2)

	// Act: the initial burst is available immediately.
	require.NoError(t, tb.Wait(t.Context()))
	require.NoError(t, tb.Wait(t.Context()))

	// Act: the third token needs a refill (~1ms at 1000/s).
	start := time.Now()
	require.NoError(t, tb.Wait(t.Context()))
	require.Less(t, time.Since(start), time.Second)
}

func TestTokenBucket_CanceledContext(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(0.001, 1)
	require.NoError(t, tb.Wait(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	// Assert: an empty bucket with a canceled context returns immediately.
	err := tb.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLimited_GatesRequests(t *testing.T) {
	t.Parallel()

	next := &countingClient{}
	client := &Limited{Next: next, TB: NewTokenBucket(0.001, 1)}

	_, err := client.Do(newRequest(t, t.Context()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Do(newRequest(t, ctx))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, 1, next.calls.Load())
}

func TestMinInterval_SpacesRequests(t *testing.T) {
	t.Parallel()

	next := &countingClient{}
	client := &MinInterval{Next: next, Interval: 30 * time.Millisecond}

	start := time.Now()
	for range 3 {
		_, err := client.Do(newRequest(t, t.Context()))
		require.NoError(t, err)
	}

	// Assert: three requests need at least two intervals.
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	require.EqualValues(t, 3, next.calls.Load())
}

func TestWrap_Precedence(t *testing.T) {
	t.Parallel()

	next := &countingClient{}

	_, ok := Wrap(next, 8, 1, time.Second).(*Limited)
	require.True(t, ok, "rpm takes precedence")

	_, ok = Wrap(next, 0, 1, time.Second).(*MinInterval)
	require.True(t, ok, "min interval when no rpm")

	require.Same(t, next, Wrap(next, 0, 0, 0))
}
