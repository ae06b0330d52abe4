package redissink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketdata/internal/events"
	"marketdata/internal/provider"
)

func update(symbol string, seq uint64) events.PriceUpdate {
	return events.PriceUpdate{
		Quote: provider.Quote{
			OriginalSymbol: symbol,
			Price:          decimal.NewNullDecimal(decimal.NewFromInt(123)),
			Source:         provider.SourceWebsocket,
		},
		Seq: seq,
	}
}

func TestWrite_SetsSnapshotAndPublishes(t *testing.T) {
	t.Parallel()

	// Arrange
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sub := rdb.Subscribe(t.Context(), "quotes.NESN SW")
	defer sub.Close()
	_, err := sub.Receive(t.Context())
	require.NoError(t, err)

	sink := New(rdb, time.Minute, zap.NewNop())

	// Act
	require.NoError(t, sink.Write(t.Context(), update("NESN SW", 4)))

	// Assert: snapshot key with TTL
	raw, err := mr.Get("quote:NESN SW")
	require.NoError(t, err)
	var got events.PriceUpdate
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	require.Equal(t, uint64(4), got.Seq)
	require.Equal(t, time.Minute, mr.TTL("quote:NESN SW"))

	// Assert: pub/sub message
	select {
	case msg := <-sub.Channel():
		require.Equal(t, "quotes.NESN SW", msg.Channel)
		require.Equal(t, raw, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestRun_DrainsUntilClosed(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sink := New(rdb, time.Minute, zap.NewNop())
	updates := make(chan events.PriceUpdate, 2)
	updates <- update("AAPL", 1)
	updates <- update("MSFT", 2)
	close(updates)

	done := make(chan struct{})
	go func() {
		sink.Run(context.Background(), updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	require.True(t, mr.Exists("quote:AAPL"))
	require.True(t, mr.Exists("quote:MSFT"))
}

func TestWrite_ServerDown(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	sink := New(rdb, time.Minute, zap.NewNop())
	require.Error(t, sink.Write(t.Context(), update("AAPL", 1)))
}
