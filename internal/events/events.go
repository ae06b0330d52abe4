package events

import (
	"sync"
	"time"

	"marketdata/internal/provider"
)

// PriceUpdate is published for every accepted cache write.
type PriceUpdate struct {
	Quote provider.Quote `json:"quote"`
	Seq   uint64         `json:"seq"`
}

// ConnectionStatus is published on every streaming state transition.
type ConnectionStatus struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// SubscriptionStatus carries the accumulated subscribe outcomes since the
// last reconnect.
type SubscriptionStatus struct {
	Subscribed    int      `json:"subscribed"`
	Succeeded     int      `json:"succeeded"`
	Failed        int      `json:"failed"`
	FailedSymbols []string `json:"failed_symbols"`
}

// Topic fans events of one kind out to subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the event.
type Topic[T any] struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]chan T
	closed bool
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.next
	t.next++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers v to every subscriber with buffer room and reports how
// many received it.
func (t *Topic[T]) Publish(v T) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	delivered := 0
	for _, ch := range t.subs {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Close closes every subscriber channel; later subscriptions get a closed channel.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

// Hub holds one topic per event kind.
type Hub struct {
	Prices        *Topic[PriceUpdate]
	Connection    *Topic[ConnectionStatus]
	Subscriptions *Topic[SubscriptionStatus]
}

func NewHub() *Hub {
	return &Hub{
		Prices:        NewTopic[PriceUpdate](),
		Connection:    NewTopic[ConnectionStatus](),
		Subscriptions: NewTopic[SubscriptionStatus](),
	}
}

func (h *Hub) Close() {
	h.Prices.Close()
	h.Connection.Close()
	h.Subscriptions.Close()
}
