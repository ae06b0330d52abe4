package ratelimit

import (
	"net/http"
	"sync"
	"time"
)

// HTTPClient is the request surface shared by every vendor client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// MinInterval wraps an HTTPClient and enforces a minimum time between requests.
// Concurrent requests queue behind each other, or return early if the request
// context is canceled.
type MinInterval struct {
	Next     HTTPClient
	Interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func (m *MinInterval) Do(req *http.Request) (*http.Response, error) {
	if m.Interval > 0 {
		// reserve a slot so concurrent callers are spaced out
		m.mu.Lock()
		now := time.Now()
		slot := m.next
		if slot.Before(now) {
			slot = now
		}
		m.next = slot.Add(m.Interval)
		m.mu.Unlock()

		if wait := time.Until(slot); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-t.C:
			}
		}
	}
	return m.Next.Do(req)
}
