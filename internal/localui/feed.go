// Package localui serves the local companion surface: a WebSocket feed of
// conversation snapshots, an HTTP snapshot endpoint, and the Prometheus
// /metrics endpoint.
//
// The feed is push-based. The engine publishes a snapshot after every state
// change and the [Feed] fans it out to connected subscribers. Slow
// subscribers are never allowed to stall the conversation: deliveries to a
// full subscriber buffer are dropped, and the subscriber catches up on the
// next publish.
package localui

import (
	"encoding/json"
	"fmt"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// further behind than this starts losing intermediate snapshots.
const subscriberBuffer = 8

// Feed fans conversation snapshots out to any number of subscribers and
// remembers the most recent one for late joiners. All methods are safe for
// concurrent use.
type Feed struct {
	mu   sync.Mutex
	last []byte
	subs map[chan []byte]struct{}
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan []byte]struct{})}
}

// Publish marshals v to JSON, stores it as the latest snapshot, and
// broadcasts it. Subscribers with a full buffer miss this delivery.
func (f *Feed) Publish(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("localui: marshal snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = data
	for ch := range f.subs {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Last returns the most recently published snapshot, or nil when nothing
// has been published yet.
func (f *Feed) Last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
func (f *Feed) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
