package fanout

import (
	"context"
	"sync"

	"github.com/iliyamo/beacon-signal-engine/internal/geo"
	"github.com/iliyamo/beacon-signal-engine/internal/model"
	"github.com/iliyamo/beacon-signal-engine/internal/queue"
	"github.com/iliyamo/beacon-signal-engine/internal/telemetry"
)

const subscriberBuffer = 16

// Hub keeps the in-process, city-scoped subscriber channels behind the live
// stream.  There is no history: a subscriber only sees posts delivered after
// it subscribed.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan model.EphemeralPost]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan model.EphemeralPost]struct{}{}}
}

func (h *Hub) Name() string { return "hub" }

// Subscribe returns a channel of posts for city and a cancel func that
// unsubscribes and closes the channel.
func (h *Hub) Subscribe(city string) (<-chan model.EphemeralPost, func()) {
	key := geo.CityKey(city)
	ch := make(chan model.EphemeralPost, subscriberBuffer)

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = map[chan model.EphemeralPost]struct{}{}
	}
	h.subs[key][ch] = struct{}{}
	h.mu.Unlock()
	telemetry.StreamSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], ch)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(ch)
			telemetry.StreamSubscribers.Dec()
		})
	}
}

// Deliver hands the post to every subscriber of its city.  A subscriber
// whose buffer is full misses the post.
func (h *Hub) Deliver(_ context.Context, ev queue.SignalCreatedEvent) error {
	h.Broadcast(ev.City, ev.Post)
	return nil
}

// Broadcast is Deliver without the event envelope; the broker consumer uses
// it for signals created on other replicas.
func (h *Hub) Broadcast(city string, post model.EphemeralPost) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[geo.CityKey(city)] {
		select {
		case ch <- post:
		default:
			telemetry.FanoutDroppedTotal.WithLabelValues("hub").Inc()
		}
	}
}

// Subscribers returns the number of subscribers of city.
func (h *Hub) Subscribers(city string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[geo.CityKey(city)])
}
