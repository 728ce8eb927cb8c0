// Package fanout delivers created signals to live subscribers.  Publish is a
// non-blocking send into a bounded buffer; a single worker forwards each
// event to every sink with a per-sink timeout.  A full buffer, a timeout or
// a sink error drops the event for that sink and is logged, never surfaced
// to the caller.
package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
	"github.com/iliyamo/beacon-signal-engine/internal/queue"
	"github.com/iliyamo/beacon-signal-engine/internal/safego"
	"github.com/iliyamo/beacon-signal-engine/internal/telemetry"
)

// Sink is one delivery target.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev queue.SignalCreatedEvent) error
}

// Bus is the bounded queue between the write path and the sinks.
type Bus struct {
	events  chan queue.SignalCreatedEvent
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewBus starts the worker.  Call Close to drain and stop it.
func NewBus(buffer int, timeout time.Duration, sinks ...Sink) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	b := &Bus{
		events:  make(chan queue.SignalCreatedEvent, buffer),
		sinks:   sinks,
		timeout: timeout,
		now:     time.Now,
		log:     telemetry.Component("fanout"),
		done:    make(chan struct{}),
	}
	safego.Go(b.run)
	return b
}

// Publish enqueues post for city without blocking.
func (b *Bus) Publish(city string, post model.EphemeralPost) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		telemetry.FanoutDroppedTotal.WithLabelValues("bus").Inc()
		return
	}
	select {
	case b.events <- queue.NewSignalCreated(city, post, b.now()):
	default:
		telemetry.FanoutDroppedTotal.WithLabelValues("bus").Inc()
		b.log.Warn("fan-out buffer full, dropping signal", "post_id", post.ID, "city", city)
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for ev := range b.events {
		for _, s := range b.sinks {
			b.deliver(s, ev)
		}
	}
}

func (b *Bus) deliver(s Sink, ev queue.SignalCreatedEvent) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.FanoutDroppedTotal.WithLabelValues(s.Name()).Inc()
			b.log.Error("fan-out sink panicked", "sink", s.Name(), "post_id", ev.Post.ID, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := s.Deliver(ctx, ev); err != nil {
		telemetry.FanoutDroppedTotal.WithLabelValues(s.Name()).Inc()
		b.log.Warn("fan-out delivery failed", "sink", s.Name(), "post_id", ev.Post.ID, "city", ev.City, "error", err)
		return
	}
	telemetry.FanoutPublishedTotal.WithLabelValues(s.Name()).Inc()
}

// Close stops accepting events and waits until buffered ones are delivered
// or ctx is done.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	b.mu.Unlock()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
