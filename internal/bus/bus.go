// Package bus implements the typed publish/subscribe broker that decouples
// producers (transaction writes, corrections) from consumers (watchdog,
// learning, forecasting).
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/varo-app/varo/internal/common"
	"github.com/varo-app/varo/internal/model"
	"github.com/varo-app/varo/internal/service"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varo_bus_events_published_total",
		Help: "Events published on the bus by type.",
	}, []string{"type"})

	handlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varo_bus_handler_panics_total",
		Help: "Subscriber handler panics recovered during dispatch.",
	}, []string{"type"})
)

// EventBus delivers events to registered handlers. Dispatch is synchronous
// fan-out with asynchronous execution: every handler invocation runs
// independently on the worker pool, so one slow handler cannot stall others.
// There is no persistence or replay; events undelivered at process restart
// are lost and durable state is re-derived by re-running scans.
type EventBus struct {
	ctx      context.Context
	pool     service.Pool
	subs     map[model.EventType]map[int]service.Handler
	wildcard map[int]service.Handler
	mu       sync.RWMutex
	nextID   int
	closed   bool
}

// New creates an event bus dispatching handler work onto the given pool.
// The context bounds handler execution lifetimes; canceling it stops
// delivery of not-yet-dispatched invocations.
func New(ctx context.Context, p service.Pool) *EventBus {
	return &EventBus{
		ctx:      ctx,
		pool:     p,
		subs:     make(map[model.EventType]map[int]service.Handler),
		wildcard: make(map[int]service.Handler),
	}
}

// Publish delivers the event to every subscriber of its type. It is
// fire-and-forget: handler failures are contained and never surface to the
// publisher. Missing envelope fields are filled in.
func (b *EventBus) Publish(event model.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = uuid.NewString()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		slog.Warn("Event dropped", "type", event.Type, "error", common.ErrBusClosed)
		return
	}
	handlers := make([]service.Handler, 0, len(b.subs[event.Type])+len(b.wildcard))
	for _, h := range b.subs[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.wildcard {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	eventsPublished.WithLabelValues(string(event.Type)).Inc()

	for _, handler := range handlers {
		b.dispatch(event, handler)
	}
}

// dispatch submits one handler invocation to the pool, isolating panics so
// the remaining handlers still receive the event.
func (b *EventBus) dispatch(event model.Event, handler service.Handler) {
	b.pool.Submit(b.ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				handlerPanics.WithLabelValues(string(event.Type)).Inc()
				slog.Error("Event handler panic",
					"type", event.Type,
					"correlation_id", event.CorrelationID,
					"panic", r)
			}
		}()

		handler(b.ctx, event)
	})
}

// Subscribe registers a handler for every future event of the given type and
// returns an unsubscribe capability.
func (b *EventBus) Subscribe(eventType model.EventType, handler service.Handler) service.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[int]service.Handler)
	}
	b.subs[eventType][id] = handler

	return &subscription{bus: b, eventType: eventType, id: id}
}

// SubscribeAll registers a handler for every future event regardless of type.
func (b *EventBus) SubscribeAll(handler service.Handler) service.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.wildcard[id] = handler

	return &subscription{bus: b, id: id, all: true}
}

// Close stops accepting publishes. Already-dispatched handler invocations
// finish on the pool.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// subscription implements service.Subscription.
type subscription struct {
	bus       *EventBus
	eventType model.EventType
	id        int
	all       bool
	once      sync.Once
}

// Unsubscribe removes the handler registration. Safe to call more than once.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		if s.all {
			delete(s.bus.wildcard, s.id)
			return
		}
		if handlers, ok := s.bus.subs[s.eventType]; ok {
			delete(handlers, s.id)
		}
	})
}
