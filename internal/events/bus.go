package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// serialQueueSize bounds the events waiting for one ordered subscriber.
// Publishers block once it is full.
const serialQueueSize = 1024

// EventBus is an asynchronous publish-subscribe hub. The server core
// publishes connection, transfer and session events; logging, metrics,
// telemetry and the admin API subscribe to them.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	queues   map[string]*serialQueue
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
	queue   *serialQueue
}

type delivery struct {
	ctx   context.Context
	entry handlerEntry
	event Event
}

// serialQueue feeds every handler registered under one ordered
// subscriber name from a single goroutine.
type serialQueue struct {
	ch      chan delivery
	pending sync.WaitGroup
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		queues:   make(map[string]*serialQueue),
		stopCh:   make(chan struct{}),
	}
}

// SubscribeAll registers the same handler for every known event type.
// The handler sees events in publish order.
func (eb *EventBus) SubscribeAll(name string, handler HandlerFunc) {
	for _, t := range AllEventTypes {
		eb.SubscribeOrdered(t, name, handler)
	}
}

// UnsubscribeAll removes a handler registered with SubscribeAll.
func (eb *EventBus) UnsubscribeAll(name string) {
	for _, t := range AllEventTypes {
		eb.Unsubscribe(t, name)
	}
}

// Publish stamps and emits an event built from its parts.
func (eb *EventBus) Publish(eventType EventType, source string, payload interface{}) {
	eb.Emit(context.Background(), Event{
		Type:    eventType,
		Source:  source,
		Time:    time.Now(),
		Payload: payload,
	})
}

// Subscribe registers a handler function for a specific event type.
// The name identifies the handler in logs and for Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeOrdered registers a handler like Subscribe, but all handlers
// sharing name run one at a time, in the order their events were
// emitted. Use it for subscribers whose output must follow the sequence
// of events, such as logs and feeds.
func (eb *EventBus) SubscribeOrdered(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.stopped {
		return
	}

	q, ok := eb.queues[name]
	if !ok {
		q = &serialQueue{ch: make(chan delivery, serialQueueSize)}
		eb.queues[name] = q
		go eb.drain(q)
	}
	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
		queue:   q,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event in order")
}

func (eb *EventBus) drain(q *serialQueue) {
	for d := range q.ch {
		dispatch(d.ctx, d.entry, d.event)
		eb.wg.Done()
	}
}

// retire closes q once the deliveries already admitted have been queued.
// Callers hold eb.mu.
func (eb *EventBus) retire(name string, q *serialQueue) {
	delete(eb.queues, name)
	go func() {
		q.pending.Wait()
		close(q.ch)
	}()
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered

	if q, ok := eb.queues[name]; ok && !eb.queueInUse(q) {
		eb.retire(name, q)
	}

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

func (eb *EventBus) queueInUse(q *serialQueue) bool {
	for _, handlers := range eb.handlers {
		for _, h := range handlers {
			if h.queue == q {
				return true
			}
		}
	}
	return false
}

// handlersFor returns a copy of the handlers of t, or nil once stopped.
func (eb *EventBus) handlersFor(t EventType) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return nil
	}
	return append([]handlerEntry(nil), eb.handlers[t]...)
}

// dispatch runs one handler, turning a panic into an error.
func dispatch(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
			err = fmt.Errorf("handler %s panicked: %v", h.name, r)
		}
	}()
	if err := h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
		return err
	}
	return nil
}

// Emit delivers an event to every handler of its type. Plain handlers
// each run in their own goroutine and see events in no particular order;
// ordered handlers receive them through their subscriber's queue.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	// Stop waits on wg and retiring a queue waits on its pending count,
	// so both must move under the read lock that proves they are live.
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return
	}
	handlers := append([]handlerEntry(nil), eb.handlers[event.Type]...)
	eb.wg.Add(len(handlers))
	for _, h := range handlers {
		if h.queue != nil {
			h.queue.pending.Add(1)
		}
	}
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		h := h
		if h.queue != nil {
			h.queue.ch <- delivery{ctx: ctx, entry: h, event: event}
			h.queue.pending.Done()
			continue
		}
		go func() {
			defer eb.wg.Done()
			dispatch(ctx, h, event)
		}()
	}
}

// EmitSync delivers an event and waits for every handler, ordered ones
// included, running each directly. It returns the first error, a
// recovered panic included.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	handlers := eb.handlersFor(event.Type)
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for _, h := range handlers {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dispatch(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// Stop signals the EventBus to stop accepting new events and waits
// for all in-flight handlers, queued ordered deliveries included, to
// complete. Stopping twice is a no-op.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for name, q := range eb.queues {
		eb.retire(name, q)
	}
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
