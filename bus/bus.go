// Package bus implements the in-process asynchronous pub/sub Event Bus
// with ordered per-topic delivery and cooperative
// backpressure, and a graceful drain-then-stop lifecycle.
//
// Grounded on gomind's core/async_task.go queue+worker split (a single
// dispatch loop draining a bounded channel, handlers running independently
// so one slow subscriber can't block delivery to the rest) and on
// resilience.CircuitBreaker's single-internal-lock state machine style —
// there is exactly one mutex guarding the bus's running/subscriber state,
// never a re-entrant one.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facilitycore/orchestrator/platform"
)

// Handler processes one Event. Handlers must not block the dispatch loop
// indefinitely; the bus runs each subscription's invocations one at a time,
// in order, on that subscription's own dedicated goroutine.
type Handler func(ctx context.Context, event platform.Event) error

// Config tunes the bus's lifecycle knobs.
type Config struct {
	// HighWaterMark bounds the number of enqueued-but-undelivered events.
	// Publish blocks (cooperative backpressure) once the queue is full.
	HighWaterMark int
	// ShutdownDeadline bounds how long Stop waits for the queue to drain.
	ShutdownDeadline time.Duration
	// HandlerSlowWarnMS is the threshold past which a still-running
	// handler is logged as slow (it is not cancelled unless Stop is in
	// progress).
	HandlerSlowWarnMS int64
}

// DefaultConfig returns the bus's hard-coded defaults (5s shutdown deadline).
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     1024,
		ShutdownDeadline:  5 * time.Second,
		HandlerSlowWarnMS: 2000,
	}
}

// subscription is one handler's private FIFO mailbox. Giving each handler
// its own buffered channel and a single dedicated goroutine means two
// events fanned out to the same handler are always delivered in the order
// dispatch() fanned them out, even though different handlers (and
// different subscriptions on the same topic) still run concurrently with
// each other.
type subscription struct {
	topic   platform.Topic
	handler Handler
	ch      chan platform.Event
}

// Bus is the Event Bus. Zero value is not usable; construct with New.
type Bus struct {
	cfg    Config
	logger platform.Logger
	metrics platform.MetricsSink

	mu          sync.Mutex
	running     bool
	subscribers map[platform.Topic][]*subscription
	queue       chan platform.Event
	dispatchWG  sync.WaitGroup
	handlersWG  sync.WaitGroup
	stopOnce    sync.Once
	stopCh      chan struct{}
}

// New constructs a Bus in the stopped state; call Start to begin
// dispatching.
func New(cfg Config, logger platform.Logger, metrics platform.MetricsSink) *Bus {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if metrics == nil {
		metrics = platform.NoOpMetricsSink{}
	}
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = DefaultConfig().HighWaterMark
	}
	if cfg.ShutdownDeadline <= 0 {
		cfg.ShutdownDeadline = DefaultConfig().ShutdownDeadline
	}
	if cfg.HandlerSlowWarnMS <= 0 {
		cfg.HandlerSlowWarnMS = DefaultConfig().HandlerSlowWarnMS
	}
	return &Bus{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		subscribers: make(map[platform.Topic][]*subscription),
	}
}

// Subscribe registers handler for topic. Multiple handlers may share a
// topic; a single event is handed to their mailboxes in registration
// order, but each handler runs on its own goroutine, so the order in which
// different handlers run for that event is not defined. handler runs on
// its own dedicated goroutine,
// processing its mailbox strictly in dispatch order. If the bus is already
// running, that goroutine starts immediately; otherwise it starts along
// with every other subscriber's when Start runs (and again on any later
// restart — Stop tears these goroutines down along with everything else).
func (b *Bus) Subscribe(topic platform.Topic, handler Handler) {
	b.mu.Lock()
	sub := &subscription{topic: topic, handler: handler}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	running := b.running
	if running {
		sub.ch = make(chan platform.Event, b.cfg.HighWaterMark)
	}
	b.mu.Unlock()

	if running {
		b.handlersWG.Add(1)
		go b.runSubscriber(sub)
	}
}

// runSubscriber drains sub's mailbox one event at a time until it is
// closed (by Stop, once the dispatch loop has wound down), giving this
// handler a strict FIFO view of the events fanned out to it.
func (b *Bus) runSubscriber(sub *subscription) {
	defer b.handlersWG.Done()
	for event := range sub.ch {
		b.runHandler(sub.handler, event)
	}
}

// Start begins the single dispatch loop. Idempotent: calling Start on an
// already-running bus is a no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.queue = make(chan platform.Event, b.cfg.HighWaterMark)
	b.stopCh = make(chan struct{})
	b.running = true
	b.stopOnce = sync.Once{}

	// (Re)start every subscriber's mailbox goroutine — covers both the
	// common case (subscriptions registered before the first Start) and a
	// restart after Stop closed the previous generation's channels.
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.ch = make(chan platform.Event, b.cfg.HighWaterMark)
			b.handlersWG.Add(1)
			go b.runSubscriber(sub)
		}
	}

	b.dispatchWG.Add(1)
	go b.dispatchLoop(b.queue, b.stopCh)
}

// IsRunning reports whether the bus currently accepts publishes.
func (b *Bus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Publish enqueues payload under topic and returns once enqueued — not once
// delivered. Blocks above the high-water mark (cooperative backpressure).
// Returns ErrBusStopped if the bus is not running.
func (b *Bus) Publish(ctx context.Context, topic platform.Topic, payload map[string]interface{}, requestID string) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return platform.NewFrameworkError("bus.Publish", "bus", platform.ErrBusStopped)
	}
	queue := b.queue
	b.mu.Unlock()

	event := platform.Event{
		Topic:       topic,
		Payload:     payload,
		RequestID:   requestID,
		PublishedAt: time.Now().UTC(),
	}

	select {
	case queue <- event:
		b.metrics.Counter("bus.events.published", "topic", string(topic))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainPending removes and returns every event currently buffered in the
// queue without dispatching it, for the State/Recovery Manager's
// graceful_shutdown to persist and system_recovery to later replay. All
// pending deliveries are abandoned, not awaited. Events already handed to
// a handler goroutine are not included; this only reclaims work the
// dispatch loop has not yet picked up.
func (b *Bus) DrainPending() []platform.Event {
	b.mu.Lock()
	queue := b.queue
	running := b.running
	b.mu.Unlock()
	if !running || queue == nil {
		return nil
	}

	var pending []platform.Event
	for {
		select {
		case event := <-queue:
			pending = append(pending, event)
		default:
			return pending
		}
	}
}

// Stop idempotently drains the queue (bounded by ShutdownDeadline), stops
// accepting new publishes, and returns once dispatch has wound down.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	stopCh := b.stopCh
	b.mu.Unlock()

	b.stopOnce.Do(func() {
		close(stopCh)
	})

	done := make(chan struct{})
	go func() {
		b.dispatchWG.Wait()

		// Safe to close every mailbox now: the dispatch loop has returned,
		// so nothing sends to sub.ch again. Each runSubscriber goroutine
		// drains whatever is already buffered, then exits.
		b.mu.Lock()
		for _, subs := range b.subscribers {
			for _, sub := range subs {
				close(sub.ch)
			}
		}
		b.mu.Unlock()

		b.handlersWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(b.cfg.ShutdownDeadline):
		b.logger.Warn("event bus shutdown deadline exceeded; some in-flight handlers were not awaited", map[string]interface{}{
			"shutdown_deadline_ms": b.cfg.ShutdownDeadline.Milliseconds(),
		})
	}
}

// dispatchLoop drains the queue in strict enqueue order. Event N+1's
// handlers are only started once event N has been pulled off the queue and
// fanned out, which is what gives per-topic FIFO dispatch-start ordering
// even though the handlers themselves run concurrently and may finish out
// of order.
func (b *Bus) dispatchLoop(queue chan platform.Event, stopCh chan struct{}) {
	defer b.dispatchWG.Done()

	for {
		select {
		case event := <-queue:
			b.dispatch(event)
		case <-stopCh:
			// Drain whatever is already enqueued, bounded by the
			// shutdown deadline, then stop taking new work.
			drainDeadline := time.Now().Add(b.cfg.ShutdownDeadline)
			for {
				select {
				case event := <-queue:
					b.dispatch(event)
				default:
					return
				}
				if time.Now().After(drainDeadline) {
					return
				}
			}
		}
	}
}

// dispatch fans event out to every subscriber of its topic by handing it to
// each subscriber's mailbox in registration order. This can block the
// dispatch loop if a subscriber's mailbox is full (the same cooperative
// backpressure Publish applies to the bus as a whole, now per handler), but
// never blocks on a slow handler mid-invocation — only on a backlog of
// undelivered events for that one handler.
func (b *Bus) dispatch(event platform.Event) {
	b.mu.Lock()
	subs := append([]*subscription(nil), b.subscribers[event.Topic]...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.ch <- event
	}
}

func (b *Bus) runHandler(handler Handler, event platform.Event) {
	start := time.Now()
	slowTimer := time.AfterFunc(time.Duration(b.cfg.HandlerSlowWarnMS)*time.Millisecond, func() {
		b.logger.Warn("event bus handler exceeded slow-warn threshold", map[string]interface{}{
			"topic":      string(event.Topic),
			"request_id": event.RequestID,
		})
	})
	defer slowTimer.Stop()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event bus handler panicked", map[string]interface{}{
				"topic":      string(event.Topic),
				"request_id": event.RequestID,
				"panic":      fmt.Sprintf("%v", r),
			})
			b.metrics.Counter("bus.handler.panics", "topic", string(event.Topic))
		}
	}()

	if err := handler(context.Background(), event); err != nil {
		b.logger.Error("event bus handler returned an error", map[string]interface{}{
			"topic":      string(event.Topic),
			"request_id": event.RequestID,
			"error":      err.Error(),
		})
		b.metrics.Counter("bus.handler.errors", "topic", string(event.Topic))
	}

	b.metrics.Histogram("bus.handler.duration_ms", float64(time.Since(start).Milliseconds()), "topic", string(event.Topic))
}
