// Package engine implements the batching core: per-destination sliding
// debounce windows over normalized events.
//
// Each destination key owns an independent window. Every Submit re-arms the
// key's flush deadline, so a burst collapses into one batch; an optional
// MaxWait cap bounds how long the oldest event can sit while a burst keeps
// the window sliding. Flushed batches are handed to the sink; the engine
// never blocks the caller on delivery work.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hookpush/internal/event"
	"hookpush/internal/eventbus"
	"hookpush/internal/stats"
	logx "hookpush/pkg/logx"
)

type Config struct {
	// Interval is the debounce window. <= 0 disables batching: every event
	// flushes immediately on its own.
	Interval time.Duration
	// MaxWait caps the total age of a batch. 0 means uncapped.
	MaxWait time.Duration
}

// Sink consumes flushed batches. Calls may run concurrently across keys but
// are serialized per key by construction (a key's batch is removed from the
// active map before its sink call starts).
type Sink interface {
	Flush(ctx context.Context, key string, events []event.Normalized)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, key string, events []event.Normalized)

func (f SinkFunc) Flush(ctx context.Context, key string, events []event.Normalized) {
	f(ctx, key, events)
}

// KeyStatus is one entry of the accumulating-keys view.
type KeyStatus struct {
	Key       string        `json:"key"`
	Events    int           `json:"events"`
	FirstAt   time.Time     `json:"first_at"`
	Remaining time.Duration `json:"remaining"`
}

type batch struct {
	events  []event.Normalized
	firstAt time.Time
	dueAt   time.Time
	timer   *time.Timer
	// gen invalidates a timer that fired while Submit was re-arming it.
	gen uint64
}

type Engine struct {
	mu      sync.Mutex
	cfg     Config
	active  map[string]*batch
	stopped bool

	sink  Sink
	stats *stats.Registry
	bus   eventbus.Bus
	log   logx.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, sink Sink, st *stats.Registry, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		active: make(map[string]*batch),
		sink:   sink,
		stats:  st,
		bus:    bus,
		log:    log.With(logx.String("comp", "engine")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Reconfigure swaps the window settings. Already-armed deadlines keep their
// schedule; the next Submit on each key re-arms with the new values.
func (e *Engine) Reconfigure(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Submit accepts one normalized event. It never blocks on delivery and never
// rejects a well-formed event; a missing destination key or unknown kind is
// a contract violation and returns an error.
func (e *Engine) Submit(ev event.Normalized) error {
	if ev.DestinationKey == "" {
		return event.ErrNoDestination
	}
	if !ev.Kind.Valid() {
		return fmt.Errorf("unknown source kind %q", ev.Kind)
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	if e.stats != nil {
		e.stats.RecordReceived()
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{
			Type: eventbus.TopicEventReceived,
			Data: map[string]any{
				"trace_id":        ev.TraceID,
				"destination_key": ev.DestinationKey,
				"kind":            string(ev.Kind),
			},
		})
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return fmt.Errorf("engine is stopped")
	}
	cfg := e.cfg

	if cfg.Interval <= 0 {
		e.mu.Unlock()
		e.spawnFlush(ev.DestinationKey, []event.Normalized{ev})
		return nil
	}

	now := time.Now()
	key := ev.DestinationKey
	b := e.active[key]
	if b == nil {
		b = &batch{firstAt: now}
		e.active[key] = b
	}
	b.events = append(b.events, ev)

	due := now.Add(cfg.Interval)
	if cfg.MaxWait > 0 {
		if latest := b.firstAt.Add(cfg.MaxWait); due.After(latest) {
			due = latest
		}
	}
	b.dueAt = due
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	d := time.Until(due)
	if d < 0 {
		d = 0
	}
	b.timer = time.AfterFunc(d, func() { e.fire(key, gen) })
	e.mu.Unlock()
	return nil
}

// fire is the timer callback. The generation check discards a stale fire
// that lost the race against a concurrent Submit re-arm.
func (e *Engine) fire(key string, gen uint64) {
	e.mu.Lock()
	b := e.active[key]
	if b == nil || b.gen != gen || e.stopped {
		e.mu.Unlock()
		return
	}
	delete(e.active, key)
	events := b.events
	e.mu.Unlock()

	e.spawnFlush(key, events)
}

func (e *Engine) spawnFlush(key string, events []event.Normalized) {
	if len(events) == 0 || e.sink == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("flush panicked",
					logx.String("destination_key", key),
					logx.Any("panic", r))
			}
		}()
		e.sink.Flush(e.ctx, key, events)
	}()
}

// Status reports the currently accumulating keys, sorted by key for stable
// output.
func (e *Engine) Status() []KeyStatus {
	now := time.Now()
	e.mu.Lock()
	out := make([]KeyStatus, 0, len(e.active))
	for key, b := range e.active {
		rem := b.dueAt.Sub(now)
		if rem < 0 {
			rem = 0
		}
		out = append(out, KeyStatus{
			Key:       key,
			Events:    len(b.events),
			FirstAt:   b.firstAt,
			Remaining: rem,
		})
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Pending returns the total number of accumulating events across all keys.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, b := range e.active {
		n += len(b.events)
	}
	return n
}

// Stop drains: pending batches are flushed immediately, then in-flight sink
// calls are awaited until ctx expires. New submits are rejected after Stop.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	remaining := make(map[string][]event.Normalized, len(e.active))
	for key, b := range e.active {
		if b.timer != nil {
			b.timer.Stop()
		}
		remaining[key] = b.events
	}
	e.active = make(map[string]*batch)
	e.mu.Unlock()

	for key, events := range remaining {
		if e.sink != nil && len(events) > 0 {
			e.sink.Flush(ctx, key, events)
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
	e.cancel()
	return nil
}
