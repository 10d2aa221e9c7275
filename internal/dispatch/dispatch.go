// Package dispatch delivers flushed batches to the chat sink.
//
// The dispatcher is the single consumer of the engine's flush output. It
// applies the merge policy, runs optional AI enrichment, renders and sends.
// A failed send is terminal for the unit: it is logged and counted, never
// requeued.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hookpush/internal/event"
	"hookpush/internal/eventbus"
	"hookpush/internal/merge"
	"hookpush/internal/render"
	"hookpush/internal/stats"
	kit "hookpush/internal/transport"
	logx "hookpush/pkg/logx"
)

const defaultSendTimeout = 15 * time.Second

type Config struct {
	// RatePerSec caps outbound sends. 0 disables the limiter.
	RatePerSec float64
	// SendTimeout bounds a single send attempt.
	SendTimeout time.Duration
}

// Result describes one completed send attempt. It is published on the bus
// for the audit recorder and anything else that watches deliveries.
type Result struct {
	At             time.Time
	TraceID        string
	DestinationKey string
	Kind           event.SourceKind
	Merged         bool
	Events         int
	OK             bool
	Err            string
	Took           time.Duration
}

type Dispatcher struct {
	mu          sync.Mutex
	renderer    *render.Renderer
	limiter     *rate.Limiter
	sendTimeout time.Duration

	gateway Enricher
	sink    kit.Adapter
	stats   *stats.Registry
	bus     eventbus.Bus
	log     logx.Logger
}

// Enricher is the summarizer gateway seam; tests plug in fakes.
type Enricher interface {
	Enrich(ctx context.Context, u event.Unit) event.Unit
}

func New(cfg Config, r *render.Renderer, gw Enricher, sink kit.Adapter, st *stats.Registry, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		gateway: gw,
		sink:    sink,
		stats:   st,
		bus:     bus,
		log:     log.With(logx.String("comp", "dispatch")),
	}
	d.apply(cfg, r)
	return d
}

// Reconfigure swaps rate limit, send timeout and renderer on hot reload.
func (d *Dispatcher) Reconfigure(cfg Config, r *render.Renderer) {
	d.mu.Lock()
	d.apply(cfg, r)
	d.mu.Unlock()
}

func (d *Dispatcher) apply(cfg Config, r *render.Renderer) {
	if r != nil {
		d.renderer = r
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	d.sendTimeout = cfg.SendTimeout
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	} else {
		d.limiter = nil
	}
}

func (d *Dispatcher) snapshot() (*render.Renderer, *rate.Limiter, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.renderer, d.limiter, d.sendTimeout
}

// Flush handles one flushed batch for one destination key.
func (d *Dispatcher) Flush(ctx context.Context, key string, events []event.Normalized) {
	if len(events) == 0 {
		return
	}
	if d.stats != nil {
		d.stats.RecordFlush(len(events))
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{
			Type: eventbus.TopicBatchFlushed,
			Data: map[string]any{"destination_key": key, "events": len(events)},
		})
	}

	units := merge.BuildUnits(events)
	d.log.Debug("batch flushed",
		logx.String("destination_key", key),
		logx.Int("events", len(events)),
		logx.Int("units", len(units)))

	for _, u := range units {
		d.sendUnit(ctx, u)
	}
}

func (d *Dispatcher) sendUnit(ctx context.Context, u event.Unit) {
	if d.gateway != nil {
		u = d.gateway.Enrich(ctx, u)
	}

	renderer, limiter, sendTimeout := d.snapshot()

	started := time.Now()
	err := d.deliver(ctx, renderer, limiter, sendTimeout, u)
	took := time.Since(started)

	res := Result{
		At:             started,
		TraceID:        unitTrace(u),
		DestinationKey: u.DestinationKey,
		Kind:           u.Kind,
		Merged:         u.Merged(),
		Events:         len(u.Events),
		OK:             err == nil,
		Took:           took,
	}
	if err != nil {
		res.Err = err.Error()
	}

	if d.stats != nil {
		d.stats.RecordSent(err == nil)
	}
	topic := eventbus.TopicDispatchSent
	if err != nil {
		topic = eventbus.TopicDispatchFail
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: topic, Data: res})
	}

	if err != nil {
		d.log.Error("send failed",
			logx.String("trace_id", res.TraceID),
			logx.String("destination_key", u.DestinationKey),
			logx.String("kind", string(u.Kind)),
			logx.Int("events", len(u.Events)),
			logx.Duration("took", took),
			logx.Err(err))
		return
	}
	d.log.Info("sent",
		logx.String("trace_id", res.TraceID),
		logx.String("destination_key", u.DestinationKey),
		logx.String("kind", string(u.Kind)),
		logx.Bool("merged", u.Merged()),
		logx.Int("events", len(u.Events)),
		logx.Duration("took", took))
}

func (d *Dispatcher) deliver(ctx context.Context, renderer *render.Renderer, limiter *rate.Limiter, sendTimeout time.Duration, u event.Unit) error {
	if d.sink == nil {
		return fmt.Errorf("no delivery sink configured")
	}
	target, err := kit.ParseTarget(u.DestinationKey)
	if err != nil {
		return fmt.Errorf("bad destination key %q: %w", u.DestinationKey, err)
	}
	msg, err := renderer.Render(u)
	if err != nil {
		return err
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return d.sink.SendText(sctx, target, msg.Text, &kit.SendOptions{
		ParseMode:      msg.ParseMode,
		DisablePreview: msg.DisablePreview,
	})
}

func unitTrace(u event.Unit) string {
	if len(u.Events) == 0 {
		return ""
	}
	return u.Events[0].TraceID
}
