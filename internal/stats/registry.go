// Package stats holds the process-wide counters for the push pipeline. The
// registry is mutated only by the engine's own operations and exposed
// read-only through Snapshot (and optionally Prometheus).
package stats

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a read-only view of the counters. Counters are monotonically
// increasing for the lifetime of the process.
type Snapshot struct {
	EventsReceived uint64    `json:"events_received"`
	BatchesFlushed uint64    `json:"batches_flushed"`
	MessagesSent   uint64    `json:"messages_sent"`
	MessagesFailed uint64    `json:"messages_failed"`
	EnrichFailures uint64    `json:"enrich_failures"`
	LastEventAt    time.Time `json:"last_event_at"`
}

// Registry is safe for concurrent use from any number of producers and
// flush goroutines. No operation blocks or fails.
type Registry struct {
	received   atomic.Uint64
	flushed    atomic.Uint64
	sent       atomic.Uint64
	failed     atomic.Uint64
	enrichFail atomic.Uint64
	lastEvent  atomic.Int64 // unix nanos, 0 = never

	// Optional Prometheus mirrors. Nil when metrics are disabled.
	promReceived   prometheus.Counter
	promFlushed    prometheus.Counter
	promSent       prometheus.Counter
	promFailed     prometheus.Counter
	promEnrichFail prometheus.Counter
}

func New() *Registry { return &Registry{} }

// EnableMetrics registers Prometheus counters mirroring the registry. It
// must be called at most once, before the pipeline starts.
func (r *Registry) EnableMetrics(reg prometheus.Registerer) error {
	mk := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hookpush",
			Name:      name,
			Help:      help,
		})
	}
	r.promReceived = mk("events_received_total", "Webhook events accepted by the engine")
	r.promFlushed = mk("batches_flushed_total", "Pending batches flushed")
	r.promSent = mk("messages_sent_total", "Messages delivered to the chat sink")
	r.promFailed = mk("messages_failed_total", "Messages the chat sink rejected")
	r.promEnrichFail = mk("enrich_failures_total", "Summarizer calls that timed out or errored")

	for _, c := range []prometheus.Collector{r.promReceived, r.promFlushed, r.promSent, r.promFailed, r.promEnrichFail} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) RecordReceived() {
	r.received.Add(1)
	r.lastEvent.Store(time.Now().UnixNano())
	if r.promReceived != nil {
		r.promReceived.Inc()
	}
}

// RecordFlush records one flush of a batch containing n events.
func (r *Registry) RecordFlush(n int) {
	if n <= 0 {
		return
	}
	r.flushed.Add(1)
	if r.promFlushed != nil {
		r.promFlushed.Inc()
	}
}

func (r *Registry) RecordSent(ok bool) {
	if ok {
		r.sent.Add(1)
		if r.promSent != nil {
			r.promSent.Inc()
		}
		return
	}
	r.failed.Add(1)
	if r.promFailed != nil {
		r.promFailed.Inc()
	}
}

func (r *Registry) RecordEnrichFailure() {
	r.enrichFail.Add(1)
	if r.promEnrichFail != nil {
		r.promEnrichFail.Inc()
	}
}

func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		EventsReceived: r.received.Load(),
		BatchesFlushed: r.flushed.Load(),
		MessagesSent:   r.sent.Load(),
		MessagesFailed: r.failed.Load(),
		EnrichFailures: r.enrichFail.Load(),
	}
	if ns := r.lastEvent.Load(); ns != 0 {
		s.LastEventAt = time.Unix(0, ns)
	}
	return s
}
