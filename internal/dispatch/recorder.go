package dispatch

import (
	"context"
	"time"

	"hookpush/internal/eventbus"
	"hookpush/internal/storage"
	logx "hookpush/pkg/logx"
)

// Recorder subscribes to delivery results on the bus and appends them to
// the audit store. It observes the pipeline from the outside; a slow or
// failing store never slows down dispatch.
type Recorder struct {
	bus   eventbus.Bus
	store storage.Store
	log   logx.Logger
}

func NewRecorder(bus eventbus.Bus, store storage.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{bus: bus, store: store, log: log.With(logx.String("comp", "audit"))}
}

// Run consumes bus events until ctx is done. Intended for a supervised
// goroutine.
func (r *Recorder) Run(ctx context.Context) {
	if r.bus == nil || r.store == nil {
		return
	}
	events, unsub := r.bus.Subscribe(128)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != eventbus.TopicDispatchSent && e.Type != eventbus.TopicDispatchFail {
				continue
			}
			res, ok := e.Data.(Result)
			if !ok {
				continue
			}
			r.append(ctx, res)
		}
	}
}

func (r *Recorder) append(ctx context.Context, res Result) {
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err := r.store.AppendDelivery(wctx, storage.DeliveryRecord{
		At:             res.At,
		TraceID:        res.TraceID,
		DestinationKey: res.DestinationKey,
		Kind:           string(res.Kind),
		Merged:         res.Merged,
		Events:         res.Events,
		OK:             res.OK,
		Error:          res.Err,
		TookMS:         res.Took.Milliseconds(),
	})
	if err != nil {
		r.log.Warn("audit append failed", logx.Err(err))
	}
}
