// Package maintenance runs the scheduled housekeeping jobs: a daily stats
// report posted to the log chat and retention pruning of the delivery audit
// trail.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"hookpush/internal/stats"
	"hookpush/internal/storage"
	kit "hookpush/internal/transport"
	logx "hookpush/pkg/logx"
)

type Config struct {
	Enabled bool
	// DailyReportCron is a standard 5-field cron spec. Empty means 09:00.
	DailyReportCron string
	// AuditRetentionDays prunes delivery records older than this. 0 keeps
	// everything.
	AuditRetentionDays int
	// Timezone for the cron schedule. Empty means local time.
	Timezone string
	// ReportTo receives the daily report; usually the log chat.
	ReportTo string
}

type Service struct {
	cfg   Config
	c     *cron.Cron
	stats *stats.Registry
	store storage.Store
	sink  kit.Adapter
	log   logx.Logger

	last stats.Snapshot
}

func New(cfg Config, st *stats.Registry, store storage.Store, sink kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		stats: st,
		store: store,
		sink:  sink,
		log:   log.With(logx.String("comp", "maintenance")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("maintenance timezone %q: %w", tz, err)
		}
		loc = l
	}

	spec := strings.TrimSpace(s.cfg.DailyReportCron)
	if spec == "" {
		spec = "0 9 * * *"
	}

	s.c = cron.New(cron.WithLocation(loc))
	if _, err := s.c.AddFunc(spec, s.runDailyReport); err != nil {
		return fmt.Errorf("daily report cron %q: %w", spec, err)
	}
	if s.cfg.AuditRetentionDays > 0 && s.store != nil {
		// Prune shortly after midnight, before the day's traffic ramps up.
		if _, err := s.c.AddFunc("10 0 * * *", s.runPrune); err != nil {
			return fmt.Errorf("audit prune cron: %w", err)
		}
	}
	s.c.Start()
	s.log.Info("maintenance scheduled",
		logx.String("daily_report", spec),
		logx.Int("audit_retention_days", s.cfg.AuditRetentionDays))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) runDailyReport() {
	if s.stats == nil || s.sink == nil || s.cfg.ReportTo == "" {
		return
	}
	target, err := kit.ParseTarget(s.cfg.ReportTo)
	if err != nil {
		s.log.Warn("daily report target invalid", logx.Err(err))
		return
	}

	cur := s.stats.Snapshot()
	text := s.formatReport(cur)
	s.last = cur

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.sink.SendText(ctx, target, text, nil); err != nil {
		s.log.Warn("daily report send failed", logx.Err(err))
		return
	}
	s.log.Info("daily report sent")
}

func (s *Service) formatReport(cur stats.Snapshot) string {
	var b strings.Builder
	b.Grow(512)
	b.WriteString("📊 Daily Push Report\n")
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	b.WriteString(fmt.Sprintf("Received: %d (+%d)\n", cur.EventsReceived, cur.EventsReceived-s.last.EventsReceived))
	b.WriteString(fmt.Sprintf("Batches: %d (+%d)\n", cur.BatchesFlushed, cur.BatchesFlushed-s.last.BatchesFlushed))
	b.WriteString(fmt.Sprintf("Sent: %d (+%d)\n", cur.MessagesSent, cur.MessagesSent-s.last.MessagesSent))
	if cur.MessagesFailed > 0 {
		b.WriteString(fmt.Sprintf("Failed: %d (+%d)\n", cur.MessagesFailed, cur.MessagesFailed-s.last.MessagesFailed))
	}
	if cur.EnrichFailures > 0 {
		b.WriteString(fmt.Sprintf("AI failures: %d\n", cur.EnrichFailures))
	}
	if !cur.LastEventAt.IsZero() {
		b.WriteString("Last event: " + cur.LastEventAt.Format("01/02 15:04"))
	}
	return b.String()
}

func (s *Service) runPrune() {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.AuditRetentionDays)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		s.log.Warn("audit prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("audit pruned", logx.Int("removed", n))
	}
}
