package maintenance

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"hookpush/internal/stats"
	kit "hookpush/internal/transport"
	logx "hookpush/pkg/logx"
)

type fakeSink struct {
	mu      sync.Mutex
	targets []kit.ChatTarget
	texts   []string
}

func (f *fakeSink) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, to)
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSink) Stop(context.Context) error { return nil }

func TestFormatReportDeltas(t *testing.T) {
	t.Parallel()
	reg := stats.New()
	s := New(Config{ReportTo: "-100123"}, reg, nil, &fakeSink{}, logx.Nop())

	s.last = stats.Snapshot{EventsReceived: 10, MessagesSent: 8}
	cur := stats.Snapshot{
		EventsReceived: 25,
		BatchesFlushed: 4,
		MessagesSent:   12,
		MessagesFailed: 1,
		LastEventAt:    time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC),
	}

	text := s.formatReport(cur)
	for _, want := range []string{
		"📊 Daily Push Report",
		"Received: 25 (+15)",
		"Batches: 4 (+4)",
		"Sent: 12 (+4)",
		"Failed: 1 (+1)",
		"Last event: 03/14 15:09",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("report missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "AI failures") {
		t.Fatalf("zero enrich failures must be omitted:\n%s", text)
	}
}

func TestRunDailyReportSendsAndAdvancesBaseline(t *testing.T) {
	t.Parallel()
	reg := stats.New()
	reg.RecordReceived()
	reg.RecordReceived()

	sink := &fakeSink{}
	s := New(Config{ReportTo: "-100123:7"}, reg, nil, sink, logx.Nop())

	s.runDailyReport()
	if len(sink.texts) != 1 {
		t.Fatalf("sends = %d, want 1", len(sink.texts))
	}
	if sink.targets[0].ChatID != -100123 || sink.targets[0].ThreadID != 7 {
		t.Fatalf("target = %+v", sink.targets[0])
	}
	if !strings.Contains(sink.texts[0], "Received: 2 (+2)") {
		t.Fatalf("first report:\n%s", sink.texts[0])
	}

	// Second run with no new traffic reports zero delta.
	s.runDailyReport()
	if !strings.Contains(sink.texts[1], "Received: 2 (+0)") {
		t.Fatalf("second report:\n%s", sink.texts[1])
	}
}

func TestRunDailyReportBadTarget(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	s := New(Config{ReportTo: "not-a-chat"}, stats.New(), nil, sink, logx.Nop())
	s.runDailyReport()
	if len(sink.texts) != 0 {
		t.Fatalf("sends = %d, want 0", len(sink.texts))
	}
}

func TestStartDisabledAndBadInputs(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, nil, nil, nil, logx.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("disabled Start: %v", err)
	}
	s.Stop(context.Background())

	s = New(Config{Enabled: true, Timezone: "Mars/Olympus"}, nil, nil, nil, logx.Nop())
	if err := s.Start(); err == nil {
		t.Fatal("expected timezone error")
	}

	s = New(Config{Enabled: true, DailyReportCron: "not a cron"}, nil, nil, nil, logx.Nop())
	if err := s.Start(); err == nil {
		t.Fatal("expected cron spec error")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, stats.New(), nil, &fakeSink{}, logx.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}
