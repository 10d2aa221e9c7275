package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "hookpush/pkg/logx"
)

func newFileStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "audit.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, filepath.Join(dir, "audit.deliveries.jsonl")
}

func rec(at time.Time, trace string, ok bool) DeliveryRecord {
	return DeliveryRecord{
		At:             at,
		TraceID:        trace,
		DestinationKey: "-100123",
		Kind:           "media",
		Events:         1,
		OK:             ok,
		TookMS:         42,
	}
}

func TestFileAppendAndRecent(t *testing.T) {
	t.Parallel()
	st, _ := newFileStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i, trace := range []string{"a", "b", "c"} {
		if err := st.AppendDelivery(ctx, rec(base.Add(time.Duration(i)*time.Minute), trace, true)); err != nil {
			t.Fatalf("AppendDelivery: %v", err)
		}
	}

	got, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].TraceID != "c" || got[1].TraceID != "b" {
		t.Fatalf("order = %q, %q", got[0].TraceID, got[1].TraceID)
	}
	if got[0].DestinationKey != "-100123" || got[0].TookMS != 42 {
		t.Fatalf("record = %+v", got[0])
	}
}

func TestFileRecentDefaultLimit(t *testing.T) {
	t.Parallel()
	st, _ := newFileStore(t)
	ctx := context.Background()

	if err := st.AppendDelivery(ctx, rec(time.Now(), "only", true)); err != nil {
		t.Fatalf("AppendDelivery: %v", err)
	}
	got, err := st.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestFilePruneBefore(t *testing.T) {
	t.Parallel()
	st, _ := newFileStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := st.AppendDelivery(ctx, rec(base.AddDate(0, 0, i), "d", true)); err != nil {
			t.Fatalf("AppendDelivery: %v", err)
		}
	}

	removed, err := st.PruneBefore(ctx, base.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}

	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, r := range got {
		if r.At.Before(base.AddDate(0, 0, 3)) {
			t.Fatalf("record %v survived prune", r.At)
		}
	}

	// The log must stay appendable after compaction.
	if err := st.AppendDelivery(ctx, rec(base.AddDate(0, 0, 9), "after", true)); err != nil {
		t.Fatalf("AppendDelivery after prune: %v", err)
	}
	got, err = st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 || got[0].TraceID != "after" {
		t.Fatalf("after prune = %+v", got)
	}
}

func TestFilePruneNothingToRemove(t *testing.T) {
	t.Parallel()
	st, _ := newFileStore(t)
	ctx := context.Background()

	if err := st.AppendDelivery(ctx, rec(time.Now(), "keep", true)); err != nil {
		t.Fatalf("AppendDelivery: %v", err)
	}
	removed, err := st.PruneBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}

func TestFileSkipsCorruptLines(t *testing.T) {
	t.Parallel()
	st, path := newFileStore(t)
	ctx := context.Background()

	if err := st.AppendDelivery(ctx, rec(time.Now(), "good", true)); err != nil {
		t.Fatalf("AppendDelivery: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{torn line\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()

	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].TraceID != "good" {
		t.Fatalf("got = %+v", got)
	}
}

func TestOpenDisabledDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must error")
	}
}

func TestAppendAfterClose(t *testing.T) {
	t.Parallel()
	st, _ := newFileStore(t)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AppendDelivery(context.Background(), rec(time.Now(), "late", true)); err == nil {
		t.Fatal("expected error after Close")
	}
}
