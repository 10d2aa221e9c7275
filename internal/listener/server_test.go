package listener

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"hookpush/internal/engine"
	"hookpush/internal/event"
	"hookpush/internal/stats"
	"hookpush/internal/storage"
	logx "hookpush/pkg/logx"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	events []event.Normalized
	err    error
	status []engine.KeyStatus
}

func (f *fakeSubmitter) Submit(ev event.Normalized) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSubmitter) Status() []engine.KeyStatus { return f.status }

func (f *fakeSubmitter) last(t *testing.T) event.Normalized {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		t.Fatal("no event submitted")
	}
	return f.events[len(f.events)-1]
}

type fakeAudit struct {
	recs []storage.DeliveryRecord
	err  error
}

func (f *fakeAudit) Recent(_ context.Context, limit int) ([]storage.DeliveryRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.recs) {
		return f.recs[:limit], nil
	}
	return f.recs, nil
}

func newTestServer(sub *fakeSubmitter, st *stats.Registry) *httptest.Server {
	s := New(Config{
		Port:           0,
		DestinationKey: "-100123",
	}, sub, st, nil, logx.Nop())
	return httptest.NewServer(s.Handler())
}

func TestWebhookRoutesClassifyByRoute(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{}
	srv := newTestServer(sub, nil)
	defer srv.Close()

	tests := []struct {
		route string
		body  string
		kind  event.SourceKind
	}{
		{"/media-webhook", `{"Name": "Dune", "ItemType": "Movie"}`, event.KindMedia},
		{"/game-webhook", `{"title": "done"}`, event.KindGame},
		{"/webhook", `{"title": "hi", "message": "body"}`, event.KindGeneric},
	}
	for _, tt := range tests {
		resp, err := http.Post(srv.URL+tt.route, "application/json", strings.NewReader(tt.body))
		if err != nil {
			t.Fatalf("POST %s: %v", tt.route, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("POST %s status = %d", tt.route, resp.StatusCode)
		}
		ev := sub.last(t)
		if ev.Kind != tt.kind {
			t.Fatalf("POST %s kind = %s, want %s", tt.route, ev.Kind, tt.kind)
		}
		if ev.DestinationKey != "-100123" {
			t.Fatalf("DestinationKey = %q", ev.DestinationKey)
		}
		if len(ev.TraceID) != 8 {
			t.Fatalf("TraceID = %q, want 8 chars", ev.TraceID)
		}
		if ev.ReceivedAt.IsZero() {
			t.Fatal("ReceivedAt not stamped")
		}
	}
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{}
	srv := newTestServer(sub, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/media-webhook", "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.events) != 0 {
		t.Fatal("rejected payload must not reach the engine")
	}
}

func TestWebhookGetMethodNotAllowed(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeSubmitter{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/media-webhook")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestCustomRouteLists(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{}
	s := New(Config{
		Port:           0,
		MediaRoutes:    []string{"jellyfin", "/plex"},
		DestinationKey: "1",
	}, sub, nil, nil, logx.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for _, route := range []string{"/jellyfin", "/plex"} {
		resp, err := http.Post(srv.URL+route, "application/json",
			strings.NewReader(`{"Name": "x", "ItemType": "Movie"}`))
		if err != nil {
			t.Fatalf("POST %s: %v", route, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("POST %s status = %d", route, resp.StatusCode)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	st := stats.New()
	st.RecordReceived()
	sub := &fakeSubmitter{status: []engine.KeyStatus{{
		Key:       "-100123",
		Events:    2,
		FirstAt:   time.Now(),
		Remaining: 30 * time.Second,
	}}}
	srv := newTestServer(sub, st)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var got statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Stats.EventsReceived != 1 {
		t.Fatalf("stats = %+v", got.Stats)
	}
	if len(got.Pending) != 1 || got.Pending[0].Events != 2 {
		t.Fatalf("pending = %+v", got.Pending)
	}
}

func TestStatusIncludesRecentDeliveries(t *testing.T) {
	t.Parallel()
	audit := &fakeAudit{recs: []storage.DeliveryRecord{
		{TraceID: "aaaa1111", DestinationKey: "-100123", Kind: "media", OK: true},
		{TraceID: "bbbb2222", DestinationKey: "-100123", Kind: "game", OK: false, Error: "boom"},
	}}
	s := New(Config{Port: 0, DestinationKey: "-100123"}, &fakeSubmitter{}, nil, audit, logx.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var got statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.RecentDeliveries) != 2 {
		t.Fatalf("recent = %+v", got.RecentDeliveries)
	}
	if got.RecentDeliveries[0].TraceID != "aaaa1111" || got.RecentDeliveries[1].Error != "boom" {
		t.Fatalf("recent = %+v", got.RecentDeliveries)
	}
}

func TestStatusSurvivesAuditError(t *testing.T) {
	t.Parallel()
	audit := &fakeAudit{err: errors.New("db locked")}
	s := New(Config{Port: 0, DestinationKey: "-100123"}, &fakeSubmitter{}, nil, audit, logx.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.RecentDeliveries) != 0 {
		t.Fatalf("recent = %+v", got.RecentDeliveries)
	}
}

func TestSubmitErrorReturns500(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{err: event.ErrNoDestination}
	srv := newTestServer(sub, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(`{"title": "x"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}
