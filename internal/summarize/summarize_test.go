package summarize

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hookpush/internal/event"
	"hookpush/internal/stats"
	logx "hookpush/pkg/logx"
)

func gameUnit(content string) event.Unit {
	return event.Unit{
		Kind:           event.KindGame,
		DestinationKey: "1",
		Events: []event.Normalized{{
			Kind:           event.KindGame,
			DestinationKey: "1",
			Game:           &event.GamePayload{GameName: "g", Content: content},
		}},
	}
}

type fakeSummarizer struct {
	out string
	err error
}

func (f fakeSummarizer) Summarize(context.Context, string, int) (string, error) {
	return f.out, f.err
}

func newTestGateway(cfg Config, st *stats.Registry, client Summarizer) *Gateway {
	g := NewGateway(cfg, st, nil, logx.Nop())
	g.client = client
	return g
}

func TestEnrichDisabledLeavesUnitUnchanged(t *testing.T) {
	t.Parallel()
	g := newTestGateway(Config{Enabled: false}, nil, fakeSummarizer{out: "summary"})
	u := g.Enrich(context.Background(), gameUnit("content"))
	if u.Events[0].Summary != "" {
		t.Fatalf("disabled gateway set summary %q", u.Events[0].Summary)
	}
}

func TestEnrichSkipsNonGameKinds(t *testing.T) {
	t.Parallel()
	g := newTestGateway(Config{Enabled: true}, nil, fakeSummarizer{out: "summary"})
	u := event.Unit{
		Kind:           event.KindMedia,
		DestinationKey: "1",
		Events: []event.Normalized{{
			Kind:  event.KindMedia,
			Media: &event.MediaPayload{Title: "t", Overview: "long overview"},
		}},
	}
	got := g.Enrich(context.Background(), u)
	if got.Summary != "" || got.Events[0].Summary != "" {
		t.Fatal("media unit must never be summarized")
	}
}

func TestEnrichSetsSummaryOnSingleEvent(t *testing.T) {
	t.Parallel()
	g := newTestGateway(Config{Enabled: true}, nil, fakeSummarizer{out: "  all good  "})
	u := g.Enrich(context.Background(), gameUnit("content"))
	if u.Events[0].Summary != "all good" {
		t.Fatalf("Summary = %q, want trimmed result", u.Events[0].Summary)
	}
	if u.Summary != "" {
		t.Fatal("unmerged unit must carry the summary on the event, not the unit")
	}
}

func TestEnrichSetsSummaryOnDigest(t *testing.T) {
	t.Parallel()
	g := newTestGateway(Config{Enabled: true}, nil, fakeSummarizer{out: "digest summary"})
	u := gameUnit("a")
	u.Events = append(u.Events, event.Normalized{
		Kind: event.KindGame,
		Game: &event.GamePayload{GameName: "g", Content: "b"},
	})
	got := g.Enrich(context.Background(), u)
	if got.Summary != "digest summary" {
		t.Fatalf("unit Summary = %q", got.Summary)
	}
}

func TestEnrichFailureFallsBackAndCounts(t *testing.T) {
	t.Parallel()
	st := stats.New()
	g := newTestGateway(Config{Enabled: true}, st, fakeSummarizer{err: errors.New("backend down")})

	u := g.Enrich(context.Background(), gameUnit("original"))
	if u.Events[0].Summary != "" {
		t.Fatal("failed enrichment must leave the unit unchanged")
	}
	if got := st.Snapshot().EnrichFailures; got != 1 {
		t.Fatalf("EnrichFailures = %d, want 1", got)
	}
}

func TestEnrichTruncatesLongSummaries(t *testing.T) {
	t.Parallel()
	long := make([]rune, 500)
	for i := range long {
		long[i] = 'x'
	}
	g := newTestGateway(Config{Enabled: true, MaxTokens: 10}, nil, fakeSummarizer{out: string(long)})
	u := g.Enrich(context.Background(), gameUnit("content"))
	if got := u.Events[0].Summary; len([]rune(got)) != 13 { // 10 + "..."
		t.Fatalf("Summary length = %d (%q)", len([]rune(got)), got)
	}
}

func TestOpenAIClientRoundTrip(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key123" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"looks fine"}}]}`))
	}))
	defer srv.Close()

	c := newOpenAIClient(Config{Endpoint: srv.URL, APIKey: "key123", Model: "test-model"})
	got, err := c.Summarize(context.Background(), `{"level":"info"}`, 100)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "looks fine" {
		t.Fatalf("Summarize = %q", got)
	}
}

func TestOpenAIClientErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newOpenAIClient(Config{Endpoint: srv.URL})
	if _, err := c.Summarize(context.Background(), "{}", 100); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestOpenAIClientHonorsContextTimeout(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := newOpenAIClient(Config{Endpoint: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Summarize(ctx, "{}", 100); err == nil {
		t.Fatal("expected timeout error")
	}
}
