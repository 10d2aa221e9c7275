// Package summarize adds an optional AI analysis pass over game units.
//
// Enrichment is strictly best-effort: it is bounded by a timeout, and any
// failure leaves the unit unchanged so delivery is never blocked on the
// model backend.
package summarize

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"hookpush/internal/event"
	"hookpush/internal/eventbus"
	"hookpush/internal/stats"
	logx "hookpush/pkg/logx"
)

const (
	defaultTimeout   = 20 * time.Second
	defaultMaxTokens = 150
)

type Config struct {
	Enabled   bool
	Endpoint  string // chat-completions URL; empty means the OpenAI default
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	return c
}

// Summarizer produces a short analysis of free-form webhook content.
type Summarizer interface {
	Summarize(ctx context.Context, payload string, maxTokens int) (string, error)
}

// Gateway filters which units get summarized and applies the failure policy.
type Gateway struct {
	mu     sync.Mutex
	cfg    Config
	client Summarizer

	stats *stats.Registry
	bus   eventbus.Bus
	log   logx.Logger
}

func NewGateway(cfg Config, st *stats.Registry, bus eventbus.Bus, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Gateway{
		cfg:    cfg,
		client: newOpenAIClient(cfg),
		stats:  st,
		bus:    bus,
		log:    log.With(logx.String("comp", "summarize")),
	}
}

// Reconfigure swaps the config on hot reload. In-flight enrichments keep
// the settings they started with.
func (g *Gateway) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	g.mu.Lock()
	g.cfg = cfg
	g.client = newOpenAIClient(cfg)
	g.mu.Unlock()
}

// Enrich runs the summarizer over one unit and returns it with Summary set.
// Units of other kinds, or any backend failure, return the unit unchanged.
func (g *Gateway) Enrich(ctx context.Context, u event.Unit) event.Unit {
	g.mu.Lock()
	cfg := g.cfg
	client := g.client
	g.mu.Unlock()

	if !cfg.Enabled || u.Kind != event.KindGame || client == nil {
		return u
	}

	payload := unitPayload(u)
	if payload == "" {
		return u
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	summary, err := client.Summarize(cctx, payload, cfg.MaxTokens)
	if err != nil {
		if g.stats != nil {
			g.stats.RecordEnrichFailure()
		}
		if g.bus != nil {
			g.bus.Publish(eventbus.Event{
				Type: eventbus.TopicEnrichFail,
				Time: time.Now(),
				Data: map[string]any{"destination_key": u.DestinationKey, "error": err.Error()},
			})
		}
		g.log.Warn("summarize failed, sending original content",
			logx.String("destination_key", u.DestinationKey),
			logx.Int("events", len(u.Events)),
			logx.Err(err))
		return u
	}

	summary = clipRunes(strings.TrimSpace(summary), cfg.MaxTokens)
	if summary == "" {
		return u
	}
	if u.Merged() {
		u.Summary = summary
	} else {
		u.Events[0].Summary = summary
	}
	return u
}

// unitPayload serializes the unit's game payloads for the model. Raw vendor
// payloads are preferred over pre-extracted fields so the model sees
// everything the script sent.
func unitPayload(u event.Unit) string {
	raws := make([]map[string]any, 0, len(u.Events))
	for _, e := range u.Events {
		if e.Game == nil {
			continue
		}
		if len(e.Game.Raw) > 0 {
			raws = append(raws, e.Game.Raw)
			continue
		}
		raws = append(raws, map[string]any{
			"game_name": e.Game.GameName,
			"event":     e.Game.Event,
			"level":     e.Game.Level,
			"content":   e.Game.Content,
		})
	}
	if len(raws) == 0 {
		return ""
	}

	var b []byte
	var err error
	if len(raws) == 1 {
		b, err = json.MarshalIndent(raws[0], "", "  ")
	} else {
		b, err = json.MarshalIndent(raws, "", "  ")
	}
	if err != nil {
		return ""
	}
	return string(b)
}

func clipRunes(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
