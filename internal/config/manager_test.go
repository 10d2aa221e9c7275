package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalJSON = `{
  "telegram": {"token": "t", "group_id": "-100123"},
  "webhook": {"port": 8843},
  "batch": {"interval_seconds": 300}
}`

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.GroupID != "-100123" || cfg.Webhook.Port != 8843 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Batch.IntervalSeconds != 300 {
		t.Fatalf("IntervalSeconds = %d", cfg.Batch.IntervalSeconds)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() must return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", `
telegram:
  token: t
  group_id: "-100123"
webhook:
  port: 8843
  media_routes: [media-webhook, jellyfin]
batch:
  interval_seconds: 120
  max_wait: 10m
`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Webhook.MediaRoutes) != 2 {
		t.Fatalf("MediaRoutes = %v", cfg.Webhook.MediaRoutes)
	}
	if cfg.Batch.MaxWait != "10m" {
		t.Fatalf("MaxWait = %q", cfg.Batch.MaxWait)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{
  "telegram": {"token": "t", "group_id": "1"},
  "webhook": {"port": 1},
  "no_such_section": true
}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("HOOKPUSH_BOT_TOKEN", "env-token")
	t.Setenv("HOOKPUSH_SUMMARIZER_API_KEY", "env-key")

	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("Token = %q, want env override", cfg.Telegram.Token)
	}
	if cfg.Summarizer.APIKey != "env-key" {
		t.Fatalf("APIKey = %q, want env override", cfg.Summarizer.APIKey)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{GroupID: "-100123"},
			Webhook:  WebhookConfig{Port: 8843},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid minimal", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Webhook.Port = 0 }, wantErr: true},
		{name: "missing group", mutate: func(c *Config) { c.Telegram.GroupID = " " }, wantErr: true},
		{name: "poster variant", mutate: func(c *Config) { c.Render.MediaTemplate = "poster" }},
		{name: "card variant", mutate: func(c *Config) { c.Render.MediaTemplate = "card" }},
		{name: "bad variant", mutate: func(c *Config) { c.Render.MediaTemplate = "fancy" }, wantErr: true},
		{name: "compact game template", mutate: func(c *Config) { c.Render.GameTemplate = "compact" }},
		{name: "bad game template", mutate: func(c *Config) { c.Render.GameTemplate = "poster" }, wantErr: true},
		{name: "bad common template", mutate: func(c *Config) { c.Render.CommonTemplate = "fancy" }, wantErr: true},
		{name: "negative rate", mutate: func(c *Config) { c.Dispatch.RatePerSec = -1 }, wantErr: true},
		{name: "bad duration", mutate: func(c *Config) { c.Batch.MaxWait = "10 parsecs" }, wantErr: true},
		{name: "good duration", mutate: func(c *Config) { c.Batch.MaxWait = "15m" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestSubscribeReceivesReload(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", minimalJSON)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sub := m.Subscribe(2)
	defer m.Unsubscribe(sub)

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.Batch.IntervalSeconds = 60
	m.Commit(cfg)
	m.publish(cfg)

	select {
	case got := <-sub:
		if got.Batch.IntervalSeconds != 60 {
			t.Fatalf("IntervalSeconds = %d", got.Batch.IntervalSeconds)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never notified")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("90s = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "banana"); err == nil {
		t.Fatal("expected error")
	}
	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
}
