package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Webhook    WebhookConfig    `json:"webhook"`
	Batch      BatchConfig      `json:"batch"`
	Render     RenderConfig     `json:"render"`
	Summarizer SummarizerConfig `json:"summarizer"`
	Dispatch   DispatchConfig   `json:"dispatch"`

	Storage     *StorageConfig    `json:"storage,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Metrics     MetricsConfig     `json:"metrics"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// GroupID is the destination key all webhook routes push to:
	// "chatID" or "chatID:threadID".
	GroupID string `json:"group_id"`

	// GroupLog optionally receives warn+ log lines and the daily report.
	GroupLog string `json:"group_log,omitempty"`

	// SendTimeout is a Go duration string bounding one Bot API call.
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// WebhookConfig controls the inbound HTTP listener. Route lists may be
// given with or without a leading slash.
type WebhookConfig struct {
	Port         int      `json:"port"`
	MediaRoutes  []string `json:"media_routes,omitempty"`
	GameRoutes   []string `json:"game_routes,omitempty"`
	CommonRoutes []string `json:"common_routes,omitempty"`
}

// BatchConfig controls the sliding-window aggregation.
//
// IntervalSeconds is the debounce window: every event for a destination
// re-arms that destination's flush deadline. 0 (or negative) disables
// batching and every event is pushed immediately.
//
// MaxWait optionally caps how long a continuous burst can keep deferring a
// flush, as a Go duration string. Empty or "0s" means uncapped.
type BatchConfig struct {
	IntervalSeconds int    `json:"interval_seconds"`
	MaxWait         string `json:"max_wait,omitempty"`
}

// RenderConfig selects the message layout per source kind.
// MediaTemplate is "poster" (rich layout) or "card" (plain); GameTemplate
// and CommonTemplate are "detail" (full key-value layout) or "compact".
type RenderConfig struct {
	MediaTemplate  string `json:"media_template,omitempty"`
	GameTemplate   string `json:"game_template,omitempty"`
	CommonTemplate string `json:"common_template,omitempty"`
}

// SummarizerConfig controls the optional AI analysis of game/automation
// payloads. The backend is any OpenAI-compatible chat-completions endpoint.
// The API key is normally supplied via HOOKPUSH_SUMMARIZER_API_KEY.
type SummarizerConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	Model     string `json:"model,omitempty"`
	Timeout   string `json:"timeout,omitempty"` // Go duration string
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// DispatchConfig controls outbound delivery pacing.
type DispatchConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"` // Go duration string
}

// StorageConfig controls the delivery audit trail.
//
// Driver values:
//   - "file": dependency-free jsonl backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the audit trail is disabled.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig controls periodic housekeeping: the daily stats report
// pushed to the log chat and audit-trail pruning.
type MaintenanceConfig struct {
	Enabled            bool   `json:"enabled"`
	DailyReportCron    string `json:"daily_report_cron,omitempty"` // default "0 9 * * *"
	AuditRetentionDays int    `json:"audit_retention_days,omitempty"`
	Timezone           string `json:"timezone,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Validate checks the static invariants that don't need runtime context.
// Hot-reload rejection happens through the manager's validator hook, which
// calls this first.
func (c *Config) Validate() error {
	if c.Webhook.Port < 1 || c.Webhook.Port > 65535 {
		return fmt.Errorf("webhook.port must be 1-65535, got %d", c.Webhook.Port)
	}
	if strings.TrimSpace(c.Telegram.GroupID) == "" {
		return fmt.Errorf("telegram.group_id is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Render.MediaTemplate)) {
	case "", "poster", "card":
	default:
		return fmt.Errorf("render.media_template must be \"poster\" or \"card\", got %q", c.Render.MediaTemplate)
	}
	for _, field := range []struct{ path, raw string }{
		{"render.game_template", c.Render.GameTemplate},
		{"render.common_template", c.Render.CommonTemplate},
	} {
		switch strings.ToLower(strings.TrimSpace(field.raw)) {
		case "", "detail", "compact":
		default:
			return fmt.Errorf("%s must be \"detail\" or \"compact\", got %q", field.path, field.raw)
		}
	}
	if c.Dispatch.RatePerSec < 0 {
		return fmt.Errorf("dispatch.rate_per_sec must be >= 0")
	}
	if c.Maintenance.AuditRetentionDays < 0 {
		return fmt.Errorf("maintenance.audit_retention_days must be >= 0")
	}
	for _, field := range []struct{ path, raw string }{
		{"telegram.send_timeout", c.Telegram.SendTimeout},
		{"batch.max_wait", c.Batch.MaxWait},
		{"summarizer.timeout", c.Summarizer.Timeout},
		{"dispatch.send_timeout", c.Dispatch.SendTimeout},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
