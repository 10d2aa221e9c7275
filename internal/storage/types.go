package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the audit store.
//
// Driver values:
//   - "file": dependency-free file backend (append-only jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord captures one dispatch outcome.
// Keep it compact and schema-stable.
type DeliveryRecord struct {
	At             time.Time `json:"at"`
	TraceID        string    `json:"trace_id,omitempty"`
	DestinationKey string    `json:"destination_key"`
	Kind           string    `json:"kind"`
	Merged         bool      `json:"merged"`
	Events         int       `json:"events"`
	OK             bool      `json:"ok"`
	Error          string    `json:"error,omitempty"`
	TookMS         int64     `json:"took_ms"`
}
