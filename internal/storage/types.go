package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshot + jsonl journal)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// State is the poller's resumable position.
type State struct {
	Timestamp   int64     `json:"timestamp"`
	LastMessage string    `json:"last_message"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Delivery kinds.
const (
	DeliveryStatus     = "status"
	DeliveryDiagnostic = "diagnostic"
)

// Delivery records one message that reached the chat.
// Keep it compact and schema-stable.
type Delivery struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Text   string    `json:"text"`
	Cursor int64     `json:"cursor"`
}
