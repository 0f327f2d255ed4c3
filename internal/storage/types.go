package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunEntry records one flow run triggered by a schedule.
// Keep it compact and schema-stable.
type RunEntry struct {
	At       time.Time `json:"at"`
	Card     string    `json:"card"`
	Flow     string    `json:"flow"`
	Schedule string    `json:"schedule"`
	TookMS   int64     `json:"took_ms"`
	Error    string    `json:"error,omitempty"`
}
