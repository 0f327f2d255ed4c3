package config

import (
	"cronjob/internal/schedule"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Clock     ClockConfig     `json:"clock"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Flows     []FlowConfig    `json:"flows"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ClockConfig selects the timezone timers are bound to.
//
// An empty timezone (or "Local") follows the process local zone. With
// watch_local set, changes to the local zone are picked up at runtime.
type ClockConfig struct {
	Timezone   string `json:"timezone,omitempty"`
	WatchLocal bool   `json:"watch_local,omitempty"`
}

// SchedulerConfig controls the reconciliation driver.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// RefreshDebounce is a Go duration string (e.g. "200ms"). Empty or "0s"
	// runs a pass immediately on every argument update.
	RefreshDebounce string `json:"refresh_debounce,omitempty"`
	// TickTimeout bounds how long one tick waits for its flows. Empty or
	// "0s" means no bound.
	TickTimeout string `json:"tick_timeout,omitempty"`
}

// StorageConfig controls the run journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/cronjob.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// FlowConfig attaches one flow to a trigger card.
type FlowConfig struct {
	Name   string          `json:"name"`
	Card   string          `json:"card"`
	Args   schedule.Record `json:"args"`
	Action ActionConfig    `json:"action"`
}

type ActionConfig struct {
	Kind    string   `json:"kind,omitempty"` // log (default) | exec
	Message string   `json:"message,omitempty"`
	Command []string `json:"command,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}
