package scheduler

import (
	"sync"
	"time"

	"cronjob/internal/clock"
	"cronjob/internal/eventbus"
	logx "cronjob/pkg/logx"
)

// Config controls the scheduler driver.
type Config struct {
	Enabled bool
	// RefreshDebounce delays a pass after an argument update so bursts of
	// updates collapse into one pass (0 = run immediately).
	RefreshDebounce time.Duration
}

// PassEvent is published on the bus after every pass.
type PassEvent struct {
	Kind     string        `json:"kind"` // "refresh" | "rebuild"
	Timezone string        `json:"tz"`
	Added    int           `json:"added"`
	Removed  int           `json:"removed"`
	Kept     int           `json:"kept"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type Service struct {
	// passMu is the single in-flight-pass guard; it owns reg and rebuildPending.
	passMu         sync.Mutex
	reg            *Registry
	rebuildPending bool
	lastPass       PassEvent
	lastPassAt     time.Time

	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	clock clock.Provider
	rec   *Reconciler

	srcMu   sync.Mutex
	sources []ArgumentSource
}

type ScheduleInfo struct {
	Expression string
	Timezone   string
	Next       time.Time
}

type Snapshot struct {
	Enabled    bool
	Timezone   string
	Schedules  []ScheduleInfo
	LastPass   PassEvent
	LastPassAt time.Time
}
