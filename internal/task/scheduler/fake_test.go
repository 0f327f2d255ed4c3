package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cronjob/internal/schedule"
	"cronjob/internal/task/timer"
)

var handleSeq atomic.Int64

type fakeHandle struct {
	id      int64
	expr    schedule.Expression
	tz      string
	onTick  timer.TickFunc
	stopped atomic.Bool
}

func (h *fakeHandle) Expression() schedule.Expression { return h.expr }
func (h *fakeHandle) Timezone() string                { return h.tz }
func (h *fakeHandle) Next() time.Time                 { return time.Time{} }
func (h *fakeHandle) Stop()                           { h.stopped.Store(true) }

// fire simulates the timer primitive invoking the callback.
func (h *fakeHandle) fire() {
	if h.stopped.Load() {
		return
	}
	h.onTick(context.Background())
}

// fakeFactory rejects any expression containing "bad".
type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeHandle
}

func (f *fakeFactory) Create(expr schedule.Expression, tz string, onTick timer.TickFunc) (timer.Handle, error) {
	if strings.Contains(string(expr), "bad") {
		return nil, fmt.Errorf("%w: %q", timer.ErrInvalidExpression, expr)
	}
	h := &fakeHandle{id: handleSeq.Add(1), expr: expr, tz: tz, onTick: onTick}
	f.mu.Lock()
	f.created = append(f.created, h)
	f.mu.Unlock()
	return h, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeClock struct {
	mu      sync.Mutex
	tz      string
	changes chan struct{}
}

func newFakeClock(tz string) *fakeClock {
	return &fakeClock{tz: tz, changes: make(chan struct{}, 1)}
}

func (c *fakeClock) Timezone() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tz
}

func (c *fakeClock) Changes() <-chan struct{} { return c.changes }

func (c *fakeClock) set(tz string) {
	c.mu.Lock()
	c.tz = tz
	c.mu.Unlock()
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// staticSource returns fixed records or a fixed error.
type staticSource struct {
	name string

	mu   sync.Mutex
	recs []schedule.Record
	err  error
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) ArgumentValues(context.Context) ([]schedule.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]schedule.Record(nil), s.recs...), nil
}

func (s *staticSource) set(recs []schedule.Record, err error) {
	s.mu.Lock()
	s.recs = recs
	s.err = err
	s.mu.Unlock()
}

type countingTicker struct {
	mu    sync.Mutex
	fired map[schedule.Expression]int
}

func (t *countingTicker) OnTick(_ context.Context, expr schedule.Expression) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired == nil {
		t.fired = map[schedule.Expression]int{}
	}
	t.fired[expr]++
	return nil
}

func (t *countingTicker) count(expr schedule.Expression) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired[expr]
}
