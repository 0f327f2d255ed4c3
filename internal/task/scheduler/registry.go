package scheduler

import (
	"cronjob/internal/schedule"
	"cronjob/internal/task/timer"
)

// Registry maps each running expression to its timer.
//
// All timers in the registry are bound to Timezone(). The registry is not
// safe for concurrent use; Service serializes access with its pass guard.
type Registry struct {
	tz      string
	entries map[schedule.Expression]timer.Handle
}

func NewRegistry(tz string) *Registry {
	return &Registry{tz: tz, entries: map[schedule.Expression]timer.Handle{}}
}

func (r *Registry) Timezone() string { return r.tz }

func (r *Registry) Len() int { return len(r.entries) }

func (r *Registry) Has(e schedule.Expression) bool {
	_, ok := r.entries[e]
	return ok
}

func (r *Registry) Handle(e schedule.Expression) (timer.Handle, bool) {
	h, ok := r.entries[e]
	return h, ok
}

// Keys returns the running expressions.
func (r *Registry) Keys() schedule.Set {
	s := make(schedule.Set, len(r.entries))
	for e := range r.entries {
		s[e] = struct{}{}
	}
	return s
}

func (r *Registry) put(e schedule.Expression, h timer.Handle) { r.entries[e] = h }

// remove stops the timer before dropping the entry.
func (r *Registry) remove(e schedule.Expression) bool {
	h, ok := r.entries[e]
	if !ok {
		return false
	}
	h.Stop()
	delete(r.entries, e)
	return true
}

// reset stops every timer, clears the registry and binds it to tz.
// It returns the number of stopped timers.
func (r *Registry) reset(tz string) int {
	n := 0
	for e := range r.entries {
		if r.remove(e) {
			n++
		}
	}
	r.tz = tz
	return n
}
