package scheduler

import (
	"context"
	"errors"
	"fmt"

	"cronjob/internal/schedule"
	"cronjob/internal/task/timer"
	logx "cronjob/pkg/logx"
)

// TickFunc receives the expression of the timer that fired.
type TickFunc func(ctx context.Context, expr schedule.Expression)

// Result summarizes one reconciliation.
type Result struct {
	Added   []schedule.Expression
	Removed []schedule.Expression
	Kept    []schedule.Expression
	Failed  map[schedule.Expression]error
}

// Changed reports whether any timer was started or stopped.
func (r Result) Changed() bool { return len(r.Added) > 0 || len(r.Removed) > 0 }

// Err joins the per-expression failures (nil if none).
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, e := range schedule.NewSet(keys(r.Failed)...).Sorted() {
		errs = append(errs, r.Failed[e])
	}
	return errors.Join(errs...)
}

func keys(m map[schedule.Expression]error) []schedule.Expression {
	out := make([]schedule.Expression, 0, len(m))
	for e := range m {
		out = append(out, e)
	}
	return out
}

// Reconciler converges a Registry onto a desired set.
type Reconciler struct {
	factory timer.Factory
	onTick  TickFunc
	log     logx.Logger
}

func NewReconciler(factory timer.Factory, onTick TickFunc, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{factory: factory, onTick: onTick, log: log}
}

// Reconcile stops timers not in desired, starts timers for new expressions
// and leaves the others untouched. A rejected expression is reported in
// Result.Failed and does not stop the remaining ones.
func (rc *Reconciler) Reconcile(desired schedule.Set, reg *Registry) Result {
	res := Result{Failed: map[schedule.Expression]error{}}

	for _, e := range reg.Keys().Sorted() {
		if desired.Has(e) {
			continue
		}
		if reg.remove(e) {
			res.Removed = append(res.Removed, e)
			rc.log.Debug("timer stopped", logx.String("schedule", string(e)))
		}
	}

	for _, e := range desired.Sorted() {
		if reg.Has(e) {
			res.Kept = append(res.Kept, e)
			continue
		}
		h, err := rc.start(e, reg.Timezone())
		if err != nil {
			res.Failed[e] = err
			rc.log.Error("timer start failed", logx.String("schedule", string(e)), logx.String("tz", reg.Timezone()), logx.Err(err))
			continue
		}
		reg.put(e, h)
		res.Added = append(res.Added, e)
		rc.log.Debug("timer started", logx.String("schedule", string(e)), logx.String("tz", h.Timezone()))
	}
	return res
}

func (rc *Reconciler) start(e schedule.Expression, tz string) (h timer.Handle, err error) {
	if rc.factory == nil {
		return nil, errors.New("timer factory not configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("timer create panicked: %v", r)
		}
	}()
	onTick := rc.onTick
	return rc.factory.Create(e, tz, func(ctx context.Context) {
		if onTick != nil {
			onTick(ctx, e)
		}
	})
}
