package scheduler

import (
	"context"
	"errors"
	"time"

	"cronjob/internal/clock"
	"cronjob/internal/eventbus"
	"cronjob/internal/schedule"
	"cronjob/internal/task/timer"
	logx "cronjob/pkg/logx"
)

// Ticker receives timer fires (implemented by notifier.Notifier).
type Ticker interface {
	OnTick(ctx context.Context, expr schedule.Expression) error
}

func New(cfg Config, clk clock.Provider, factory timer.Factory, ticker Ticker, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	onTick := func(ctx context.Context, expr schedule.Expression) {
		if ticker == nil {
			return
		}
		// Failures are logged per consumer by the notifier.
		_ = ticker.OnTick(ctx, expr)
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		clock: clk,
		rec:   NewReconciler(factory, onTick, log),
		reg:   NewRegistry(clk.Timezone()),
	}
}

// Enabled reports the config flag.
func (s *Service) Enabled() bool { return s.cfg.Enabled }

// AddSources registers argument sources. Sources exposing
// Updates() <-chan struct{} trigger a pass from Run when they change.
func (s *Service) AddSources(srcs ...ArgumentSource) {
	s.srcMu.Lock()
	for _, src := range srcs {
		if src != nil {
			s.sources = append(s.sources, src)
		}
	}
	s.srcMu.Unlock()
}

func (s *Service) sourceList() []ArgumentSource {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	return append([]ArgumentSource(nil), s.sources...)
}

// Refresh runs one reconciliation pass against the current arguments.
//
// If collecting fails the registry is left untouched. A pending rebuild, or
// a registry bound to a zone other than the clock's, turns the pass into a
// full rebuild.
func (s *Service) Refresh(ctx context.Context) (Result, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	if s.rebuildPending || s.reg.Timezone() != s.clock.Timezone() {
		return s.rebuildLocked(ctx)
	}
	return s.refreshLocked(ctx)
}

// OnTimezoneChange stops every timer and rebuilds the registry in the
// clock's current timezone.
func (s *Service) OnTimezoneChange(ctx context.Context) (Result, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	return s.rebuildLocked(ctx)
}

func (s *Service) refreshLocked(ctx context.Context) (Result, error) {
	start := time.Now()
	desired, err := Collect(ctx, s.sourceList()...)
	if err != nil {
		s.finishPass("refresh", start, Result{}, err)
		return Result{}, err
	}
	res := s.rec.Reconcile(desired, s.reg)
	s.finishPass("refresh", start, res, nil)
	return res, nil
}

// rebuildLocked collects before tearing down, so a failing source leaves the
// old timers running; the rebuild then stays pending for the next pass.
func (s *Service) rebuildLocked(ctx context.Context) (Result, error) {
	start := time.Now()
	desired, err := Collect(ctx, s.sourceList()...)
	if err != nil {
		s.rebuildPending = true
		s.finishPass("rebuild", start, Result{}, err)
		return Result{}, err
	}

	tz := s.clock.Timezone()
	stopped := s.reg.reset(tz)
	s.rebuildPending = false
	s.log.Info("timers torn down for rebuild", logx.Int("stopped", stopped), logx.String("tz", tz))

	res := s.rec.Reconcile(desired, s.reg)
	s.finishPass("rebuild", start, res, nil)
	return res, nil
}

func (s *Service) finishPass(kind string, start time.Time, res Result, err error) {
	ev := PassEvent{
		Kind:     kind,
		Timezone: s.reg.Timezone(),
		Added:    len(res.Added),
		Removed:  len(res.Removed),
		Kept:     len(res.Kept),
		Failed:   len(res.Failed),
		Duration: time.Since(start),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.lastPass = ev
	s.lastPassAt = start

	switch {
	case err != nil:
		s.log.Warn("reconciliation pass aborted; keeping running timers", logx.String("kind", kind), logx.Int("running", s.reg.Len()), logx.Err(err))
	case res.Changed() || len(res.Failed) > 0:
		s.log.Info("reconciliation pass",
			logx.String("kind", kind),
			logx.String("tz", ev.Timezone),
			logx.Int("added", ev.Added),
			logx.Int("removed", ev.Removed),
			logx.Int("kept", ev.Kept),
			logx.Int("failed", ev.Failed),
			logx.Duration("took", ev.Duration),
		)
	default:
		s.log.Debug("reconciliation pass (no changes)", logx.String("kind", kind), logx.Int("kept", ev.Kept))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSchedulePass, Time: start, Data: ev})
	}
}

// Run performs an initial pass, then reacts to argument updates and timezone
// changes until ctx is done. All timers are stopped before Run returns.
func (s *Service) Run(ctx context.Context) error {
	defer s.Stop()

	kick := make(chan struct{}, 1)
	for _, src := range s.sourceList() {
		up, ok := src.(interface{ Updates() <-chan struct{} })
		if !ok {
			continue
		}
		ch := up.Updates()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					select {
					case kick <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	s.logPassErr(s.Refresh(ctx))
	s.logSchedules()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.Changes():
			debounce = nil
			s.log.Info("timezone change received; rebuilding timers", logx.String("tz", s.clock.Timezone()))
			s.logPassErr(s.OnTimezoneChange(ctx))
		case <-kick:
			if s.cfg.RefreshDebounce <= 0 {
				s.logPassErr(s.Refresh(ctx))
				continue
			}
			if debounce == nil {
				debounce = time.After(s.cfg.RefreshDebounce)
			}
		case <-debounce:
			debounce = nil
			s.logPassErr(s.Refresh(ctx))
		}
	}
}

func (s *Service) logPassErr(_ Result, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	// Already logged by finishPass; keep the Run loop quiet here.
	s.log.Debug("pass error", logx.Err(err))
}

// Stop stops every running timer.
func (s *Service) Stop() {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	if n := s.reg.reset(s.reg.Timezone()); n > 0 {
		s.log.Info("scheduler stopped", logx.Int("timers", n))
	}
}
