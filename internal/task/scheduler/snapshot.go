package scheduler

import logx "cronjob/pkg/logx"

// Snapshot returns the running schedules with their next fire times.
func (s *Service) Snapshot() Snapshot {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	snap := Snapshot{
		Enabled:    s.cfg.Enabled,
		Timezone:   s.reg.Timezone(),
		LastPass:   s.lastPass,
		LastPassAt: s.lastPassAt,
	}
	for _, e := range s.reg.Keys().Sorted() {
		h, _ := s.reg.Handle(e)
		snap.Schedules = append(snap.Schedules, ScheduleInfo{
			Expression: string(e),
			Timezone:   h.Timezone(),
			Next:       h.Next(),
		})
	}
	return snap
}

// Expressions lists the running expressions of the snapshot.
func (s Snapshot) Expressions() []string {
	out := make([]string, 0, len(s.Schedules))
	for _, si := range s.Schedules {
		out = append(out, si.Expression)
	}
	return out
}

// logSchedules reports what the first pass left running.
func (s *Service) logSchedules() {
	snap := s.Snapshot()
	s.log.Info("schedules running",
		logx.String("tz", snap.Timezone),
		logx.Int("count", len(snap.Schedules)),
		logx.Strs("expressions", snap.Expressions()),
	)
	for _, si := range snap.Schedules {
		s.log.Debug("schedule",
			logx.String("expr", si.Expression),
			logx.Time("next", si.Next),
		)
	}
}
