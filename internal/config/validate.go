package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cronjob/internal/flow"
	"cronjob/internal/task/timer"
	logx "cronjob/pkg/logx"
)

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks cfg and reports every problem found, each prefixed with
// its key path. Schedules the timer parser rejects are not errors here; they
// are isolated per expression at runtime (see InvalidSchedules).
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	var errs []error
	add := func(path, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: "+format, append([]any{path}, args...)...))
	}

	switch strings.ToUpper(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		add("logging.level", "unknown level %q", cfg.Logging.Level)
	}

	if _, err := timer.LoadLocation(strings.TrimSpace(cfg.Clock.Timezone)); err != nil {
		add("clock.timezone", "%v", err)
	}

	if _, err := ParseDurationField("scheduler.refresh_debounce", cfg.Scheduler.RefreshDebounce); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("scheduler.tick_timeout", cfg.Scheduler.TickTimeout); err != nil {
		errs = append(errs, err)
	}

	if st := cfg.Storage; st != nil {
		switch d := strings.ToLower(strings.TrimSpace(st.Driver)); d {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(st.Path) == "" {
				add("storage.path", "required for driver %q", d)
			}
		default:
			add("storage.driver", "unknown driver %q", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	seen := map[string]int{}
	for i, f := range cfg.Flows {
		p := fmt.Sprintf("flows[%d]", i)
		name := strings.TrimSpace(f.Name)
		if name == "" {
			add(p+".name", "required")
		} else if j, dup := seen[name]; dup {
			add(p+".name", "duplicate of flows[%d]", j)
		} else {
			seen[name] = i
		}

		switch strings.TrimSpace(f.Card) {
		case flow.CardExpression:
			if !f.Args.IsRaw() {
				add(p+".args.schedule", "required for card %q", flow.CardExpression)
			}
		case flow.CardParts:
			if f.Args.IsRaw() {
				add(p+".args.schedule", "not allowed for card %q", flow.CardParts)
			}
			for _, field := range f.Args.Parts().Missing() {
				add(p+".args."+field, "required for card %q", flow.CardParts)
			}
		default:
			add(p+".card", "unknown card %q", f.Card)
		}

		spec, err := f.ActionSpec()
		if err != nil {
			add(p+".action", "%v", err)
			continue
		}
		if _, err := flow.BuildAction(spec, logx.Nop()); err != nil {
			add(p+".action", "%v", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validator adapts Validate to ConfigManager.SetValidator.
func Validator(_ context.Context, cfg *Config) error { return Validate(cfg) }

// ActionSpec decodes the action section of a flow.
func (f FlowConfig) ActionSpec() (flow.ActionSpec, error) {
	timeout, err := ParseDurationField("timeout", f.Action.Timeout)
	if err != nil {
		return flow.ActionSpec{}, err
	}
	return flow.ActionSpec{
		Kind:    f.Action.Kind,
		Message: f.Action.Message,
		Command: f.Action.Command,
		Dir:     f.Action.Dir,
		Timeout: timeout,
	}, nil
}

// InvalidSchedules returns flow name -> parser error for every flow whose
// normalized schedule the timer parser rejects.
func InvalidSchedules(cfg *Config) map[string]error {
	out := map[string]error{}
	if cfg == nil {
		return out
	}
	for _, f := range cfg.Flows {
		if err := timer.Validate(f.Args.Expression()); err != nil {
			out[f.Name] = err
		}
	}
	return out
}
