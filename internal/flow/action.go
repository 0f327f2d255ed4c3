package flow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"cronjob/internal/schedule"
	logx "cronjob/pkg/logx"
)

// Run describes one flow execution.
type Run struct {
	Card     string
	Flow     string
	Schedule schedule.Expression
	At       time.Time
}

// Action is what a flow does when its schedule fires.
type Action interface {
	Run(ctx context.Context, r Run) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, r Run) error

func (f ActionFunc) Run(ctx context.Context, r Run) error { return f(ctx, r) }

// ActionSpec is the decoded action config of a flow.
type ActionSpec struct {
	Kind    string // "log" (default) | "exec"
	Message string
	Command []string
	Dir     string
	Timeout time.Duration
}

const defaultExecTimeout = time.Minute

// BuildAction turns a spec into an Action.
func BuildAction(spec ActionSpec, log logx.Logger) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
	case "", "log":
		return &LogAction{Message: spec.Message, Log: log}, nil
	case "exec":
		if len(spec.Command) == 0 || strings.TrimSpace(spec.Command[0]) == "" {
			return nil, errors.New("exec action requires command")
		}
		timeout := spec.Timeout
		if timeout <= 0 {
			timeout = defaultExecTimeout
		}
		return &ExecAction{Command: append([]string(nil), spec.Command...), Dir: spec.Dir, Timeout: timeout, Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", spec.Kind)
	}
}

// LogAction writes one info line per run.
type LogAction struct {
	Message string
	Log     logx.Logger
}

func (a *LogAction) Run(_ context.Context, r Run) error {
	msg := strings.TrimSpace(a.Message)
	if msg == "" {
		msg = "flow triggered"
	}
	a.Log.Info(msg, logx.String("card", r.Card), logx.String("flow", r.Flow), logx.String("schedule", string(r.Schedule)))
	return nil
}

// ExecAction runs a command. The run is exposed through CRONJOB_* env vars.
type ExecAction struct {
	Command []string
	Dir     string
	Timeout time.Duration
	Log     logx.Logger
}

func (a *ExecAction) Run(ctx context.Context, r Run) error {
	cctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, a.Command[0], a.Command[1:]...)
	cmd.Dir = a.Dir
	cmd.Env = append(os.Environ(),
		"CRONJOB_CARD="+r.Card,
		"CRONJOB_FLOW="+r.Flow,
		"CRONJOB_SCHEDULE="+string(r.Schedule),
		"CRONJOB_FIRED_AT="+r.At.Format(time.RFC3339),
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	fields := []logx.Field{
		logx.String("flow", r.Flow),
		logx.String("cmd", a.Command[0]),
		logx.Duration("took", time.Since(start)),
	}
	if s := strings.TrimSpace(out.String()); s != "" {
		fields = append(fields, logx.String("output", truncate(s, 2000)))
	}
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", a.Timeout, err)
		}
		a.Log.Warn("exec action failed", append(fields, logx.Err(err))...)
		return err
	}
	a.Log.Debug("exec action finished", fields...)
	return nil
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
