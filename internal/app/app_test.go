package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cronjob/internal/storage"
	logx "cronjob/pkg/logx"
)

const baseConfig = `{
  "logging": {"level": "error"},
  "clock": {"timezone": "UTC"},
  "scheduler": {"enabled": true},
  "storage": {"driver": "file", "path": "%STORE%"},
  "flows": [
    {"name": "hourly", "card": "cron_expression_schedule", "args": {"schedule": "0 * * * *"}},
    {"name": "hourly-parts", "card": "cron_parts_schedule",
     "args": {"minute": "0", "hour": "*", "day_of_month": "*", "month": "*", "day_of_week": "*"}},
    {"name": "broken", "card": "cron_expression_schedule", "args": {"schedule": "99 * * * *"}}
  ]
}`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	body = strings.ReplaceAll(body, "%STORE%", filepath.Join(dir, "journal"))
	p := filepath.Join(dir, "cronjob.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAppReconcilesConfiguredFlows(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig)

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The raw and parts flows share one timer; the broken one gets none.
	waitFor(t, "initial pass", func() bool {
		snap := a.Scheduler().Snapshot()
		return len(snap.Schedules) == 1 && snap.LastPass.Failed == 1
	})
	if got := a.Scheduler().Snapshot().Expressions(); got[0] != "0 * * * *" {
		t.Fatalf("schedules = %v", got)
	}

	// Hot reload: new timezone and a changed flow list.
	updated := strings.Replace(baseConfig, `"timezone": "UTC"`, `"timezone": "Asia/Jakarta"`, 1)
	updated = strings.Replace(updated, `"schedule": "99 * * * *"`, `"schedule": "30 6 * * *"`, 1)
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, updated)

	waitFor(t, "reload pass", func() bool {
		snap := a.Scheduler().Snapshot()
		if snap.Timezone != "Asia/Jakarta" || len(snap.Schedules) != 2 {
			return false
		}
		for _, s := range snap.Schedules {
			if s.Timezone != "Asia/Jakarta" {
				return false
			}
		}
		return true
	})

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, "test"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := len(a.Scheduler().Snapshot().Schedules); n != 0 {
		t.Fatalf("%d timers left after Stop", n)
	}
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"scheduler":{"enabled":true},"flows":[{"name":"x","card":"nope"}]}`)
	if _, err := NewApp(path); err == nil || !strings.Contains(err.Error(), `flows[0].card`) {
		t.Fatalf("NewApp = %v", err)
	}
}

func TestCheckPrintsDesiredSet(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, strings.Replace(baseConfig, `"schedule": "0 * * * *"`, `"schedule": "30 0 * * * *"`, 1))

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "journal")}, logx.Nop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if err := st.AppendRun(context.Background(), storage.RunEntry{At: at, Card: "cron_parts_schedule", Flow: "hourly-parts", Schedule: "0 * * * *", TookMS: 12}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	_ = st.Close()

	var out bytes.Buffer
	now := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)
	if err := Check(path, &out, now); err != nil {
		t.Fatalf("Check: %v", err)
	}
	s := out.String()
	for _, want := range []string{
		"3 flows, 3 schedules, timezone UTC",
		"30 0 * * * *  second  2024-01-01T11:00:30Z",
		"0 * * * *     minute  2024-01-01T11:00:00Z",
		"99 * * * *",
		"invalid",
		"recent runs (file):",
		"2024-01-01T10:00:00Z  hourly-parts  0 * * * *  12ms  -",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("output missing %q:\n%s", want, s)
		}
	}
}

func TestAppLogsRunningSchedulesAndStopStats(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "cronjob.log")
	body := strings.Replace(baseConfig,
		`"logging": {"level": "error"}`,
		`"logging": {"level": "info", "file": {"enabled": true, "path": "`+filepath.ToSlash(logPath)+`"}}`, 1)
	path := writeConfig(t, dir, body)

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "initial pass", func() bool { return len(a.Scheduler().Snapshot().Schedules) == 1 })

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, "test"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(raw)
	for _, want := range []string{
		`"message":"schedules running"`,
		`"expressions":["0 * * * *"]`,
		`"message":"stopped"`,
		`"events_dropped":`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %s:\n%s", want, out)
		}
	}
}
