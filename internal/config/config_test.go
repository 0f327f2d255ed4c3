package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cronjob/internal/flow"
	"cronjob/internal/schedule"
)

const sampleYAML = `
logging:
  level: debug
  console: true
clock:
  timezone: Asia/Jakarta
scheduler:
  enabled: true
  refresh_debounce: 200ms
storage:
  driver: sqlite
  path: ./data/cronjob.db
flows:
  - name: weekly-report
    card: cron_expression_schedule
    args:
      schedule: "0  9 * * 1"
    action:
      kind: exec
      command: ["/usr/local/bin/report", "--weekly"]
      timeout: 30s
  - name: noon
    card: cron_parts_schedule
    args:
      minute: "0"
      hour: "12"
      dayOfMonth: "*"
      month: "*"
      day_of_week: "*"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "cronjob.yaml", sampleYAML))
	m.SetValidator(Validator)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Clock.Timezone != "Asia/Jakarta" || !cfg.Scheduler.Enabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Flows) != 2 {
		t.Fatalf("flows = %d", len(cfg.Flows))
	}
	if got := cfg.Flows[0].Args.Expression(); got != "0 9 * * 1" {
		t.Fatalf("raw expression = %q", got)
	}
	if got := cfg.Flows[1].Args.Expression(); got != "0 12 * * *" {
		t.Fatalf("parts expression = %q", got)
	}
	spec, err := cfg.Flows[0].ActionSpec()
	if err != nil || spec.Timeout != 30*time.Second || len(spec.Command) != 2 {
		t.Fatalf("ActionSpec = %+v, %v", spec, err)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"top level":  `{"scheduler":{"enabled":true},"bogus":1}`,
		"flow args":  `{"flows":[{"name":"a","card":"cron_expression_schedule","args":{"schedule":"* * * * *","tz":"UTC"}}]}`,
		"trailing":   `{"flows":[]} {}`,
		"bad syntax": `{"flows":`,
	}
	for name, body := range cases {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode("c.json", []byte(body)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	good := func() *Config {
		return &Config{
			Scheduler: SchedulerConfig{Enabled: true},
			Flows: []FlowConfig{
				{Name: "a", Card: flow.CardExpression, Args: schedule.Record{Schedule: "* * * * *"}},
			},
		}
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"timezone", func(c *Config) { c.Clock.Timezone = "Mars/Olympus" }, "clock.timezone"},
		{"debounce", func(c *Config) { c.Scheduler.RefreshDebounce = "soon" }, "scheduler.refresh_debounce"},
		{"tick timeout", func(c *Config) { c.Scheduler.TickTimeout = "-5s" }, "scheduler.tick_timeout"},
		{"tick timeout ok", func(c *Config) { c.Scheduler.TickTimeout = "30s" }, ""},
		{"storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, "storage.driver"},
		{"storage path", func(c *Config) { c.Storage = &StorageConfig{Driver: "file"} }, "storage.path"},
		{"unknown card", func(c *Config) { c.Flows[0].Card = "x" }, `flows[0].card: unknown card "x"`},
		{"missing name", func(c *Config) { c.Flows[0].Name = " " }, "flows[0].name"},
		{"duplicate name", func(c *Config) { c.Flows = append(c.Flows, c.Flows[0]) }, "flows[1].name: duplicate"},
		{"raw on parts card", func(c *Config) { c.Flows[0].Card = flow.CardParts }, "flows[0].args.schedule"},
		{"empty raw", func(c *Config) { c.Flows[0].Args = schedule.Record{Minute: "0"} }, "flows[0].args.schedule"},
		{"parts ok", func(c *Config) {
			c.Flows[0] = FlowConfig{Name: "a", Card: flow.CardParts, Args: schedule.Record{
				Second: "0", Minute: "9", Hour: "*", DayOfMonth: "*", Month: "*", DayOfWeek: "*",
			}}
		}, ""},
		{"parts missing day of week", func(c *Config) {
			c.Flows[0] = FlowConfig{Name: "a", Card: flow.CardParts, Args: schedule.Record{
				Second: "0", Minute: "9", Hour: "*", DayOfMonth: "*", Month: "*",
			}}
		}, "flows[0].args.day_of_week: required"},
		{"parts all empty", func(c *Config) {
			c.Flows[0] = FlowConfig{Name: "a", Card: flow.CardParts}
		}, "flows[0].args.minute: required"},
		{"exec without command", func(c *Config) { c.Flows[0].Action.Kind = "exec" }, "flows[0].action"},
		{"action timeout", func(c *Config) { c.Flows[0].Action.Timeout = "-1s" }, "flows[0].action"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := good()
			tc.mutate(c)
			err := Validate(c)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestInvalidSchedulesAreNotConfigErrors(t *testing.T) {
	t.Parallel()
	c := &Config{Flows: []FlowConfig{
		{Name: "ok", Card: flow.CardExpression, Args: schedule.Record{Schedule: "0 9 * * *"}},
		{Name: "bad", Card: flow.CardExpression, Args: schedule.Record{Schedule: "99 * * * *"}},
	}}
	if err := Validate(c); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := InvalidSchedules(c)
	if len(bad) != 1 || bad["bad"] == nil {
		t.Fatalf("InvalidSchedules = %v", bad)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{
		Clock: ClockConfig{Timezone: "UTC"},
		Flows: []FlowConfig{
			{Name: "a", Card: flow.CardExpression, Args: schedule.Record{Schedule: "1 * * * *"}},
			{Name: "b", Card: flow.CardExpression, Args: schedule.Record{Schedule: "2 * * * *"}},
		},
	}
	cur := &Config{
		Clock: ClockConfig{Timezone: "Europe/Berlin"},
		Flows: []FlowConfig{
			{Name: "a", Card: flow.CardExpression, Args: schedule.Record{Schedule: "1 * * * *"}},
			{Name: "b", Card: flow.CardExpression, Args: schedule.Record{Schedule: "3 * * * *"}},
			{Name: "c", Card: flow.CardParts, Args: schedule.Record{Minute: "0"}},
		},
	}
	sections, attrs, flows := SummarizeConfigChange(old, cur)
	if strings.Join(sections, ",") != "clock,flows" {
		t.Fatalf("sections = %v", sections)
	}
	if strings.Join(flows, ",") != "b,c" {
		t.Fatalf("flows = %v", flows)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if s, _, _ := SummarizeConfigChange(cur, cur); len(s) != 0 {
		t.Fatalf("identical configs reported %v", s)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "cronjob.json", `{"scheduler":{"enabled":true},"flows":[]}`)
	m := NewConfigManager(path)
	m.SetValidator(Validator)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Rejected by the validator: must not be published.
	if err := os.WriteFile(path, []byte(`{"scheduler":{"enabled":true},"flows":[{"name":"","card":"x"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * reloadDebounce)

	body := `{"scheduler":{"enabled":true},"flows":[{"name":"a","card":"cron_expression_schedule","args":{"schedule":"*/5 * * * *"}}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-sub:
		if len(cfg.Flows) != 1 || cfg.Flows[0].Name != "a" {
			t.Fatalf("published %+v", cfg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config change not published")
	}
}
