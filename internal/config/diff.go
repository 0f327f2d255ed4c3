package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cronjob/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for the reload log line, and (3) the names of flows
// that were added, removed or modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Clock.Timezone) != strings.TrimSpace(newCfg.Clock.Timezone) ||
		oldCfg.Clock.WatchLocal != newCfg.Clock.WatchLocal {
		changed = append(changed, "clock")
		attrs = append(attrs,
			logx.String("clock.timezone", strings.TrimSpace(newCfg.Clock.Timezone)),
			logx.Bool("clock.watch_local", newCfg.Clock.WatchLocal),
		)
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.RefreshDebounce) != strings.TrimSpace(newCfg.Scheduler.RefreshDebounce) ||
		strings.TrimSpace(oldCfg.Scheduler.TickTimeout) != strings.TrimSpace(newCfg.Scheduler.TickTimeout) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.refresh_debounce", strings.TrimSpace(newCfg.Scheduler.RefreshDebounce)),
			logx.String("scheduler.tick_timeout", strings.TrimSpace(newCfg.Scheduler.TickTimeout)),
		)
	}

	// Nil storage means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	flowsChanged := diffFlows(oldCfg.Flows, newCfg.Flows)
	if len(flowsChanged) > 0 {
		changed = append(changed, "flows")
		attrs = append(attrs,
			logx.Int("flows.changed_count", len(flowsChanged)),
			logx.Int("flows.count", len(newCfg.Flows)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, flowsChanged
}

func diffFlows(oldF, newF []FlowConfig) []string {
	index := func(fs []FlowConfig) map[string]FlowConfig {
		m := make(map[string]FlowConfig, len(fs))
		for _, f := range fs {
			m[strings.TrimSpace(f.Name)] = f
		}
		return m
	}
	om, nm := index(oldF), index(newF)

	out := make([]string, 0)
	for name, o := range om {
		n, ok := nm[name]
		if !ok || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	for name := range nm {
		if _, ok := om[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
