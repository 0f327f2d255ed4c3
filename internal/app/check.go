package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"cronjob/internal/config"
	"cronjob/internal/storage"
	"cronjob/internal/task/scheduler"
	"cronjob/internal/task/timer"
	logx "cronjob/pkg/logx"
)

// recentRunsShown is how many journal entries Check prints.
const recentRunsShown = 10

// Check validates the config at cfgPath and writes the desired schedule set
// with each expression's next fire time after now. No timers are started.
// Expressions the timer parser rejects are listed, not treated as errors.
// When a run journal is configured, its latest entries follow.
func Check(cfgPath string, w io.Writer, now time.Time) error {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.Validator)
	cfg, err := cfgm.Load()
	if err != nil {
		return err
	}

	cards := newCards(logx.Nop(), nil, nil)
	applyFlows(cards, cfg, logx.Nop())
	sources := make([]scheduler.ArgumentSource, 0, len(cards))
	for _, c := range sortedCards(cards) {
		sources = append(sources, c)
	}
	desired, err := scheduler.Collect(context.Background(), sources...)
	if err != nil {
		return err
	}

	tz := cfg.Clock.Timezone
	if tz == "" {
		tz = "Local"
	}
	fmt.Fprintf(w, "config ok: %d flows, %d schedules, timezone %s\n", len(cfg.Flows), desired.Len(), tz)

	invalid := scheduler.Validate(desired)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEDULE\tUNIT\tNEXT")
	for _, e := range desired.Sorted() {
		unit := "minute"
		if e.HasSeconds() {
			unit = "second"
		}
		if err := invalid[e]; err != nil {
			fmt.Fprintf(tw, "%s\t%s\tinvalid: %v\n", e, unit, err)
			continue
		}
		next, err := timer.Next(e, cfg.Clock.Timezone, now)
		if err != nil {
			fmt.Fprintf(tw, "%s\t%s\tinvalid: %v\n", e, unit, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e, unit, next.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return printRecentRuns(cfg, w)
}

func printRecentRuns(cfg *config.Config, w io.Writer) error {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return err
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.RecentRuns(context.Background(), recentRunsShown)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nrecent runs (%s):\n", sc.Driver)
	if len(runs) == 0 {
		fmt.Fprintln(w, "none")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tFLOW\tSCHEDULE\tTOOK\tERROR")
	for _, r := range runs {
		errText := r.Error
		if errText == "" {
			errText = "-"
		}
		took := time.Duration(r.TookMS) * time.Millisecond
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.At.Format(time.RFC3339), r.Flow, r.Schedule, took, errText)
	}
	return tw.Flush()
}
