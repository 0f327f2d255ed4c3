package scheduler

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"cronjob/internal/schedule"
	"cronjob/internal/task/timer"
)

// ErrSourceUnavailable is returned when an argument source fails to answer.
var ErrSourceUnavailable = errors.New("argument source unavailable")

// ArgumentSource supplies the argument records configured on a trigger card.
type ArgumentSource interface {
	ArgumentValues(ctx context.Context) ([]schedule.Record, error)
}

// Collect queries every source and returns the union of their normalized
// schedules. Any failing source fails the whole collection.
func Collect(ctx context.Context, sources ...ArgumentSource) (schedule.Set, error) {
	results := make([][]schedule.Record, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		if src == nil {
			continue
		}
		g.Go(func() error {
			recs, err := src.ArgumentValues(gctx)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, sourceName(src, i), err)
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	desired := schedule.Set{}
	for _, recs := range results {
		for _, r := range recs {
			desired.Add(r.Expression())
		}
	}
	return desired, nil
}

// Validate checks every expression against the timer parser and returns the
// rejected ones.
func Validate(desired schedule.Set) map[schedule.Expression]error {
	bad := map[schedule.Expression]error{}
	for _, e := range desired.Sorted() {
		if err := timer.Validate(e); err != nil {
			bad[e] = err
		}
	}
	return bad
}

func sourceName(src ArgumentSource, idx int) string {
	if n, ok := src.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("source[%d]", idx)
}
