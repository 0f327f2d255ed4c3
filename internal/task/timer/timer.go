package timer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"cronjob/internal/schedule"
)

var (
	// ErrInvalidExpression is returned when the cron parser rejects an expression.
	ErrInvalidExpression = errors.New("invalid cron expression")
	// ErrInvalidTimezone is returned when the timezone is not a known IANA zone.
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// TickFunc is invoked on every fire of a timer.
type TickFunc func(ctx context.Context)

// Handle is a live timer.
type Handle interface {
	Expression() schedule.Expression
	Timezone() string
	// Next returns the next fire time (zero if stopped).
	Next() time.Time
	// Stop is idempotent. After it returns no new tick is started.
	Stop()
}

// Factory creates timers.
type Factory interface {
	Create(expr schedule.Expression, tz string, onTick TickFunc) (Handle, error)
}

// Parser accepts 5-field and 6-field (leading seconds) specs plus descriptors
// like "@hourly".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether expr would be accepted by Create.
func Validate(expr schedule.Expression) error {
	_, err := parse(expr)
	return err
}

func parse(expr schedule.Expression) (cron.Schedule, error) {
	s := strings.TrimSpace(string(expr))
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidExpression)
	}
	// CRON_TZ/TZ prefixes would override the bound location.
	if strings.HasPrefix(s, "TZ=") || strings.HasPrefix(s, "CRON_TZ=") {
		return nil, fmt.Errorf("%w: %q: timezone prefix not allowed", ErrInvalidExpression, s)
	}
	sched, err := Parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, s, err)
	}
	return sched, nil
}

// Next returns the first fire time of expr after t in zone tz.
func Next(expr schedule.Expression, tz string, t time.Time) (time.Time, error) {
	sched, err := parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := LoadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t.In(loc)), nil
}

// LoadLocation resolves tz ("" or "Local" = process local zone).
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || tz == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, tz, err)
	}
	return loc, nil
}

// CronFactory creates robfig/cron backed timers.
type CronFactory struct {
	// Context is passed to tick callbacks (defaults to context.Background()).
	Context context.Context
}

func NewCronFactory(ctx context.Context) *CronFactory {
	if ctx == nil {
		ctx = context.Background()
	}
	return &CronFactory{Context: ctx}
}

func (f *CronFactory) Create(expr schedule.Expression, tz string, onTick TickFunc) (Handle, error) {
	if onTick == nil {
		return nil, errors.New("tick callback required")
	}
	sched, err := parse(expr)
	if err != nil {
		return nil, err
	}
	loc, err := LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	ctx := f.Context
	if ctx == nil {
		ctx = context.Background()
	}

	h := &cronHandle{
		expr:  expr,
		tz:    loc.String(),
		sched: sched,
		c:     cron.New(cron.WithParser(Parser), cron.WithLocation(loc)),
	}
	h.entry = h.c.Schedule(sched, cron.FuncJob(func() {
		if h.stopped.Load() {
			return
		}
		onTick(ctx)
	}))
	h.c.Start()
	return h, nil
}

type cronHandle struct {
	expr  schedule.Expression
	tz    string
	sched cron.Schedule

	c     *cron.Cron
	entry cron.EntryID

	stopped  atomic.Bool
	stopOnce sync.Once
}

func (h *cronHandle) Expression() schedule.Expression { return h.expr }
func (h *cronHandle) Timezone() string                { return h.tz }

func (h *cronHandle) Next() time.Time {
	if h.stopped.Load() {
		return time.Time{}
	}
	return h.c.Entry(h.entry).Next
}

// Stop prevents further ticks and does not wait for a running one, so it is
// safe to call from the tick callback itself.
//
// Race: a tick that passed the stopped check just before Stop still
// delivers its notification.
func (h *cronHandle) Stop() {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		h.c.Stop()
	})
}
