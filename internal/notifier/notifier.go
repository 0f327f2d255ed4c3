package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"cronjob/internal/eventbus"
	"cronjob/internal/flow"
	"cronjob/internal/schedule"
	logx "cronjob/pkg/logx"
)

// ErrConsumerNotification wraps the failure of a single consumer.
var ErrConsumerNotification = errors.New("consumer notification failed")

// failureWarnInterval throttles repeated failure warnings per consumer.
const failureWarnInterval = 5 * time.Second

// Consumer receives fired schedules.
type Consumer interface {
	Name() string
	Trigger(ctx context.Context, state flow.State) error
}

// FiredEvent is published on the bus for every tick.
type FiredEvent struct {
	Schedule  string `json:"schedule"`
	Consumers int    `json:"consumers"`
	Failed    int    `json:"failed"`
}

type Notifier struct {
	log     logx.Logger
	bus     eventbus.Bus
	timeout time.Duration

	mu        sync.RWMutex
	consumers []Consumer

	warnMu sync.Mutex
	warn   map[string]*rate.Sometimes
}

type Option func(*Notifier)

func WithLogger(log logx.Logger) Option { return func(n *Notifier) { n.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(n *Notifier) { n.bus = bus } }

// WithTimeout bounds how long a single tick waits for its consumers (0 = no bound).
func WithTimeout(d time.Duration) Option { return func(n *Notifier) { n.timeout = d } }

func New(opts ...Option) *Notifier {
	n := &Notifier{warn: map[string]*rate.Sometimes{}}
	for _, o := range opts {
		o(n)
	}
	if n.log.IsZero() {
		n.log = logx.Nop()
	}
	return n
}

// Register adds consumers. Safe to call while ticks are firing.
func (n *Notifier) Register(cs ...Consumer) {
	n.mu.Lock()
	for _, c := range cs {
		if c != nil {
			n.consumers = append(n.consumers, c)
		}
	}
	n.mu.Unlock()
}

func (n *Notifier) Consumers() []Consumer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]Consumer(nil), n.consumers...)
}

// OnTick notifies every consumer with expr and waits for all of them.
// The returned error joins the per-consumer failures; it is informational.
func (n *Notifier) OnTick(ctx context.Context, expr schedule.Expression) error {
	consumers := n.Consumers()
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	state := flow.State{Schedule: expr}
	errs := make([]error, len(consumers))

	// errgroup without a derived context: one failure must not cancel siblings.
	var g errgroup.Group
	for i, c := range consumers {
		i, c := i, c
		g.Go(func() error {
			errs[i] = n.notify(ctx, c, state)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		n.reportFailure(consumers[i].Name(), expr, err)
	}

	n.log.Debug("schedule fired",
		logx.String("schedule", string(expr)),
		logx.Int("consumers", len(consumers)),
		logx.Int("failed", failed),
	)
	if n.bus != nil {
		n.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleFired, Data: FiredEvent{Schedule: string(expr), Consumers: len(consumers), Failed: failed}})
	}
	return errors.Join(errs...)
}

func (n *Notifier) notify(ctx context.Context, c Consumer, state flow.State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrConsumerNotification, c.Name(), r)
		}
	}()
	if err := c.Trigger(ctx, state); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConsumerNotification, c.Name(), err)
	}
	return nil
}

func (n *Notifier) reportFailure(consumer string, expr schedule.Expression, err error) {
	n.warnMu.Lock()
	s := n.warn[consumer]
	if s == nil {
		s = &rate.Sometimes{Interval: failureWarnInterval}
		n.warn[consumer] = s
	}
	n.warnMu.Unlock()

	logged := false
	s.Do(func() {
		logged = true
		n.log.Warn("consumer notification failed",
			logx.String("consumer", consumer),
			logx.String("schedule", string(expr)),
			logx.Err(err),
		)
	})
	if !logged {
		n.log.Debug("consumer notification failed (throttled)", logx.String("consumer", consumer), logx.Err(err))
	}
}
