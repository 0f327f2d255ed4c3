package flow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cronjob/internal/eventbus"
	"cronjob/internal/schedule"
	"cronjob/internal/storage"
	logx "cronjob/pkg/logx"
)

// Card IDs of the two built-in trigger cards.
const (
	CardExpression = "cron_expression_schedule"
	CardParts      = "cron_parts_schedule"
)

var ErrNoListener = errors.New("run listener not registered")

// State is the payload delivered with a trigger call.
type State struct {
	Schedule schedule.Expression `json:"schedule"`
}

// RunListener decides whether a flow configured with args should run for state.
type RunListener func(ctx context.Context, args schedule.Record, state State) (bool, error)

// Flow is one configured automation attached to a card.
type Flow struct {
	Name   string
	Args   schedule.Record
	Action Action
}

// RunEvent is published on the bus for every flow run.
type RunEvent struct {
	Card     string        `json:"card"`
	Flow     string        `json:"flow"`
	Schedule string        `json:"schedule"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Card is a trigger card with its flows.
type Card struct {
	id string

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	mu       sync.RWMutex
	flows    []Flow
	listener RunListener

	updates chan struct{}
}

type Option func(*Card)

func WithLogger(log logx.Logger) Option { return func(c *Card) { c.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(c *Card) { c.bus = bus } }

// WithStore appends every flow run to the run journal.
func WithStore(st storage.Store) Option { return func(c *Card) { c.store = st } }

func NewCard(id string, opts ...Option) *Card {
	c := &Card{
		id:      id,
		log:     logx.Nop(),
		updates: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c
}

func (c *Card) ID() string { return c.id }

// Name implements notifier.Consumer.
func (c *Card) Name() string { return c.id }

func (c *Card) RegisterRunListener(fn RunListener) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// SetFlows replaces the card's flows. An update is signaled when the set of
// argument records changed.
func (c *Card) SetFlows(flows []Flow) {
	cp := append([]Flow(nil), flows...)

	c.mu.Lock()
	changed := !reflect.DeepEqual(argsOf(c.flows), argsOf(cp))
	c.flows = cp
	c.mu.Unlock()

	if changed {
		c.log.Debug("card arguments changed", logx.String("card", c.id), logx.Int("flows", len(cp)))
		c.notifyUpdate()
	}
}

func (c *Card) Flows() []Flow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Flow(nil), c.flows...)
}

// Updates signals argument changes. Bursts coalesce into one pending signal.
func (c *Card) Updates() <-chan struct{} { return c.updates }

func (c *Card) notifyUpdate() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// ArgumentValues returns the argument records of every flow on the card.
func (c *Card) ArgumentValues(ctx context.Context) ([]schedule.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return argsOf(c.flows), nil
}

func argsOf(flows []Flow) []schedule.Record {
	out := make([]schedule.Record, 0, len(flows))
	for _, f := range flows {
		out = append(out, f.Args)
	}
	return out
}

// Trigger asks the run listener about every flow and runs the ones that match.
// Flow failures are isolated from each other and joined in the result.
func (c *Card) Trigger(ctx context.Context, state State) error {
	c.mu.RLock()
	listener := c.listener
	flows := append([]Flow(nil), c.flows...)
	c.mu.RUnlock()

	if listener == nil {
		return fmt.Errorf("%s: %w", c.id, ErrNoListener)
	}

	var (
		g    errgroup.Group
		emu  sync.Mutex
		errs []error
	)
	for _, f := range flows {
		f := f
		ok, err := listener(ctx, f.Args, state)
		if err != nil {
			emu.Lock()
			errs = append(errs, fmt.Errorf("flow %q: listener: %w", f.Name, err))
			emu.Unlock()
			continue
		}
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := c.run(ctx, f, state); err != nil {
				emu.Lock()
				errs = append(errs, fmt.Errorf("flow %q: %w", f.Name, err))
				emu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (c *Card) run(ctx context.Context, f Flow, state State) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		c.finish(ctx, f, state, start, err)
	}()

	c.log.Debug("flow run", logx.String("card", c.id), logx.String("flow", f.Name), logx.String("schedule", string(state.Schedule)))
	if f.Action == nil {
		return nil
	}
	return f.Action.Run(ctx, Run{Card: c.id, Flow: f.Name, Schedule: state.Schedule, At: start})
}

func (c *Card) finish(ctx context.Context, f Flow, state State, start time.Time, err error) {
	dur := time.Since(start)
	ev := RunEvent{Card: c.id, Flow: f.Name, Schedule: string(state.Schedule), Started: start, Duration: dur}
	if err != nil {
		ev.Error = err.Error()
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeFlowRun, Time: start, Data: ev})
	}
	if c.store != nil {
		e := storage.RunEntry{
			At:       start,
			Card:     c.id,
			Flow:     f.Name,
			Schedule: string(state.Schedule),
			TookMS:   dur.Milliseconds(),
			Error:    ev.Error,
		}
		if serr := c.store.AppendRun(ctx, e); serr != nil {
			c.log.Warn("run journal append failed", logx.String("flow", f.Name), logx.Err(serr))
		}
	}
}

// MatchExpression is the run listener of the raw-expression card.
func MatchExpression(_ context.Context, args schedule.Record, state State) (bool, error) {
	return schedule.Normalize(schedule.Raw(args.Schedule)) == state.Schedule, nil
}

// MatchParts is the run listener of the structured-parts card.
func MatchParts(_ context.Context, args schedule.Record, state State) (bool, error) {
	return schedule.Normalize(args.Parts()) == state.Schedule, nil
}

// ListenerFor returns the built-in listener for a card id.
func ListenerFor(cardID string) (RunListener, bool) {
	switch strings.TrimSpace(cardID) {
	case CardExpression:
		return MatchExpression, true
	case CardParts:
		return MatchParts, true
	default:
		return nil, false
	}
}
