package app

import (
	"sort"
	"strings"

	"cronjob/internal/config"
	"cronjob/internal/eventbus"
	"cronjob/internal/flow"
	"cronjob/internal/storage"
	logx "cronjob/pkg/logx"
)

// cardIDs lists the trigger cards hosted by the app.
var cardIDs = []string{flow.CardExpression, flow.CardParts}

func newCards(log logx.Logger, bus eventbus.Bus, store storage.Store) map[string]*flow.Card {
	cards := make(map[string]*flow.Card, len(cardIDs))
	for _, id := range cardIDs {
		opts := []flow.Option{flow.WithLogger(log.With(logx.String("card", id))), flow.WithBus(bus)}
		if store != nil {
			opts = append(opts, flow.WithStore(store))
		}
		c := flow.NewCard(id, opts...)
		if l, ok := flow.ListenerFor(id); ok {
			c.RegisterRunListener(l)
		}
		cards[id] = c
	}
	return cards
}

// applyFlows replaces the flows of every card with the ones in cfg.
// Flows whose action cannot be built are skipped.
func applyFlows(cards map[string]*flow.Card, cfg *config.Config, log logx.Logger) {
	byCard := make(map[string][]flow.Flow, len(cards))
	for _, fc := range cfg.Flows {
		id := strings.TrimSpace(fc.Card)
		if _, ok := cards[id]; !ok {
			log.Warn("flow skipped: unknown card", logx.String("flow", fc.Name), logx.String("card", fc.Card))
			continue
		}
		spec, err := fc.ActionSpec()
		if err != nil {
			log.Warn("flow skipped: invalid action", logx.String("flow", fc.Name), logx.Err(err))
			continue
		}
		act, err := flow.BuildAction(spec, log.With(logx.String("flow", fc.Name)))
		if err != nil {
			log.Warn("flow skipped: invalid action", logx.String("flow", fc.Name), logx.Err(err))
			continue
		}
		byCard[id] = append(byCard[id], flow.Flow{Name: strings.TrimSpace(fc.Name), Args: fc.Args, Action: act})
	}
	for id, c := range cards {
		c.SetFlows(byCard[id])
	}
}

func sortedCards(cards map[string]*flow.Card) []*flow.Card {
	out := make([]*flow.Card, 0, len(cards))
	for _, c := range cards {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// logInvalidSchedules reports flows whose schedule the timer parser rejects.
// They stay configured; only their timer fails to start.
func logInvalidSchedules(cfg *config.Config, log logx.Logger) {
	bad := config.InvalidSchedules(cfg)
	names := make([]string, 0, len(bad))
	for n := range bad {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		log.Warn("flow schedule rejected by timer parser", logx.String("flow", n), logx.Err(bad[n]))
	}
}
