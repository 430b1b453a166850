package autopilot

import (
	"context"
	"fmt"
	"time"

	"github.com/endorhq/rover/internal/autopilot/journal"
	"github.com/endorhq/rover/internal/core"
)

// pollTick fetches recent repository events and opens a trace for each
// relevant one not yet in the cursor. Irrelevant events are dropped
// without touching the cursor; consumed ids are marked only after
// their trace exists on disk.
func (a *Autopilot) pollTick(ctx context.Context) error {
	events, err := a.deps.Events.FetchEvents(ctx, a.cfg.Autopilot.FetchLimit)
	if err != nil {
		return err
	}

	var relevant []core.Event
	for _, ev := range events {
		if ev.IsRelevant() {
			relevant = append(relevant, ev)
		}
	}

	var ingested []string
	// The feed arrives newest first; ingest oldest first so trace
	// creation order follows event order.
	for i := len(relevant) - 1; i >= 0; i-- {
		ev := relevant[i]
		seen, err := a.store.IsEventProcessed(ev.ID)
		if err != nil {
			return err
		}
		if seen {
			continue
		}
		if err := a.openTrace(ev); err != nil {
			a.logger.Warn("poller: opening trace", "event_id", ev.ID, "error", err)
			if core.IsSystemFatal(err) {
				return err
			}
			continue
		}
		ingested = append(ingested, ev.ID)
	}

	if len(ingested) > 0 {
		if err := a.store.MarkEventsProcessed(ingested...); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.poller = PollerView{
		LastPoll:          time.Now().UTC(),
		LastFetchCount:    len(events),
		LastRelevantCount: len(relevant),
		LastNewCount:      len(ingested),
	}
	a.mu.Unlock()

	if len(ingested) > 0 {
		a.logger.Info("poller: events ingested",
			"fetched", len(events), "relevant", len(relevant), "new", len(ingested))
	}
	return nil
}

// openTrace creates the root event span and enqueues the coordinate
// action that starts the pipeline. The root span id is the trace id.
func (a *Autopilot) openTrace(ev core.Event) error {
	root, err := journal.StartSpan(a.store, journal.SpanOptions{
		Step: core.StepEvent,
		Meta: ev.Meta(),
	})
	if err != nil {
		return err
	}
	summary := fmt.Sprintf("%s by %s", ev.Type, ev.Author)
	if err := root.Complete(summary, nil); err != nil {
		return err
	}

	action, err := journal.WriteAction(a.store, journal.ActionOptions{
		Action: core.ActionCoordinate,
		SpanID: root.ID(),
	})
	if err != nil {
		return err
	}
	if err := journal.Enqueue(a.store, root.ID(), action, core.StepEvent, summary); err != nil {
		return err
	}

	a.index.Append(root.ID(), core.ActionStep{
		ActionID:  action.ID,
		Action:    core.ActionCoordinate,
		Status:    core.StepPending,
		Timestamp: action.Timestamp,
	})
	return nil
}
