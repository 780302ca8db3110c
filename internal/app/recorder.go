package app

import (
	"context"
	"encoding/json"
	"time"

	"topicwatch/internal/eventbus"
	"topicwatch/internal/monitor"
	"topicwatch/internal/notifier"
	"topicwatch/internal/storage"
	logx "topicwatch/pkg/logx"
)

// recorder writes notifier and monitor events into the audit store.
type recorder struct {
	store storage.Store
	log   logx.Logger
}

// subscribe registers on the bus before any component publishes, then drains
// events in run until ctx is done.
func (r *recorder) subscribe(bus eventbus.Bus) func(ctx context.Context) {
	ch, unsub := bus.Subscribe(256)
	return func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				r.drain(ctx, ch)
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				r.record(ctx, e)
			}
		}
	}
}

// drain records events already queued when ctx ends, so a short-lived run
// (--once) keeps the audit rows of its last cycle.
func (r *recorder) drain(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.record(ctx, e)
		default:
			return
		}
	}
}

func (r *recorder) record(ctx context.Context, e eventbus.Event) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var err error
	switch e.Type {
	case eventbus.TypeNotifierSent, eventbus.TypeNotifierDeduped, eventbus.TypeNotifierFailed:
		ev, ok := e.Data.(notifier.NotificationEvent)
		if !ok {
			return
		}
		err = r.store.AppendDelivery(wctx, deliveryFromEvent(e.Type, ev))
	case eventbus.TypeMonitorCycle:
		sum, ok := e.Data.(monitor.CycleSummary)
		if !ok {
			return
		}
		err = r.store.AppendCycle(wctx, cycleFromSummary(sum))
	default:
		return
	}
	if err != nil {
		r.log.Warn("audit write failed", logx.String("event", e.Type), logx.Err(err))
	}
}

func deliveryFromEvent(typ string, ev notifier.NotificationEvent) storage.Delivery {
	status := storage.DeliverySent
	switch typ {
	case eventbus.TypeNotifierDeduped:
		status = storage.DeliveryDeduped
	case eventbus.TypeNotifierFailed:
		status = storage.DeliveryFailed
	}
	return storage.Delivery{
		At:          ev.At,
		Source:      ev.Source,
		SourceID:    ev.SourceID,
		Destination: ev.Destination,
		PostID:      ev.PostID,
		Posts:       ev.Posts,
		Status:      status,
		Error:       ev.Error,
	}
}

func cycleFromSummary(sum monitor.CycleSummary) storage.Cycle {
	c := storage.Cycle{
		Started:  sum.Started,
		TookMS:   sum.Took.Milliseconds(),
		Channels: sum.Channels,
		Notified: sum.Notified,
		Deduped:  sum.Deduped,
		Skipped:  sum.Skipped,
		Failed:   sum.Failed,
		Error:    sum.Error,
	}
	if len(sum.Outcomes) > 0 {
		if b, err := json.Marshal(sum.Outcomes); err == nil {
			c.OutcomesJSON = string(b)
		}
	}
	return c
}
