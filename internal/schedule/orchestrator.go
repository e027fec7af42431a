package schedule

import (
	"context"
	"sync/atomic"

	"eventra/internal/event"
	logx "eventra/pkg/logx"

	"golang.org/x/sync/errgroup"
)

// EventLister is the part of the event store bulk operations read.
type EventLister interface {
	ListEvents(ctx context.Context) ([]event.Record, error)
}

// BulkReport counts events seen and events the operation ran for. Per-event
// failures are logged by the coordinator, not collected.
type BulkReport struct {
	Total     int
	Processed int
}

type Orchestrator struct {
	coord   *Coordinator
	events  EventLister
	workers int
	log     logx.Logger
}

func NewOrchestrator(coord *Coordinator, events EventLister) *Orchestrator {
	return &Orchestrator{coord: coord, events: events, workers: coord.cfg.BulkWorkers, log: coord.log}
}

// CancelAllForAllEvents cancels every registration of every stored event.
func (o *Orchestrator) CancelAllForAllEvents(ctx context.Context) (BulkReport, error) {
	return o.each(ctx, "cancel_all", func(ctx context.Context, ev event.Record) {
		o.coord.CancelAll(ctx, ev)
	})
}

// RescheduleAllForAllEvents rebuilds the registrations of every stored event.
func (o *Orchestrator) RescheduleAllForAllEvents(ctx context.Context) (BulkReport, error) {
	return o.each(ctx, "reschedule_all", func(ctx context.Context, ev event.Record) {
		o.coord.Reschedule(ctx, ev, ev)
	})
}

// each runs fn for every stored event with bounded parallelism. Only a
// failure to list the store is returned.
func (o *Orchestrator) each(ctx context.Context, op string, fn func(context.Context, event.Record)) (BulkReport, error) {
	evs, err := o.events.ListEvents(ctx)
	if err != nil {
		o.log.Error("list events failed", logx.String("op", op), logx.Err(err))
		return BulkReport{}, err
	}
	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, ev := range evs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			fn(gctx, ev)
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	rep := BulkReport{Total: len(evs), Processed: int(processed.Load())}
	o.log.Info("bulk operation done", logx.String("op", op), logx.Int("total", rep.Total), logx.Int("processed", rep.Processed))
	return rep, nil
}
