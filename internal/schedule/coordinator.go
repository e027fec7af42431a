package schedule

import (
	"context"
	"errors"
	"time"

	"eventra/internal/event"
	"eventra/internal/registry"
	logx "eventra/pkg/logx"
)

// Registry is the deferred-execution service the coordinator registers with.
type Registry interface {
	ScheduleAt(ctx context.Context, at time.Time, id event.TaskID, kind event.Kind, payload []byte) error
	Cancel(ctx context.Context, id event.TaskID) error
}

type Config struct {
	// PastGrace still schedules triggers up to this far in the past.
	PastGrace time.Duration
	// BulkWorkers bounds per-event parallelism in bulk operations.
	BulkWorkers int
}

func DefaultConfig() Config { return Config{BulkWorkers: 4} }

// Planned is one candidate registration for an event.
type Planned struct {
	Kind      event.Kind
	TaskID    event.TaskID
	TriggerAt time.Time
	Past      bool
}

// Result summarizes ScheduleAll by kind.
type Result struct {
	Scheduled   []event.Kind
	SkippedPast []event.Kind
	Rejected    []event.Kind
}

type Coordinator struct {
	cfg Config
	reg Registry
	log logx.Logger
	now func() time.Time
}

type CoordinatorOption func(*Coordinator)

// WithNow sets the clock past-trigger decisions are made against. It should
// be the registry's clock so a trigger judged future is also armed as
// future.
func WithNow(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCoordinator(cfg Config, reg Registry, log logx.Logger, opts ...CoordinatorOption) *Coordinator {
	if cfg.BulkWorkers <= 0 {
		cfg.BulkWorkers = 4
	}
	if cfg.PastGrace < 0 {
		cfg.PastGrace = 0
	}
	c := &Coordinator{cfg: cfg, reg: reg, log: log.Component("schedule"), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Plan lists the registrations ev needs, in reminder, start, end order.
// All-day events need none.
func Plan(ev event.Record, now time.Time, grace time.Duration) []Planned {
	if ev.AllDay {
		return nil
	}
	var out []Planned
	add := func(k event.Kind, at time.Time) {
		out = append(out, Planned{
			Kind:      k,
			TaskID:    event.TaskIDFor(ev.ID, k),
			TriggerAt: at,
			Past:      at.Before(now.Add(-grace)),
		})
	}
	if at, ok := ev.Reminder(); ok {
		add(event.KindReminder, at)
	}
	add(event.KindStart, ev.Start)
	if ev.HasEnd() {
		add(event.KindEnd, *ev.End)
	}
	return out
}

// Plan is the package Plan with the coordinator's grace.
func (c *Coordinator) Plan(ev event.Record, now time.Time) []Planned {
	return Plan(ev, now, c.cfg.PastGrace)
}

// ScheduleAll registers every future trigger of ev. Nothing is returned as
// an error: invalid records, past triggers and rejections are logged.
func (c *Coordinator) ScheduleAll(ctx context.Context, ev event.Record) Result {
	var res Result
	log := c.log.With(logx.Int64("event", ev.ID))
	if err := ev.Validate(); err != nil {
		log.Warn("not scheduling invalid event", logx.Err(err))
		return res
	}
	payload, err := event.Encode(ev)
	if err != nil {
		log.Warn("payload encode failed", logx.Err(err))
		return res
	}

	for _, p := range c.Plan(ev, c.now()) {
		if p.Past {
			log.Info("trigger in the past; skipped", logx.Stringer("kind", p.Kind), logx.Time("at", p.TriggerAt))
			res.SkippedPast = append(res.SkippedPast, p.Kind)
			continue
		}
		err := c.reg.ScheduleAt(ctx, p.TriggerAt, p.TaskID, p.Kind, payload)
		switch {
		case err == nil:
			res.Scheduled = append(res.Scheduled, p.Kind)
		case errors.Is(err, registry.ErrRejected):
			log.Warn("registration rejected", logx.Stringer("kind", p.Kind), logx.Err(err))
			res.Rejected = append(res.Rejected, p.Kind)
		default:
			log.Error("registration failed", logx.Stringer("kind", p.Kind), logx.Err(err))
			res.Rejected = append(res.Rejected, p.Kind)
		}
	}
	log.Debug("event scheduled", logx.Int("scheduled", len(res.Scheduled)), logx.Int("skipped", len(res.SkippedPast)), logx.Int("rejected", len(res.Rejected)))
	return res
}

// CancelAll cancels all three possible registrations of ev, scheduled or not.
func (c *Coordinator) CancelAll(ctx context.Context, ev event.Record) {
	c.CancelAllByID(ctx, ev.ID)
}

func (c *Coordinator) CancelAllByID(ctx context.Context, id int64) {
	for _, k := range event.Kinds {
		if err := c.reg.Cancel(ctx, event.TaskIDFor(id, k)); err != nil {
			c.log.Warn("cancel failed", logx.Int64("event", id), logx.Stringer("kind", k), logx.Err(err))
		}
	}
}

// Reschedule replaces the registrations of old with those of new. Stale
// triggers are always cancelled before new ones are armed.
func (c *Coordinator) Reschedule(ctx context.Context, old, new event.Record) Result {
	c.CancelAll(ctx, old)
	if new.ID != old.ID {
		c.CancelAll(ctx, new)
	}
	return c.ScheduleAll(ctx, new)
}
