package dispatch

import (
	"context"
	"runtime/debug"
	"time"

	"eventra/internal/alert"
	"eventra/internal/event"
	"eventra/internal/eventbus"
	"eventra/internal/registry"
	"eventra/internal/storage"
	logx "eventra/pkg/logx"
)

type Config struct {
	// StaleAfter drops alerts delivered more than this long after their
	// trigger time, e.g. after the daemon was down for days. 0 keeps them.
	StaleAfter time.Duration
}

type Dispatcher struct {
	cfg      Config
	render   *alert.Renderer
	settings SettingsSource
	perm     Permission
	pub      Publisher
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option   { return func(d *Dispatcher) { d.log = log } }
func WithBus(bus eventbus.Bus) Option     { return func(d *Dispatcher) { d.bus = bus } }
func WithConfig(cfg Config) Option        { return func(d *Dispatcher) { d.cfg = cfg } }
func WithNow(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// New builds a dispatcher. perm nil means always granted.
func New(r *alert.Renderer, settings SettingsSource, perm Permission, pub Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		render:   r,
		settings: settings,
		perm:     perm,
		pub:      pub,
		bus:      eventbus.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.Component("dispatch")
	if d.perm == nil {
		d.perm = PermissionFunc(func(context.Context) bool { return true })
	}
	return d
}

// Deliver implements registry.Handler. It never returns an error: a
// dropped alert is not retried.
func (d *Dispatcher) Deliver(ctx context.Context, del registry.Delivery) error {
	out := d.Dispatch(ctx, del.Kind, del.Payload)
	if out.Shown() && del.Late() > time.Minute {
		d.log.Info("late alert delivered", logx.Stringer("task", del.TaskID), logx.Duration("late", del.Late()))
	}
	return nil
}

// Dispatch is the fire-time entry point: settings and permission are read
// once, then the payload is evaluated and a permitted alert published.
func (d *Dispatcher) Dispatch(ctx context.Context, kind event.Kind, payload []byte) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out = OutcomeMalformed
			d.report(kind, 0, "", out)
		}
	}()

	st, err := d.settings.Settings(ctx)
	if err != nil {
		d.log.Warn("settings read failed; treating notifications as disabled", logx.Err(err))
		st.NotificationsEnabled = false
	}
	granted := d.perm.Granted(ctx)

	a, out := d.Evaluate(kind, payload, st, granted, d.now())
	switch out {
	case OutcomeShown:
		if err := d.pub.Publish(ctx, a); err != nil {
			d.log.Warn("alert publish failed", logx.Stringer("alert", a.ID), logx.Stringer("kind", kind), logx.Err(err))
		}
	case OutcomeMalformed:
		d.log.Warn("dropping malformed delivery", logx.Stringer("kind", kind), logx.Int("payload_bytes", len(payload)))
	default:
		d.log.Debug("alert dropped", logx.Stringer("kind", kind), logx.Stringer("outcome", out))
	}
	id := ""
	if out == OutcomeShown {
		id = a.ID.String()
	}
	d.report(kind, a.EventID, id, out)
	return out
}

// Evaluate decides what a delivery produces. It has no side effects: the
// same inputs always give the same alert and outcome.
func (d *Dispatcher) Evaluate(kind event.Kind, payload []byte, st storage.Settings, granted bool, now time.Time) (alert.Alert, Outcome) {
	if !kind.Valid() {
		return alert.Alert{}, OutcomeMalformed
	}
	rec, err := event.Decode(payload)
	if err != nil {
		return alert.Alert{}, OutcomeMalformed
	}
	if !st.NotificationsEnabled {
		return alert.Alert{EventID: rec.ID}, OutcomeDisabled
	}
	if !granted {
		return alert.Alert{EventID: rec.ID}, OutcomePermissionDenied
	}
	trigger, ok := triggerFor(rec, kind)
	if !ok {
		return alert.Alert{EventID: rec.ID}, OutcomeMalformed
	}
	if d.cfg.StaleAfter > 0 && now.Sub(trigger) > d.cfg.StaleAfter {
		return alert.Alert{EventID: rec.ID}, OutcomeStale
	}
	a, err := d.render.Render(rec, kind, st.Language)
	if err != nil {
		return alert.Alert{EventID: rec.ID}, OutcomeMalformed
	}
	return a, OutcomeShown
}

// triggerFor recomputes when the kind was due from the record alone. A kind
// the record could never have scheduled is reported as not ok.
func triggerFor(rec event.Record, kind event.Kind) (time.Time, bool) {
	switch kind {
	case event.KindReminder:
		return rec.Reminder()
	case event.KindStart:
		return rec.Start, !rec.AllDay
	case event.KindEnd:
		if !rec.HasEnd() {
			return time.Time{}, false
		}
		return *rec.End, true
	}
	return time.Time{}, false
}

func (d *Dispatcher) report(kind event.Kind, eventID int64, alertID string, out Outcome) {
	topic := eventbus.TopicDropped
	if out.Shown() {
		topic = eventbus.TopicShown
	}
	d.bus.Publish(eventbus.Event{Type: topic, Data: Result{
		Kind:    kind.String(),
		EventID: eventID,
		Outcome: out.String(),
		AlertID: alertID,
	}})
}
