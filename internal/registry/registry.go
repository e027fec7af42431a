package registry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"eventra/internal/event"
	"eventra/internal/eventbus"
	"eventra/internal/storage"
	"eventra/internal/task/engine"
	logx "eventra/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Executor runs fired deliveries. *engine.Service satisfies it.
type Executor interface {
	Enqueue(t engine.Task) error
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	store   storage.TaskStore
	handler Handler
	exec    Executor
	log     logx.Logger
	bus     eventbus.Bus
	clock   Clock
	parser  cron.Parser

	baseCtx context.Context
	started bool
	closed  bool
	gen     uint64
	timers  map[event.TaskID]*armed

	c       *cron.Cron
	entryID cron.EntryID
}

type armed struct {
	gen   uint64
	at    time.Time
	kind  event.Kind
	timer Timer
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(s *Service) { s.bus = bus } }
func WithClock(c Clock) Option          { return func(s *Service) { s.clock = c } }

// WithExecutor routes deliveries through exec instead of calling the
// handler on the timer goroutine.
func WithExecutor(exec Executor) Option { return func(s *Service) { s.exec = exec } }

func New(cfg Config, store storage.TaskStore, handler Handler, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		store:   store,
		handler: handler,
		bus:     eventbus.Nop(),
		clock:   RealClock(),
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers:  map[event.TaskID]*armed{},
		baseCtx: context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Component("registry")
	return s
}

// ScheduleAt registers one future delivery. A second call with the same id
// replaces the first.
func (s *Service) ScheduleAt(ctx context.Context, at time.Time, id event.TaskID, kind event.Kind, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if err := s.admitLocked(now, at, kind, payload); err != nil {
		return err
	}
	rec := Binding{TaskID: id, Kind: kind, TriggerAt: at, Payload: append([]byte(nil), payload...), CreatedAt: now}
	if err := s.store.PutTask(ctx, rec); err != nil {
		return fmt.Errorf("persist binding %s: %w", id, err)
	}
	if s.started {
		s.armLocked(rec)
	}
	s.log.Debug("binding stored", logx.Stringer("task_id", id), logx.Stringer("kind", kind), logx.Time("at", at), logx.Bool("armed", s.started))
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicTaskArmed, Data: rec})
	return nil
}

func (s *Service) admitLocked(now, at time.Time, kind event.Kind, payload []byte) error {
	switch {
	case s.closed:
		return fmt.Errorf("%w: registry closed", ErrRejected)
	case !s.cfg.AllowExact:
		return fmt.Errorf("%w: exact scheduling not allowed", ErrRejected)
	case at.IsZero():
		return fmt.Errorf("%w: zero trigger time", ErrRejected)
	case len(payload) == 0:
		return fmt.Errorf("%w: empty payload", ErrRejected)
	case !kind.Valid():
		return fmt.Errorf("%w: invalid kind %d", ErrRejected, int(kind))
	case s.cfg.MaxHorizon > 0 && at.Sub(now) > s.cfg.MaxHorizon:
		return fmt.Errorf("%w: trigger %s beyond horizon %s", ErrRejected, at.Format(time.RFC3339), s.cfg.MaxHorizon)
	}
	return nil
}

// Cancel removes a pending registration. Unknown ids are a no-op.
func (s *Service) Cancel(ctx context.Context, id event.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, wasArmed := s.timers[id]
	s.disarmLocked(id)
	if err := s.store.DeleteTask(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete binding %s: %w", id, err)
	}
	s.log.Debug("binding cancelled", logx.Stringer("task_id", id), logx.Bool("was_armed", wasArmed))
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicTaskCancelled, Data: id})
	return nil
}

// Start arms every persisted binding and begins periodic reconciliation.
// Past-due bindings fire right away.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.closed = false
	s.started = true
	s.baseCtx = ctx
	spec := strings.TrimSpace(s.cfg.Reconcile)
	s.mu.Unlock()

	if _, _, err := s.Reconcile(ctx); err != nil {
		s.log.Warn("initial reconcile failed", logx.Err(err))
	}
	if spec == "" || spec == "off" {
		return nil
	}

	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("registry.reconcile %q: %w", spec, err)
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})))
	id := c.Schedule(sched, cron.FuncJob(func() {
		if _, _, err := s.Reconcile(ctx); err != nil {
			s.log.Warn("reconcile failed", logx.Err(err))
		}
	}))
	c.Start()

	s.mu.Lock()
	s.c, s.entryID = c, id
	s.mu.Unlock()
	s.log.Info("registry started", logx.String("reconcile", spec))
	return nil
}

// Stop disarms runtime timers and rejects further registrations. Persisted
// bindings stay in storage.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for id := range s.timers {
		s.disarmLocked(id)
	}
	s.started = false
	s.closed = true
	s.mu.Unlock()

	if c != nil {
		done := c.Stop()
		select {
		case <-done.Done():
		case <-ctx.Done():
		}
	}
}

// Reconcile makes runtime timers match persisted bindings. Bindings written
// by other processes get armed, bindings removed elsewhere get disarmed.
func (s *Service) Reconcile(ctx context.Context) (armedN, disarmedN int, err error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return 0, 0, nil
	}
	startGen := s.gen
	s.mu.Unlock()

	recs, err := s.store.ListTasks(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list bindings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0, 0, nil
	}
	seen := make(map[event.TaskID]struct{}, len(recs))
	for _, rec := range recs {
		seen[rec.TaskID] = struct{}{}
		a := s.timers[rec.TaskID]
		if a != nil && (a.gen > startGen || a.at.Equal(rec.TriggerAt)) {
			continue
		}
		s.armLocked(rec)
		armedN++
	}
	for id, a := range s.timers {
		if _, ok := seen[id]; ok || a.gen > startGen {
			continue
		}
		s.disarmLocked(id)
		disarmedN++
	}
	if armedN > 0 || disarmedN > 0 {
		s.log.Debug("reconciled", logx.Int("armed", armedN), logx.Int("disarmed", disarmedN), logx.Int("total", len(s.timers)))
	}
	return armedN, disarmedN, nil
}

// Pending returns persisted bindings ordered by trigger time.
func (s *Service) Pending(ctx context.Context) ([]Binding, error) {
	return s.store.ListTasks(ctx)
}

// Armed reports how many runtime timers are live.
func (s *Service) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Apply updates policy. A changed reconcile spec takes effect on restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) armLocked(rec Binding) {
	s.disarmLocked(rec.TaskID)
	s.gen++
	gen := s.gen
	id := rec.TaskID

	d := rec.TriggerAt.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	t := s.clock.AfterFunc(d, func() { s.fire(id, gen) })
	s.timers[id] = &armed{gen: gen, at: rec.TriggerAt, kind: rec.Kind, timer: t}
}

func (s *Service) disarmLocked(id event.TaskID) {
	if a := s.timers[id]; a != nil {
		if a.timer != nil {
			a.timer.Stop()
		}
		delete(s.timers, id)
	}
}

// fire consumes the binding and hands it off. Stale callbacks (replaced or
// cancelled timers) are ignored through the generation check.
func (s *Service) fire(id event.TaskID, gen uint64) {
	s.mu.Lock()
	a := s.timers[id]
	if a == nil || a.gen != gen || !s.started {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	ctx := s.baseCtx
	now := s.clock.Now()

	rec, err := s.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		s.mu.Unlock()
		s.log.Debug("binding gone before fire", logx.Stringer("task_id", id))
		return
	}
	if err != nil {
		s.mu.Unlock()
		// Left in storage; the next reconcile re-arms it.
		s.log.Warn("read binding failed", logx.Stringer("task_id", id), logx.Err(err))
		return
	}
	if rec.TriggerAt.After(now) {
		// Moved later by another process since we armed it.
		s.armLocked(rec)
		s.mu.Unlock()
		return
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		s.mu.Unlock()
		s.log.Warn("consume binding failed", logx.Stringer("task_id", id), logx.Err(err))
		return
	}
	s.mu.Unlock()

	d := Delivery{TaskID: id, Kind: rec.Kind, Payload: rec.Payload, TriggerAt: rec.TriggerAt, FiredAt: now}
	s.log.Debug("binding fired", logx.Stringer("task_id", id), logx.Stringer("kind", rec.Kind), logx.Duration("late", d.Late()))
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicTaskFired, Data: d})
	s.deliver(ctx, d)
}

func (s *Service) deliver(ctx context.Context, d Delivery) {
	if s.handler == nil {
		return
	}
	if s.exec != nil {
		err := s.exec.Enqueue(engine.Task{
			ID:      d.TaskID.String(),
			Name:    "deliver." + d.Kind.String(),
			Timeout: s.cfg.DeliveryTimeout,
			Run:     func(ctx context.Context) error { return s.handler.Deliver(ctx, d) },
		})
		if err == nil {
			return
		}
		// The binding is already consumed; run inline rather than lose it.
		s.log.Warn("executor refused delivery, running inline", logx.Stringer("task_id", d.TaskID), logx.Err(err))
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("delivery panicked", logx.Stringer("task_id", d.TaskID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	if err := s.handler.Deliver(ctx, d); err != nil {
		s.log.Warn("delivery failed", logx.Stringer("task_id", d.TaskID), logx.Err(err))
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
