package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"eventra/internal/eventbus"
	rtsup "eventra/internal/runtime/supervisor"
	logx "eventra/pkg/logx"
)

// dropWarnInterval throttles the queue-full warning.
const dropWarnInterval = 5 * time.Second

// Service runs Tasks on a fixed worker pool. The pool is rebuilt whenever
// Apply changes its shape; tasks queued on the old pool are discarded.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu   sync.Mutex
	cfg  Config
	pool *pool

	hist history

	seq      atomic.Uint64
	inFlight atomic.Int32
	dropped  atomic.Uint64
	lastWarn atomic.Int64
}

// pool is one started generation of workers.
type pool struct {
	queue    chan queuedTask
	stop     chan struct{}
	sup      *rtsup.Supervisor
	stopping bool
	done     chan struct{}
}

type queuedTask struct {
	task     Task
	queuedAt time.Time
	timeout  time.Duration
	retry    Retry
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if bus == nil {
		bus = eventbus.Nop()
	}
	cfg = cfg.withDefaults(Config{Workers: 2, QueueSize: 256, HistorySize: 200})
	s := &Service{cfg: cfg, log: log.Component("taskengine"), bus: bus}
	s.hist.limit = cfg.HistorySize
	return s
}

func (c Config) withDefaults(def Config) Config {
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	c.RetryMax = max(c.RetryMax, 0)
	return c
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply takes a new config. Unset sizes keep their current values. A running
// pool restarts if its worker count or queue size changed, or stops if the
// engine was disabled.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	cfg = cfg.withDefaults(prev)
	s.cfg = cfg
	s.hist.resize(cfg.HistorySize)
	running := s.pool != nil && !s.pool.stopping
	s.mu.Unlock()

	reshape := prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize
	if running && (reshape || !cfg.Enabled) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the workers unless the engine is disabled or already
// running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.pool != nil {
		return
	}
	p := &pool{
		queue: make(chan queuedTask, s.cfg.QueueSize),
		stop:  make(chan struct{}),
		sup:   rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	for i := range s.cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, p)
			select {
			case <-p.stop:
				return context.Canceled
			default:
				return errors.Join(errors.New("worker exited"), c.Err())
			}
		})
	}
	s.pool = p
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop ends the current pool and waits for its workers until ctx is done.
// Tasks still queued are discarded. Concurrent calls wait on the same stop.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.pool
	if p == nil {
		s.mu.Unlock()
		return
	}
	if !p.stopping {
		p.stopping = true
		p.done = make(chan struct{})
		close(p.stop)
		p.sup.Cancel()
		go s.reap(p)
	}
	done := p.done
	s.mu.Unlock()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) reap(p *pool) {
	_ = p.sup.Wait(context.Background())
	s.mu.Lock()
	if s.pool == p {
		s.pool = nil
	}
	s.mu.Unlock()
	close(p.done)
}

// Enqueue hands t to the pool without blocking.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	if t.Name = strings.TrimSpace(t.Name); t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.seq.Add(1))
	}

	s.mu.Lock()
	cfg, p := s.cfg, s.pool
	s.mu.Unlock()
	if !cfg.Enabled {
		return ErrDisabled
	}
	if p == nil || p.stopping {
		return ErrStopped
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	select {
	case p.queue <- queuedTask{task: t, queuedAt: now, timeout: timeout, retry: t.Retry.orDefaults(cfg)}:
		return nil
	default:
	}

	n := s.dropped.Add(1)
	s.bus.Publish(eventbus.Event{Type: TopicDropped, Time: now, Data: Execution{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"}})
	last := s.lastWarn.Load()
	if now.UnixNano()-last >= int64(dropWarnInterval) && s.lastWarn.CompareAndSwap(last, now.UnixNano()) {
		s.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.String("id", t.ID), logx.Int("queue_cap", cap(p.queue)), logx.Uint64("dropped", n))
	}
	return ErrQueueFull
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, p := s.cfg, s.pool
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:  cfg.Enabled,
		Workers:  cfg.Workers,
		InFlight: int(s.inFlight.Load()),
		Dropped:  s.dropped.Load(),
		History:  s.History(),
	}
	if p != nil {
		snap.QueueLen, snap.QueueCap = len(p.queue), cap(p.queue)
	}
	return snap
}

// History returns the most recent finished runs, oldest first.
func (s *Service) History() []Execution { return s.hist.items() }

// history keeps the last limit executions.
type history struct {
	mu    sync.Mutex
	limit int
	buf   []Execution
}

func (h *history) add(e Execution) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = append(h.buf, e)
	h.trim()
}

func (h *history) resize(limit int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limit = limit
	h.trim()
}

func (h *history) trim() {
	if h.limit > 0 && len(h.buf) > h.limit {
		h.buf = append(h.buf[:0:0], h.buf[len(h.buf)-h.limit:]...)
	}
}

func (h *history) items() []Execution {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Execution(nil), h.buf...)
}
