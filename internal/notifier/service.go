package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"eventra/internal/alert"
	"eventra/internal/eventbus"
	rtsup "eventra/internal/runtime/supervisor"
	"eventra/internal/storage"
	kit "eventra/internal/transport"
	logx "eventra/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoSinks   = errors.New("notifier has no sinks")
)

// Service is safe for concurrent use.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	sinks []kit.Sink
	refs  storage.AlertRefStore

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	run     *run

	keys  keyedMutex
	dedup dedupSet
	hist  history
}

// run is one Start..Stop lifetime of the worker pool.
type run struct {
	queue    chan alert.Alert
	sup      *rtsup.Supervisor
	inflight sync.WaitGroup // Publish calls between the accept check and the send
	closing  bool
	done     chan struct{}
}

// New builds the pipeline. refs may be nil, in which case every delivery
// shows a new message.
func New(cfg Config, sinks []kit.Sink, refs storage.AlertRefStore, log logx.Logger, bus eventbus.Bus) *Service {
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		log:   log.Component("notifier"),
		bus:   bus,
		sinks: append([]kit.Sink(nil), sinks...),
		refs:  refs,
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Sinks() []string {
	names := make([]string, len(s.sinks))
	for i, k := range s.sinks {
		names[i] = k.Name()
	}
	return names
}

// Apply takes effect for the next delivery. Pool size and queue size only
// change on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	// burst of one second's worth absorbs short spikes
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.dedup.configure(cfg.DedupWindow, cfg.DedupMaxEntries)
	s.hist.resize(cfg.HistorySize)
}

func (c Config) withDefaults() Config {
	def := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&c.Workers, 2)
	def(&c.QueueSize, 512)
	def(&c.RatePerSec, 3)
	def(&c.DedupMaxEntries, 2000)
	def(&c.HistorySize, 300)
	c.RetryMax = max(c.RetryMax, 0)
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	return c
}

// Start launches the worker pool unless disabled or already running. A
// Start during Stop waits for the stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if r := s.run; r != nil && r.closing {
		s.mu.Unlock()
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.run != nil || !s.cfg.Enabled {
		return
	}

	// a broken sink must not take the daemon down
	r := &run{
		queue: make(chan alert.Alert, s.cfg.QueueSize),
		sup:   rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
		done:  make(chan struct{}),
	}
	for i := range s.cfg.Workers {
		r.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			if s.drain(c, r.queue) {
				return nil
			}
			return errors.Join(errors.New("notifier worker exited"), c.Err())
		})
	}
	s.run = r
	s.log.Info("notifier started", logx.Int("workers", s.cfg.Workers), logx.Int("sinks", len(s.sinks)))
}

// Stop refuses new alerts, then lets the workers empty the queue until ctx
// is done. Sinks with a Stop method are stopped last.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return
	}
	first := !r.closing
	r.closing = true
	s.mu.Unlock()

	if !first {
		select {
		case <-r.done:
		case <-ctx.Done():
		}
		return
	}

	go func() {
		r.inflight.Wait()
		close(r.queue)
		_ = r.sup.Wait(context.Background())
		s.mu.Lock()
		if s.run == r {
			s.run = nil
		}
		s.mu.Unlock()
		close(r.done)
	}()

	select {
	case <-r.done:
	case <-ctx.Done():
		r.sup.Cancel()
	}
	for _, k := range s.sinks {
		st, ok := k.(kit.Stopper)
		if !ok {
			continue
		}
		if err := st.Stop(ctx); err != nil {
			s.log.Warn("sink stop failed", logx.String("sink", k.Name()), logx.Err(err))
		}
	}
}

// Publish queues a for the workers without blocking.
func (s *Service) Publish(ctx context.Context, a alert.Alert) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	enabled, r := s.cfg.Enabled, s.run
	if enabled && r != nil && !r.closing {
		r.inflight.Add(1)
	}
	s.mu.Unlock()
	switch {
	case !enabled:
		return ErrDisabled
	case r == nil || r.closing:
		return ErrStopped
	}
	defer r.inflight.Done()

	ev := AlertEvent{AlertID: a.ID, EventID: a.EventID, Kind: a.Kind}
	if !s.dedup.allow(dedupKey(a)) {
		s.emit(TopicDeduped, ev)
		s.log.Debug("alert deduplicated", logx.Stringer("alert", a.ID))
		return nil
	}
	select {
	case r.queue <- a:
		s.emit(TopicQueued, ev)
		return nil
	default:
		ev.Error = ErrQueueFull.Error()
		s.emit(TopicDropped, ev)
		s.log.Warn("notifier queue full; dropping alert", logx.Stringer("alert", a.ID), logx.Int("queue_cap", cap(r.queue)))
		return ErrQueueFull
	}
}

// Send delivers a to every sink on the calling goroutine with the same
// retry and overwrite rules as the workers. One-shot commands use it since
// they run no pool.
func (s *Service) Send(ctx context.Context, a alert.Alert) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.Enabled() {
		return ErrDisabled
	}
	if len(s.sinks) == 0 {
		return ErrNoSinks
	}
	var errs []error
	for _, k := range s.sinks {
		if err := s.deliver(ctx, k, a); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// History lists recent successful deliveries, oldest first.
func (s *Service) History() []HistoryItem { return s.hist.items() }
