// Package supervisor owns the long-running goroutines of a component: it
// names them, recovers their panics, restarts the ones that should stay up
// and reports the first failure.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "eventra/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	firstErr atomic.Pointer[error]

	started  atomic.Uint64
	active   atomic.Int64
	panics   atomic.Uint64
	restarts atomic.Uint64
}

// Counters is served on the status endpoint.
type Counters struct {
	Active   int64  `json:"active"`
	Started  uint64 `json:"started"`
	Panics   uint64 `json:"panics"`
	Restarts uint64 `json:"restarts"`
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError makes the first failure cancel every goroutine.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	s := &Supervisor{done: make(chan struct{})}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Context is cancelled by Cancel, Stop, the parent, or a failure when
// WithCancelOnError is set.
func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first failure recorded, nil while everything is healthy.
func (s *Supervisor) Err() error {
	if p := s.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{
		Active:   s.active.Load(),
		Started:  s.started.Load(),
		Panics:   s.panics.Load(),
		Restarts: s.restarts.Load(),
	}
}

// Go runs fn once. A returned error other than context.Canceled, or a
// panic, is recorded as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Go(func() {
		defer s.active.Add(-1)
		log := s.log.With(logx.String("name", name))
		log.Debug("goroutine started")
		if err := s.guard(log, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		log.Debug("goroutine stopped")
	})
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error { fn(ctx); return nil })
}

// guard runs fn, turning a panic into an error.
func (s *Supervisor) guard(log logx.Logger, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			log.Error("goroutine panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) fail(err error) {
	s.firstErr.CompareAndSwap(nil, &err)
	if s.cancelOnErr {
		s.cancel()
	}
}

// Stop cancels every goroutine and waits for them.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx is done, and
// returns the first failure.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RestartPolicy controls GoRestart. MaxRestarts 0 means unlimited; the first
// run does not count.
type RestartPolicy struct {
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	MaxRestarts int
	// A run that lasted at least Healthy resets the backoff.
	Healthy time.Duration
}

var defaultRestart = RestartPolicy{MinBackoff: 250 * time.Millisecond, MaxBackoff: 30 * time.Second, Healthy: 30 * time.Second}

type RestartOption func(*RestartPolicy)

func WithRestartBackoff(minD, maxD time.Duration) RestartOption {
	return func(p *RestartPolicy) {
		if minD > 0 {
			p.MinBackoff = minD
		}
		if maxD > 0 {
			p.MaxBackoff = maxD
		}
	}
}

func WithMaxRestarts(n int) RestartOption { return func(p *RestartPolicy) { p.MaxRestarts = n } }

// GoRestart keeps fn running: after an error or panic it is started again
// with jittered exponential backoff. A nil return or cancellation ends it.
// Exhausting MaxRestarts is recorded as a failure.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	pol := defaultRestart
	for _, opt := range opts {
		opt(&pol)
	}
	pol.MaxBackoff = max(pol.MaxBackoff, pol.MinBackoff)

	s.Go(name, func(ctx context.Context) error {
		log := s.log.With(logx.String("name", name))
		backoff := pol.MinBackoff
		for n := 0; ; n++ {
			began := time.Now()
			err := s.guard(log, fn)
			switch {
			case err == nil, ctx.Err() != nil, errors.Is(err, context.Canceled):
				return nil
			case pol.MaxRestarts > 0 && n >= pol.MaxRestarts:
				log.Error("goroutine gave up", logx.Int("restarts", n), logx.Err(err))
				return err
			}
			if time.Since(began) >= pol.Healthy {
				backoff = pol.MinBackoff
			}
			wait := backoff + rand.N(backoff/5+1)
			s.restarts.Add(1)
			log.Warn("goroutine restarting", logx.Duration("backoff", wait), logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			backoff = min(backoff*2, pol.MaxBackoff)
		}
	})
}
