package engine

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"eventra/internal/eventbus"
	logx "eventra/pkg/logx"
)

func (s *Service) worker(ctx context.Context, p *pool) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case t := <-p.queue:
			s.inFlight.Add(1)
			s.execOne(ctx, p.stop, t, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	exec := Execution{ID: qt.task.ID, Name: qt.task.Name, Started: time.Now()}
	exec.QueueDelay = max(exec.Started.Sub(qt.queuedAt), 0)

	log := s.log.With(logx.String("task", qt.task.Name), logx.String("id", qt.task.ID))
	log.Debug("task started", logx.Duration("queue_delay", exec.QueueDelay))
	s.bus.Publish(eventbus.Event{Type: TopicStarted, Time: exec.Started, Data: exec})

	err := s.attempt(ctx, stopCh, qt, rng, &exec.Attempts, log)
	exec.Duration = time.Since(exec.Started)

	topic := TopicFinished
	if err != nil {
		exec.Error = err.Error()
		topic = TopicFailed
		log.Warn("task failed", logx.Err(err), logx.Duration("dur", exec.Duration), logx.Int("attempts", exec.Attempts))
	} else {
		log.Debug("task done", logx.Duration("dur", exec.Duration), logx.Int("attempts", exec.Attempts))
	}
	s.bus.Publish(eventbus.Event{Type: topic, Data: exec})
	s.hist.add(exec)
}

// attempt runs the task until it succeeds, is marked NoRetry, or runs out
// of attempts. Waits between attempts end early on shutdown.
func (s *Service) attempt(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand, n *int, log logx.Logger) error {
	for *n = 1; ; *n++ {
		err := s.runAttempt(ctx, qt)
		if err == nil || IsNoRetry(err) || *n > qt.retry.Max {
			return err
		}
		delay := nextDelay(qt.retry, *n, err, rng)
		log.Debug("task retry scheduled", logx.Int("attempt", *n+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-stopCh:
			tmr.Stop()
			return ErrStopped
		case <-tmr.C:
		}
	}
}

// runAttempt converts a task panic into an error so one bad task cannot
// take a worker down.
func (s *Service) runAttempt(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

// nextDelay is the wait after the given failed attempt: the sink's
// RetryAfter hint if present, else the policy's backoff. Both are capped at
// MaxDelay.
func nextDelay(r Retry, attempt int, err error, rng *rand.Rand) time.Duration {
	if d, ok := RetryAfterHint(err); ok {
		return r.jitter(clamp(d, r.MaxDelay), rng)
	}
	return r.Backoff(attempt, rng)
}

// Backoff is Base doubled per failed attempt after the first, jittered and
// capped at MaxDelay. rng nil disables jitter.
func (r Retry) Backoff(attempt int, rng *rand.Rand) time.Duration {
	d := r.Base
	for i := 1; i < attempt && d < r.MaxDelay; i++ {
		d *= 2
	}
	return r.jitter(clamp(d, r.MaxDelay), rng)
}

func clamp(d, maxD time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if maxD > 0 && d > maxD {
		return maxD
	}
	return d
}

func (r Retry) jitter(d time.Duration, rng *rand.Rand) time.Duration {
	if r.Jitter <= 0 || d <= 0 || rng == nil {
		return d
	}
	f := (rng.Float64()*2 - 1) * r.Jitter
	return clamp(time.Duration(float64(d)*(1+f)), r.MaxDelay)
}
