package notifier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"eventra/internal/alert"
	"eventra/internal/eventbus"
	"eventra/internal/storage"
	"eventra/internal/task/engine"
	kit "eventra/internal/transport"
	logx "eventra/pkg/logx"
)

const (
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMaxDelay = 10 * time.Second
	defaultSendTimeout   = 10 * time.Second
	retryJitter          = 0.3
)

// drain delivers queued alerts until the queue is closed (true) or ctx ends
// (false).
func (s *Service) drain(ctx context.Context, q <-chan alert.Alert) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case a, ok := <-q:
			if !ok {
				return true
			}
			for _, k := range s.sinks {
				if err := s.deliver(ctx, k, a); err != nil {
					s.log.Warn("alert delivery failed", logx.String("sink", k.Name()), logx.Stringer("alert", a.ID), logx.Err(err))
				}
			}
		}
	}
}

// deliver shows a on one sink, handing it the message ref stored for the
// same alert id so the sink can replace that message. Deliveries of one
// alert id to one sink are serialized.
func (s *Service) deliver(ctx context.Context, k kit.Sink, a alert.Alert) error {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	unlock := s.keys.lock(k.Name() + "|" + a.ID.String())
	defer unlock()

	prev := s.lookupRef(ctx, k.Name(), a)
	ev := AlertEvent{Sink: k.Name(), AlertID: a.ID, EventID: a.EventID, Kind: a.Kind}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 1; ; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		ref, err := k.Show(callCtx, a, prev)
		cancel()
		if err == nil {
			s.storeRef(ctx, k.Name(), a, ref)
			s.hist.add(HistoryItem{At: time.Now(), Sink: k.Name(), AlertID: a.ID, Ref: ref, Title: a.Title})
			ev.Ref = ref
			s.emit(TopicSent, ev)
			return nil
		}
		if engine.IsNoRetry(err) || attempt > cfg.RetryMax {
			ev.Error = err.Error()
			s.emit(TopicFailed, ev)
			return err
		}
		delay := retryDelay(cfg, attempt, err, rng)
		s.log.Debug("alert send failed; retrying", logx.String("sink", k.Name()), logx.Int("attempt", attempt), logx.Duration("delay", delay), logx.Err(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// retryDelay is the wait before attempt+1. A retry-after hint from the sink
// is honoured in full, even past RetryMaxDelay.
func retryDelay(cfg Config, attempt int, err error, rng *rand.Rand) time.Duration {
	if d, ok := engine.RetryAfterHint(err); ok {
		return d
	}
	policy := engine.Retry{Base: cfg.RetryBase, MaxDelay: cfg.RetryMaxDelay, Jitter: retryJitter}
	return policy.Backoff(attempt, rng)
}

func (s *Service) lookupRef(ctx context.Context, sink string, a alert.Alert) string {
	if s.refs == nil {
		return ""
	}
	r, err := s.refs.GetAlertRef(ctx, sink, a.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("alert ref lookup failed", logx.String("sink", sink), logx.Stringer("alert", a.ID), logx.Err(err))
		}
		return ""
	}
	return r.Ref
}

func (s *Service) storeRef(ctx context.Context, sink string, a alert.Alert, ref string) {
	if s.refs == nil || ref == "" {
		return
	}
	rec := storage.AlertRef{Sink: sink, AlertID: a.ID, Ref: ref, UpdatedAt: time.Now().UTC()}
	if err := s.refs.PutAlertRef(ctx, rec); err != nil {
		s.log.Warn("alert ref store failed", logx.String("sink", sink), logx.Stringer("alert", a.ID), logx.Err(err))
	}
}

func (s *Service) emit(topic string, ev AlertEvent) {
	ev.At = time.Now()
	s.bus.Publish(eventbus.Event{Type: topic, Time: ev.At, Data: ev})
}

// keyedMutex hands out one mutex per key. Entries are dropped once nobody
// holds or waits for them.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*keyedEntry
}

type keyedEntry struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.m == nil {
		k.m = map[string]*keyedEntry{}
	}
	e := k.m[key]
	if e == nil {
		e = &keyedEntry{}
		k.m[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.Lock()
	return func() {
		e.Unlock()
		k.mu.Lock()
		if e.refs--; e.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
