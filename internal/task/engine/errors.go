package engine

import (
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("task engine disabled")
	ErrStopped   = errors.New("task engine stopped")
	ErrQueueFull = errors.New("task engine queue full")
)

// retryHint wraps a task error with instructions for the retry loop.
type retryHint struct {
	err   error
	stop  bool
	after time.Duration
}

func (h *retryHint) Error() string { return h.err.Error() }
func (h *retryHint) Unwrap() error { return h.err }

// NoRetry marks err as permanent: the task is not attempted again.
//
//	return engine.NoRetry(fmt.Errorf("chat not found: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &retryHint{err: err, stop: true}
}

// RetryAfter asks for the next attempt no sooner than after. Sinks use it
// for rate-limit responses; the delay is still capped by Retry.MaxDelay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &retryHint{err: err, after: max(after, 0)}
}

func IsNoRetry(err error) bool {
	var h *retryHint
	return errors.As(err, &h) && h.stop
}

// RetryAfterHint returns the delay requested with RetryAfter, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var h *retryHint
	if errors.As(err, &h) && !h.stop && h.after > 0 {
		return h.after, true
	}
	return 0, false
}
