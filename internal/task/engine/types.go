package engine

import (
	"context"
	"time"
)

// Config sizes the pool that runs fired deliveries. When the engine is
// disabled the registry runs deliveries on the timer goroutine instead.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout bounds a task whose Timeout is 0. 0 means no bound.
	DefaultTimeout time.Duration

	HistorySize int
	RetryMax    int
}

// Retry is a task's backoff policy. Zero fields take the engine defaults.
type Retry struct {
	Max      int
	Base     time.Duration
	MaxDelay time.Duration
	Jitter   float64 // fraction of the delay, 0.2 means +-20%
}

func (r Retry) orDefaults(cfg Config) Retry {
	if r.Max <= 0 {
		r.Max = cfg.RetryMax
	}
	if r.Base <= 0 {
		r.Base = 500 * time.Millisecond
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 15 * time.Second
	}
	if r.Jitter <= 0 {
		r.Jitter = 0.2
	}
	return r
}

// Task is one unit of work, usually a single alert delivery.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Retry   Retry
	Run     func(ctx context.Context) error
}

// Execution describes one task run. Finished runs are kept in the history
// ring; started, finished, failed and dropped runs go on the bus.
type Execution struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Error      string        `json:"error,omitempty"`
}

const (
	TopicStarted  = "task.started"
	TopicFinished = "task.finished"
	TopicFailed   = "task.failed"
	TopicDropped  = "task.dropped"
)

type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int
	Dropped  uint64
	History  []Execution
}
