package registry

import (
	"context"
	"errors"
	"time"

	"eventra/internal/event"
	"eventra/internal/storage"
)

// ErrRejected is returned when a registration is refused.
var ErrRejected = errors.New("registry: registration rejected")

// Binding is a persisted (time, task id, payload) registration.
type Binding = storage.TaskRecord

// Config controls registration policy and reconciliation.
type Config struct {
	// MaxHorizon rejects triggers further in the future than this. 0 disables.
	MaxHorizon time.Duration
	// AllowExact mirrors the platform exact-alarm permission. When false
	// every registration is rejected.
	AllowExact bool
	// Reconcile is a cron spec for re-reading persisted bindings.
	Reconcile string
	// DeliveryTimeout bounds one handler call. 0 means engine default.
	DeliveryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{AllowExact: true, Reconcile: "@every 30s"}
}

// Delivery is what a fired binding hands to the Handler.
type Delivery struct {
	TaskID    event.TaskID
	Kind      event.Kind
	Payload   []byte
	TriggerAt time.Time
	FiredAt   time.Time
}

// Late reports how far behind the trigger time the delivery happened.
func (d Delivery) Late() time.Duration {
	if d.FiredAt.Before(d.TriggerAt) {
		return 0
	}
	return d.FiredAt.Sub(d.TriggerAt)
}

type Handler interface {
	Deliver(ctx context.Context, d Delivery) error
}

type HandlerFunc func(ctx context.Context, d Delivery) error

func (f HandlerFunc) Deliver(ctx context.Context, d Delivery) error { return f(ctx, d) }

// Clock abstracts timers so tests can drive firing.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is the wall clock.
func RealClock() Clock { return realClock{} }
