package dispatch

import (
	"context"
	"sync/atomic"

	"eventra/internal/alert"
	"eventra/internal/storage"
)

// Outcome is the result of one dispatch.
type Outcome int

const (
	OutcomeShown Outcome = iota + 1
	OutcomeDisabled
	OutcomePermissionDenied
	OutcomeMalformed
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeShown:
		return "shown"
	case OutcomeDisabled:
		return "disabled"
	case OutcomePermissionDenied:
		return "permission_denied"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Shown reports whether an alert was handed to the publisher.
func (o Outcome) Shown() bool { return o == OutcomeShown }

// SettingsSource supplies the user preferences read at fire time.
type SettingsSource interface {
	Settings(ctx context.Context) (storage.Settings, error)
}

type storeSettings struct{ st storage.SettingsStore }

func (s storeSettings) Settings(ctx context.Context) (storage.Settings, error) {
	return s.st.GetSettings(ctx)
}

// StoreSettings reads preferences from the settings store on every call.
func StoreSettings(st storage.SettingsStore) SettingsSource { return storeSettings{st: st} }

// Permission is the platform-level permission to show alerts, separate from
// the user's own preference.
type Permission interface {
	Granted(ctx context.Context) bool
}

type PermissionFunc func(ctx context.Context) bool

func (f PermissionFunc) Granted(ctx context.Context) bool { return f(ctx) }

// Switch is a Permission toggled at runtime, e.g. from config reloads.
type Switch struct{ v atomic.Bool }

func NewSwitch(granted bool) *Switch {
	s := &Switch{}
	s.v.Store(granted)
	return s
}

func (s *Switch) Granted(context.Context) bool { return s.v.Load() }
func (s *Switch) Set(granted bool)             { s.v.Store(granted) }

// Publisher hands a rendered alert to the alert pipeline.
type Publisher interface {
	Publish(ctx context.Context, a alert.Alert) error
}

type PublisherFunc func(ctx context.Context, a alert.Alert) error

func (f PublisherFunc) Publish(ctx context.Context, a alert.Alert) error { return f(ctx, a) }

// Result is published on the event bus for every dispatch.
type Result struct {
	Kind    string `json:"kind"`
	EventID int64  `json:"event_id,omitempty"`
	Outcome string `json:"outcome"`
	AlertID string `json:"alert_id,omitempty"`
}
