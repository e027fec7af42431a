package storage

import (
	"context"
	"errors"
	"time"

	"eventra/internal/event"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage.
//
// Driver values: "memory" (default), "file", "sqlite", "postgres".
type Config struct {
	Driver      string
	Path        string        // file and sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgx default
}

// Settings are the user preferences read by the dispatcher.
type Settings struct {
	NotificationsEnabled bool
	Language             string
}

// DefaultSettings apply when nothing has been stored yet.
func DefaultSettings() Settings {
	return Settings{NotificationsEnabled: true, Language: "en"}
}

// TaskRecord is a persisted registry binding.
type TaskRecord struct {
	TaskID    event.TaskID
	Kind      event.Kind
	TriggerAt time.Time
	Payload   []byte
	CreatedAt time.Time
}

// AlertRef maps an alert id to the sink specific handle of the message that
// shows it, so a redelivery can replace the visible alert.
type AlertRef struct {
	Sink      string
	AlertID   event.AlertID
	Ref       string
	UpdatedAt time.Time
}

// AuditEntry records one user mutation.
type AuditEntry struct {
	At       time.Time
	Actor    string
	Action   string
	Target   string
	EventID  int64
	OK       bool
	Error    string
	MetaJSON string
}

type EventStore interface {
	ListEvents(ctx context.Context) ([]event.Record, error)
	GetEvent(ctx context.Context, id int64) (event.Record, error)
	PutEvent(ctx context.Context, r event.Record) error
	DeleteEvent(ctx context.Context, id int64) error
}

type SettingsStore interface {
	GetSettings(ctx context.Context) (Settings, error)
	PutSettings(ctx context.Context, s Settings) error
}

type TaskStore interface {
	PutTask(ctx context.Context, t TaskRecord) error
	GetTask(ctx context.Context, id event.TaskID) (TaskRecord, error)
	DeleteTask(ctx context.Context, id event.TaskID) error
	ListTasks(ctx context.Context) ([]TaskRecord, error)
}

type AlertRefStore interface {
	PutAlertRef(ctx context.Context, ref AlertRef) error
	GetAlertRef(ctx context.Context, sink string, id event.AlertID) (AlertRef, error)
}

type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// Store is the full persistence API. Consumers should accept the narrow
// interfaces above.
type Store interface {
	EventStore
	SettingsStore
	TaskStore
	AlertRefStore
	AuditLog
	Close() error
}
