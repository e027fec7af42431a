package config

// Config is the on-disk configuration. JSON, YAML and TOML files share
// these json field names.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Registry  RegistryConfig  `json:"registry"`

	// TaskEngine runs fired deliveries. Omitted means enabled with defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Notifier   *NotifierConfig   `json:"notifier,omitempty"`
	Storage    *StorageConfig    `json:"storage,omitempty"`

	Telegram   *TelegramConfig  `json:"telegram,omitempty"`
	Console    ConsoleConfig    `json:"console"`
	Locale     LocaleConfig     `json:"locale"`
	Permission PermissionConfig `json:"permission"`
	Debug      DebugConfig      `json:"debug"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig tunes the coordinator and the dispatcher.
//
// All durations are Go duration strings (e.g. "30s", "2h").
type SchedulerConfig struct {
	// PastGrace still schedules triggers up to this far in the past.
	PastGrace string `json:"past_grace,omitempty"`
	// BulkWorkers bounds parallelism of reschedule-all / cancel-all. Default 4.
	BulkWorkers int `json:"bulk_workers,omitempty"`
	// StaleAfter drops alerts delivered this long after their trigger.
	// Empty keeps every late alert.
	StaleAfter string `json:"stale_after,omitempty"`
}

// RegistryConfig controls the durable deferred task registry.
//
// Defaults:
//   - allow_exact: true
//   - reconcile: "@every 30s" ("off" disables it)
//   - max_horizon: "" (unbounded)
type RegistryConfig struct {
	MaxHorizon      string `json:"max_horizon,omitempty"`
	AllowExact      *bool  `json:"allow_exact,omitempty"`
	Reconcile       string `json:"reconcile,omitempty"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs deliveries.
//
// Defaults: enabled, 2 workers, queue 256, history 200, retry_max 0.
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// NotifierConfig controls the async alert pipeline.
//
// If the whole section is omitted the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	HistorySize     int    `json:"history_size,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./eventra.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://localhost/eventra" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`         // postgres; do not log
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres
}

// TelegramConfig enables the Telegram sink.
//
// The token is taken from, in order: token, the EVENTRA_TELEGRAM_TOKEN
// environment variable, then the OS keyring entry (keyring_service,
// keyring_user).
type TelegramConfig struct {
	Enabled        bool   `json:"enabled"`
	Token          string `json:"token,omitempty"` // do not log
	KeyringService string `json:"keyring_service,omitempty"`
	KeyringUser    string `json:"keyring_user,omitempty"`
	ChatID         int64  `json:"chat_id"`
	ThreadID       int    `json:"thread_id,omitempty"`
	Silent         bool   `json:"silent,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
}

// ConsoleConfig controls the terminal sink. Enabled defaults to true.
type ConsoleConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
}

type LocaleConfig struct {
	// Timezone is an IANA name used to show and parse times. Empty means
	// the system zone.
	Timezone string `json:"timezone,omitempty"`
}

// PermissionConfig is the platform-level permission to show alerts,
// independent of the user's notifications preference. Granted defaults to
// true.
type PermissionConfig struct {
	Granted *bool `json:"granted,omitempty"`
}

// DebugConfig runs an HTTP endpoint next to `serve` with /healthz,
// /status and pprof. Off by default; binds to localhost unless a token is
// set or allow_insecure is true.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// BoolOr returns *p, or def when p is nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
