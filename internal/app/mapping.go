package app

import (
	"fmt"
	"strings"
	"time"

	"eventra/internal/config"
	"eventra/internal/dispatch"
	"eventra/internal/notifier"
	"eventra/internal/observability/debug"
	"eventra/internal/registry"
	"eventra/internal/schedule"
	"eventra/internal/storage"
	"eventra/internal/task/engine"
	"eventra/internal/transport/telegram"
	logx "eventra/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig returns enabled=false for driver "none". Events live in
// storage, so the caller falls back to memory.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, true, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "none":
		return storage.Config{}, false, nil
	case "", "memory":
		return storage.Config{Driver: "memory"}, true, nil
	case "file":
		if path == "" {
			path = config.DefaultStorePath()
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql", "pg":
		dsn := strings.TrimSpace(sc.DSN)
		if dsn == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: dsn, MaxConns: sc.MaxConns}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: true, Workers: 2, QueueSize: 256, HistorySize: 200}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	out.Enabled = config.BoolOr(te.Enabled, true)
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax > 0 {
		out.RetryMax = te.RetryMax
	}
	d, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	out.DefaultTimeout = d
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true}, nil
	}
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
		HistorySize:     n.HistorySize,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationField("notifier.send_timeout", n.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapRegistryConfig(cfg *config.Config) (registry.Config, error) {
	out := registry.DefaultConfig()
	rc := cfg.Registry
	out.AllowExact = config.BoolOr(rc.AllowExact, true)
	switch spec := strings.TrimSpace(rc.Reconcile); {
	case strings.EqualFold(spec, "off"):
		out.Reconcile = "off"
	case spec != "":
		out.Reconcile = spec
	}
	var err error
	if out.MaxHorizon, err = config.ParseDurationField("registry.max_horizon", rc.MaxHorizon); err != nil {
		return registry.Config{}, err
	}
	if out.DeliveryTimeout, err = config.ParseDurationField("registry.delivery_timeout", rc.DeliveryTimeout); err != nil {
		return registry.Config{}, err
	}
	return out, nil
}

func mapScheduleConfig(cfg *config.Config) (schedule.Config, error) {
	out := schedule.DefaultConfig()
	if cfg.Scheduler.BulkWorkers > 0 {
		out.BulkWorkers = cfg.Scheduler.BulkWorkers
	}
	grace, err := config.ParseDurationField("scheduler.past_grace", cfg.Scheduler.PastGrace)
	if err != nil {
		return schedule.Config{}, err
	}
	out.PastGrace = grace
	return out, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	stale, err := config.ParseDurationField("scheduler.stale_after", cfg.Scheduler.StaleAfter)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{StaleAfter: stale}, nil
}

func mapTelegramConfig(tc config.TelegramConfig) (telegram.Config, error) {
	tok, err := config.TelegramToken(tc)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          tok,
		ChatID:         tc.ChatID,
		ThreadID:       tc.ThreadID,
		Silent:         tc.Silent,
		DisablePreview: tc.DisablePreview,
	}, nil
}

func mapDebugConfig(cfg *config.Config) debug.Config {
	d := cfg.Debug
	return debug.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
}
