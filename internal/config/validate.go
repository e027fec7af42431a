package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser is the parser used for registry.reconcile.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var storageDrivers = map[string]bool{"": true, "memory": true, "file": true, "sqlite": true, "postgres": true, "none": true}

// Default is used when no config file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: &StorageConfig{Driver: "file", Path: DefaultStorePath()},
	}
}

// Validate checks values the JSON decoder cannot: durations, enums, cron
// specs and zones. It returns every problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("scheduler.past_grace", cfg.Scheduler.PastGrace)
	dur("scheduler.stale_after", cfg.Scheduler.StaleAfter)
	if cfg.Scheduler.BulkWorkers < 0 {
		errs = append(errs, errors.New("scheduler.bulk_workers must be >= 0"))
	}

	dur("registry.max_horizon", cfg.Registry.MaxHorizon)
	dur("registry.delivery_timeout", cfg.Registry.DeliveryTimeout)
	if spec := strings.TrimSpace(cfg.Registry.Reconcile); spec != "" && !strings.EqualFold(spec, "off") {
		if _, err := CronParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("registry.reconcile: %w", err))
		}
	}

	if te := cfg.TaskEngine; te != nil {
		dur("task_engine.default_timeout", te.DefaultTimeout)
		if te.Workers < 0 || te.QueueSize < 0 || te.RetryMax < 0 {
			errs = append(errs, errors.New("task_engine: workers, queue_size and retry_max must be >= 0"))
		}
	}

	if n := cfg.Notifier; n != nil {
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.send_timeout", n.SendTimeout)
		dur("notifier.dedup_window", n.DedupWindow)
		if n.RatePerSec < 0 || n.RetryMax < 0 {
			errs = append(errs, errors.New("notifier: rate_per_sec and retry_max must be >= 0"))
		}
	}

	if s := cfg.Storage; s != nil {
		d := strings.ToLower(strings.TrimSpace(s.Driver))
		switch {
		case !storageDrivers[d]:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		case (d == "file" || d == "sqlite") && strings.TrimSpace(s.Path) == "":
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", d))
		case d == "postgres" && strings.TrimSpace(s.DSN) == "":
			errs = append(errs, errors.New("storage.dsn is required for driver postgres"))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	if t := cfg.Telegram; t != nil && t.Enabled && t.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required when telegram is enabled"))
	}

	if d := cfg.Debug; d.Enabled {
		if addr := strings.TrimSpace(d.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, fmt.Errorf("debug.addr: %w", err))
			}
		}
		if d.MutexProfileFraction < 0 || d.BlockProfileRate < 0 {
			errs = append(errs, errors.New("debug: profile rates must be >= 0"))
		}
	}

	if tz := strings.TrimSpace(cfg.Locale.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("locale.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Location returns the configured zone, or time.Local.
func (c *Config) Location() *time.Location {
	if tz := strings.TrimSpace(c.Locale.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}
