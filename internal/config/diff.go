package config

import (
	"reflect"
	"sort"
	"strings"

	logx "eventra/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Secrets (tokens, DSNs) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.past_grace", strings.TrimSpace(newCfg.Scheduler.PastGrace)),
			logx.Int("scheduler.bulk_workers", newCfg.Scheduler.BulkWorkers),
			logx.String("scheduler.stale_after", strings.TrimSpace(newCfg.Scheduler.StaleAfter)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Registry, newCfg.Registry) {
		changed = append(changed, "registry")
		attrs = append(attrs,
			logx.String("registry.reconcile", strings.TrimSpace(newCfg.Registry.Reconcile)),
			logx.String("registry.max_horizon", strings.TrimSpace(newCfg.Registry.MaxHorizon)),
			logx.Bool("registry.allow_exact", BoolOr(newCfg.Registry.AllowExact, true)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", BoolOr(nTE.Enabled, true)),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	// nil notifier means runtime defaults
	defN := &NotifierConfig{Enabled: true}
	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if oldN == nil {
		oldN = defN
	}
	if newN == nil {
		newN = defN
	}
	if !reflect.DeepEqual(*oldN, *newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
		)
	}

	var oT, nT TelegramConfig
	if oldCfg.Telegram != nil {
		oT = *oldCfg.Telegram
	}
	if newCfg.Telegram != nil {
		nT = *newCfg.Telegram
	}
	if oT != nT {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nT.Enabled),
			logx.Int64("telegram.chat_id", nT.ChatID),
			logx.Bool("telegram.token_set", strings.TrimSpace(nT.Token) != ""),
		)
	}

	if BoolOr(oldCfg.Console.Enabled, true) != BoolOr(newCfg.Console.Enabled, true) {
		changed = append(changed, "console")
	}
	if oldCfg.Locale != newCfg.Locale {
		changed = append(changed, "locale")
		attrs = append(attrs, logx.String("locale.timezone", newCfg.Locale.Timezone))
	}
	if BoolOr(oldCfg.Permission.Granted, true) != BoolOr(newCfg.Permission.Granted, true) {
		changed = append(changed, "permission")
		attrs = append(attrs, logx.Bool("permission.granted", BoolOr(newCfg.Permission.Granted, true)))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}
