package app

import (
	"context"
	"time"

	"eventra/internal/runtime/supervisor"
)

// Status is served at /status by the debug server.
type Status struct {
	Uptime     string              `json:"uptime"`
	Armed      int                 `json:"armed"`
	Pending    int                 `json:"pending"`
	NextAlert  *time.Time          `json:"next_alert,omitempty"`
	Enabled    bool                `json:"notifications_enabled"`
	Language   string              `json:"language"`
	Sinks      []string            `json:"sinks"`
	Engine     EngineStatus        `json:"task_engine"`
	BusDropped uint64              `json:"bus_dropped"`
	Supervisor supervisor.Counters `json:"supervisor"`
}

type EngineStatus struct {
	Enabled  bool   `json:"enabled"`
	Workers  int    `json:"workers"`
	QueueLen int    `json:"queue_len"`
	QueueCap int    `json:"queue_cap"`
	InFlight int    `json:"in_flight"`
	Dropped  uint64 `json:"dropped"`
}

func (a *App) healthy() bool {
	return a.sup != nil && a.sup.Err() == nil
}

func (a *App) status(ctx context.Context) (any, error) {
	pending, err := a.reg.Pending(ctx)
	if err != nil {
		return nil, err
	}
	st, err := a.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	snap := a.engine.Snapshot()
	out := Status{
		Uptime:   time.Since(a.started).Round(time.Second).String(),
		Armed:    a.reg.Armed(),
		Pending:  len(pending),
		Enabled:  st.NotificationsEnabled,
		Language: st.Language,
		Sinks:    a.notif.Sinks(),
		Engine: EngineStatus{
			Enabled:  snap.Enabled,
			Workers:  snap.Workers,
			QueueLen: snap.QueueLen,
			QueueCap: snap.QueueCap,
			InFlight: snap.InFlight,
			Dropped:  snap.Dropped,
		},
		BusDropped: a.bus.Dropped(),
	}
	for _, b := range pending {
		if out.NextAlert == nil || b.TriggerAt.Before(*out.NextAlert) {
			at := b.TriggerAt
			out.NextAlert = &at
		}
	}
	if a.sup != nil {
		out.Supervisor = a.sup.Counters()
	}
	return out, nil
}
