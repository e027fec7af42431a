package schedule

import (
	"context"
	"fmt"

	"eventra/internal/event"
	"eventra/internal/storage"
	logx "eventra/pkg/logx"
)

// Hooks is what the UI layer calls after it has changed the event store.
type Hooks struct {
	coord    *Coordinator
	orch     *Orchestrator
	settings storage.SettingsStore
	log      logx.Logger
}

func NewHooks(coord *Coordinator, orch *Orchestrator, settings storage.SettingsStore) *Hooks {
	return &Hooks{coord: coord, orch: orch, settings: settings, log: coord.log}
}

func (h *Hooks) enabled(ctx context.Context) bool {
	st, err := h.settings.GetSettings(ctx)
	if err != nil {
		h.log.Warn("settings read failed; not scheduling", logx.Err(err))
		return false
	}
	return st.NotificationsEnabled
}

// OnEventCreated schedules ev when notifications are enabled.
func (h *Hooks) OnEventCreated(ctx context.Context, ev event.Record) Result {
	if !h.enabled(ctx) {
		return Result{}
	}
	return h.coord.ScheduleAll(ctx, ev)
}

// OnEventUpdated drops the registrations of old and, when enabled, registers
// those of new.
func (h *Hooks) OnEventUpdated(ctx context.Context, old, new event.Record) Result {
	h.coord.CancelAll(ctx, old)
	if new.ID != old.ID {
		h.coord.CancelAll(ctx, new)
	}
	if !h.enabled(ctx) {
		return Result{}
	}
	return h.coord.ScheduleAll(ctx, new)
}

func (h *Hooks) OnEventDeleted(ctx context.Context, ev event.Record) {
	h.coord.CancelAll(ctx, ev)
}

// OnGlobalNotificationsToggled stores the preference, then rebuilds or
// clears every registration.
func (h *Hooks) OnGlobalNotificationsToggled(ctx context.Context, enabled bool) (BulkReport, error) {
	st, err := h.settings.GetSettings(ctx)
	if err != nil {
		return BulkReport{}, fmt.Errorf("read settings: %w", err)
	}
	st.NotificationsEnabled = enabled
	if err := h.settings.PutSettings(ctx, st); err != nil {
		return BulkReport{}, fmt.Errorf("store settings: %w", err)
	}
	if enabled {
		return h.orch.RescheduleAllForAllEvents(ctx)
	}
	return h.orch.CancelAllForAllEvents(ctx)
}
