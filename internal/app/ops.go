package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"eventra/internal/dispatch"
	"eventra/internal/event"
	"eventra/internal/ics"
	"eventra/internal/registry"
	"eventra/internal/schedule"
	"eventra/internal/storage"
	logx "eventra/pkg/logx"
)

var (
	// ErrUnsupportedLanguage is returned by SetLanguage.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrEventExists is returned by CreateEvent for an ID already stored.
	// Changes to a stored event go through UpdateEvent.
	ErrEventExists = errors.New("event already exists")
)

func (a *App) Settings(ctx context.Context) (storage.Settings, error) {
	return a.store.GetSettings(ctx)
}

func (a *App) Languages() []string { return a.render.Languages() }

func (a *App) ListEvents(ctx context.Context) ([]event.Record, error) {
	return a.store.ListEvents(ctx)
}

func (a *App) GetEvent(ctx context.Context, id int64) (event.Record, error) {
	return a.store.GetEvent(ctx, id)
}

// CreateEvent stores rec and schedules its alerts. A zero ID is assigned
// from the clock.
func (a *App) CreateEvent(ctx context.Context, rec event.Record) (event.Record, schedule.Result, error) {
	if rec.ID == 0 {
		rec.ID = event.NewID(time.Now())
	}
	_, err := a.store.GetEvent(ctx, rec.ID)
	switch {
	case err == nil:
		err = fmt.Errorf("event %d: %w", rec.ID, ErrEventExists)
	case errors.Is(err, storage.ErrNotFound):
		err = a.putEvent(ctx, rec)
	}
	a.audit(ctx, "event.create", rec.Title, rec.ID, err, nil)
	if err != nil {
		return event.Record{}, schedule.Result{}, err
	}
	return rec, a.hooks.OnEventCreated(ctx, rec), nil
}

// UpdateEvent replaces the stored record with the same ID and moves its
// alerts.
func (a *App) UpdateEvent(ctx context.Context, rec event.Record) (schedule.Result, error) {
	old, err := a.store.GetEvent(ctx, rec.ID)
	if err == nil {
		err = a.putEvent(ctx, rec)
	}
	a.audit(ctx, "event.update", rec.Title, rec.ID, err, nil)
	if err != nil {
		return schedule.Result{}, err
	}
	return a.hooks.OnEventUpdated(ctx, old, rec), nil
}

// DeleteEvent removes the event and every alert registered for it.
func (a *App) DeleteEvent(ctx context.Context, id int64) error {
	old, err := a.store.GetEvent(ctx, id)
	if err == nil {
		err = a.store.DeleteEvent(ctx, id)
	}
	a.audit(ctx, "event.delete", old.Title, id, err, nil)
	if err != nil {
		return err
	}
	a.hooks.OnEventDeleted(ctx, old)
	return nil
}

func (a *App) putEvent(ctx context.Context, rec event.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := a.store.PutEvent(ctx, rec); err != nil {
		return fmt.Errorf("store event %d: %w", rec.ID, err)
	}
	return nil
}

// SetNotifications flips the global preference and cancels or re-registers
// every event's alerts.
func (a *App) SetNotifications(ctx context.Context, enabled bool) (schedule.BulkReport, error) {
	rep, err := a.hooks.OnGlobalNotificationsToggled(ctx, enabled)
	a.audit(ctx, "notifications.set", fmt.Sprintf("enabled=%t", enabled), 0, err, rep)
	return rep, err
}

// SetLanguage stores the alert language.
func (a *App) SetLanguage(ctx context.Context, lang string) error {
	lang = strings.ToLower(strings.TrimSpace(lang))
	var err error
	if !a.render.Supports(lang) {
		err = fmt.Errorf("%w: %q (have %s)", ErrUnsupportedLanguage, lang, strings.Join(a.render.Languages(), ", "))
	} else {
		var st storage.Settings
		if st, err = a.store.GetSettings(ctx); err == nil {
			st.Language = lang
			err = a.store.PutSettings(ctx, st)
		}
	}
	a.audit(ctx, "settings.language", lang, 0, err, nil)
	return err
}

// Pending lists persisted registrations.
func (a *App) Pending(ctx context.Context) ([]registry.Binding, error) {
	return a.reg.Pending(ctx)
}

// ImportReport summarizes Import.
type ImportReport struct {
	Created int
	Updated int
	Failed  int
	Skipped []ics.Skipped
}

// Import reads an iCalendar stream. Events already present (same UID) are
// updated in place, so importing a file twice is harmless.
func (a *App) Import(ctx context.Context, r io.Reader) (ImportReport, error) {
	res, err := ics.Import(r, a.loc)
	if err != nil {
		a.audit(ctx, "calendar.import", "", 0, err, nil)
		return ImportReport{}, err
	}
	rep := ImportReport{Skipped: res.Skipped}
	for _, rec := range res.Events {
		old, gerr := a.store.GetEvent(ctx, rec.ID)
		switch {
		case errors.Is(gerr, storage.ErrNotFound):
			if err := a.putEvent(ctx, rec); err != nil {
				a.log.Warn("import: store failed", logx.Int64("event_id", rec.ID), logx.Err(err))
				rep.Failed++
				continue
			}
			a.hooks.OnEventCreated(ctx, rec)
			rep.Created++
		case gerr != nil:
			a.log.Warn("import: lookup failed", logx.Int64("event_id", rec.ID), logx.Err(gerr))
			rep.Failed++
		default:
			if err := a.putEvent(ctx, rec); err != nil {
				a.log.Warn("import: store failed", logx.Int64("event_id", rec.ID), logx.Err(err))
				rep.Failed++
				continue
			}
			a.hooks.OnEventUpdated(ctx, old, rec)
			rep.Updated++
		}
	}
	a.audit(ctx, "calendar.import", "", 0, nil, rep)
	return rep, nil
}

// Export writes every stored event as an iCalendar stream and returns how
// many were written.
func (a *App) Export(ctx context.Context, w io.Writer) (int, error) {
	evs, err := a.store.ListEvents(ctx)
	if err != nil {
		return 0, err
	}
	if err := ics.Export(w, evs, time.Now()); err != nil {
		return 0, err
	}
	return len(evs), nil
}

// Dispatch is the fire-time entry point for externally scheduled triggers.
func (a *App) Dispatch(ctx context.Context, kind event.Kind, payload []byte) dispatch.Outcome {
	return a.disp.Dispatch(ctx, kind, payload)
}

func (a *App) audit(ctx context.Context, action, target string, eventID int64, err error, meta any) {
	e := storage.AuditEntry{
		At:      time.Now().UTC(),
		Actor:   a.actor,
		Action:  action,
		Target:  target,
		EventID: eventID,
		OK:      err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if meta != nil {
		if b, jerr := json.Marshal(meta); jerr == nil {
			e.MetaJSON = string(b)
		}
	}
	if aerr := a.store.AppendAudit(ctx, e); aerr != nil {
		a.log.Debug("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}
