package storage

import (
	"fmt"
	"sort"
	"time"

	"eventra/internal/event"
)

// eventRow is the storage shape of an event.Record. Times are unix millis.
type eventRow struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartMS     int64  `json:"start_ms"`
	EndMS       *int64 `json:"end_ms,omitempty"`
	AllDay      bool   `json:"all_day,omitempty"`
	Offset      int    `json:"reminder_offset_minutes"`
}

func toEventRow(r event.Record) eventRow {
	row := eventRow{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		StartMS:     r.Start.UnixMilli(),
		AllDay:      r.AllDay,
		Offset:      r.ReminderOffsetMinutes,
	}
	if r.End != nil {
		ms := r.End.UnixMilli()
		row.EndMS = &ms
	}
	return row
}

func (row eventRow) record() event.Record {
	r := event.Record{
		ID:                    row.ID,
		Title:                 row.Title,
		Description:           row.Description,
		Start:                 time.UnixMilli(row.StartMS),
		AllDay:                row.AllDay,
		ReminderOffsetMinutes: row.Offset,
	}
	if row.EndMS != nil {
		e := time.UnixMilli(*row.EndMS)
		r.End = &e
	}
	return r
}

type taskRow struct {
	TaskID    string `json:"task_id"`
	Kind      string `json:"kind"`
	TriggerMS int64  `json:"trigger_ms"`
	Payload   []byte `json:"payload"`
	CreatedMS int64  `json:"created_ms"`
}

func toTaskRow(t TaskRecord) taskRow {
	return taskRow{
		TaskID:    t.TaskID.String(),
		Kind:      t.Kind.String(),
		TriggerMS: t.TriggerAt.UnixMilli(),
		Payload:   append([]byte(nil), t.Payload...),
		CreatedMS: t.CreatedAt.UnixMilli(),
	}
}

func (row taskRow) record() (TaskRecord, error) {
	id, err := event.ParseTaskID(row.TaskID)
	if err != nil {
		return TaskRecord{}, err
	}
	kind, err := event.ParseKind(row.Kind)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("task %s: %w", row.TaskID, err)
	}
	return TaskRecord{
		TaskID:    id,
		Kind:      kind,
		TriggerAt: time.UnixMilli(row.TriggerMS),
		Payload:   append([]byte(nil), row.Payload...),
		CreatedAt: time.UnixMilli(row.CreatedMS),
	}, nil
}

func alertRefKey(sink string, id event.AlertID) string { return sink + "|" + id.String() }

func sortEvents(out []event.Record) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
}

func sortTasks(out []TaskRecord) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TriggerAt.Equal(out[j].TriggerAt) {
			return out[i].TriggerAt.Before(out[j].TriggerAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
}
