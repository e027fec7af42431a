package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"eventra/internal/event"
	logx "eventra/pkg/logx"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	q, err := migrationSQL("sqlite")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sqliteEventCols = `id, title, description, start_ms, end_ms, all_day, reminder_offset`

func scanEventRow(sc interface{ Scan(...any) error }) (eventRow, error) {
	var (
		row    eventRow
		end    sql.NullInt64
		allDay int
	)
	if err := sc.Scan(&row.ID, &row.Title, &row.Description, &row.StartMS, &end, &allDay, &row.Offset); err != nil {
		return eventRow{}, err
	}
	if end.Valid {
		v := end.Int64
		row.EndMS = &v
	}
	row.AllDay = allDay != 0
	return row, nil
}

func (s *sqliteStore) ListEvents(ctx context.Context) ([]event.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteEventCols+` FROM events ORDER BY start_ms, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []event.Record
	for rows.Next() {
		row, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row.record())
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetEvent(ctx context.Context, id int64) (event.Record, error) {
	row, err := scanEventRow(s.db.QueryRowContext(ctx, `SELECT `+sqliteEventCols+` FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return event.Record{}, ErrNotFound
	}
	if err != nil {
		return event.Record{}, err
	}
	return row.record(), nil
}

func (s *sqliteStore) PutEvent(ctx context.Context, r event.Record) error {
	row := toEventRow(r)
	allDay := 0
	if row.AllDay {
		allDay = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, title, description, start_ms, end_ms, all_day, reminder_offset, updated_ms)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, description=excluded.description,
		   start_ms=excluded.start_ms, end_ms=excluded.end_ms, all_day=excluded.all_day,
		   reminder_offset=excluded.reminder_offset, updated_ms=excluded.updated_ms`,
		row.ID, row.Title, row.Description, row.StartMS, nullInt(row.EndMS), allDay, row.Offset, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) GetSettings(ctx context.Context) (Settings, error) {
	st := DefaultSettings()
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return Settings{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Settings{}, err
		}
		applySetting(&st, k, v)
	}
	return st, rows.Err()
}

func (s *sqliteStore) PutSettings(ctx context.Context, st Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for k, v := range settingPairs(st) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) PutTask(ctx context.Context, t TaskRecord) error {
	row := toTaskRow(t)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(task_id, kind, trigger_ms, payload, created_ms) VALUES(?,?,?,?,?)
		 ON CONFLICT(task_id) DO UPDATE SET kind=excluded.kind, trigger_ms=excluded.trigger_ms,
		   payload=excluded.payload, created_ms=excluded.created_ms`,
		row.TaskID, row.Kind, row.TriggerMS, row.Payload, row.CreatedMS,
	)
	return err
}

func (s *sqliteStore) GetTask(ctx context.Context, id event.TaskID) (TaskRecord, error) {
	var row taskRow
	err := s.db.QueryRowContext(ctx,
		`SELECT task_id, kind, trigger_ms, payload, created_ms FROM tasks WHERE task_id = ?`, id.String(),
	).Scan(&row.TaskID, &row.Kind, &row.TriggerMS, &row.Payload, &row.CreatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskRecord{}, ErrNotFound
	}
	if err != nil {
		return TaskRecord{}, err
	}
	return row.record()
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id event.TaskID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id.String())
	return err
}

func (s *sqliteStore) ListTasks(ctx context.Context) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, kind, trigger_ms, payload, created_ms FROM tasks ORDER BY trigger_ms, task_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TaskRecord
	for rows.Next() {
		var row taskRow
		if err := rows.Scan(&row.TaskID, &row.Kind, &row.TriggerMS, &row.Payload, &row.CreatedMS); err != nil {
			return nil, err
		}
		t, err := row.record()
		if err != nil {
			s.log.Warn("skip unreadable task", logx.String("task_id", row.TaskID), logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutAlertRef(ctx context.Context, ref AlertRef) error {
	if ref.UpdatedAt.IsZero() {
		ref.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_refs(sink, alert_id, ref, updated_ms) VALUES(?,?,?,?)
		 ON CONFLICT(sink, alert_id) DO UPDATE SET ref=excluded.ref, updated_ms=excluded.updated_ms`,
		ref.Sink, ref.AlertID.String(), ref.Ref, ref.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetAlertRef(ctx context.Context, sink string, id event.AlertID) (AlertRef, error) {
	var (
		ref string
		ms  int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT ref, updated_ms FROM alert_refs WHERE sink = ? AND alert_id = ?`, sink, id.String()).Scan(&ref, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return AlertRef{}, ErrNotFound
	}
	if err != nil {
		return AlertRef{}, err
	}
	return AlertRef{Sink: sink, AlertID: id, Ref: ref, UpdatedAt: time.UnixMilli(ms)}, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, target, event_id, ok, err, meta) VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), nullStr(e.Actor), e.Action, nullStr(e.Target), e.EventID, ok, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func settingPairs(st Settings) map[string]string {
	return map[string]string{
		settingNotifications: strconv.FormatBool(st.NotificationsEnabled),
		settingLanguage:      normalizeLanguage(st.Language),
	}
}

func applySetting(st *Settings, k, v string) {
	switch k {
	case settingNotifications:
		if b, err := strconv.ParseBool(v); err == nil {
			st.NotificationsEnabled = b
		}
	case settingLanguage:
		st.Language = normalizeLanguage(v)
	}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
