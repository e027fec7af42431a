package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventra/internal/event"
	logx "eventra/pkg/logx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	st := &postgresStore{pool: pool, log: log}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	q, err := migrationSQL("postgres")
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

func (s *postgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const pgEventCols = `id, title, description, start_ms, end_ms, all_day, reminder_offset`

func scanPGEvent(row pgx.Row) (eventRow, error) {
	var r eventRow
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.StartMS, &r.EndMS, &r.AllDay, &r.Offset)
	return r, err
}

func (s *postgresStore) ListEvents(ctx context.Context) ([]event.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgEventCols+` FROM events ORDER BY start_ms, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []event.Record
	for rows.Next() {
		r, err := scanPGEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r.record())
	}
	return out, rows.Err()
}

func (s *postgresStore) GetEvent(ctx context.Context, id int64) (event.Record, error) {
	r, err := scanPGEvent(s.pool.QueryRow(ctx, `SELECT `+pgEventCols+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return event.Record{}, ErrNotFound
	}
	if err != nil {
		return event.Record{}, err
	}
	return r.record(), nil
}

func (s *postgresStore) PutEvent(ctx context.Context, rec event.Record) error {
	r := toEventRow(rec)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events(id, title, description, start_ms, end_ms, all_day, reminder_offset, updated_ms)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, description=EXCLUDED.description,
		   start_ms=EXCLUDED.start_ms, end_ms=EXCLUDED.end_ms, all_day=EXCLUDED.all_day,
		   reminder_offset=EXCLUDED.reminder_offset, updated_ms=EXCLUDED.updated_ms`,
		r.ID, r.Title, r.Description, r.StartMS, r.EndMS, r.AllDay, r.Offset, time.Now().UnixMilli(),
	)
	return err
}

func (s *postgresStore) DeleteEvent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	return err
}

func (s *postgresStore) GetSettings(ctx context.Context) (Settings, error) {
	st := DefaultSettings()
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
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

func (s *postgresStore) PutSettings(ctx context.Context, st Settings) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for k, v := range settingPairs(st) {
			if _, err := tx.Exec(ctx,
				`INSERT INTO settings(key, value) VALUES($1,$2) ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value`, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *postgresStore) PutTask(ctx context.Context, t TaskRecord) error {
	r := toTaskRow(t)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks(task_id, kind, trigger_ms, payload, created_ms) VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT (task_id) DO UPDATE SET kind=EXCLUDED.kind, trigger_ms=EXCLUDED.trigger_ms,
		   payload=EXCLUDED.payload, created_ms=EXCLUDED.created_ms`,
		r.TaskID, r.Kind, r.TriggerMS, r.Payload, r.CreatedMS,
	)
	return err
}

func (s *postgresStore) GetTask(ctx context.Context, id event.TaskID) (TaskRecord, error) {
	var r taskRow
	err := s.pool.QueryRow(ctx,
		`SELECT task_id, kind, trigger_ms, payload, created_ms FROM tasks WHERE task_id = $1`, id.String(),
	).Scan(&r.TaskID, &r.Kind, &r.TriggerMS, &r.Payload, &r.CreatedMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return TaskRecord{}, ErrNotFound
	}
	if err != nil {
		return TaskRecord{}, err
	}
	return r.record()
}

func (s *postgresStore) DeleteTask(ctx context.Context, id event.TaskID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, id.String())
	return err
}

func (s *postgresStore) ListTasks(ctx context.Context) ([]TaskRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT task_id, kind, trigger_ms, payload, created_ms FROM tasks ORDER BY trigger_ms, task_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TaskRecord
	for rows.Next() {
		var r taskRow
		if err := rows.Scan(&r.TaskID, &r.Kind, &r.TriggerMS, &r.Payload, &r.CreatedMS); err != nil {
			return nil, err
		}
		t, err := r.record()
		if err != nil {
			s.log.Warn("skip unreadable task", logx.String("task_id", r.TaskID), logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *postgresStore) PutAlertRef(ctx context.Context, ref AlertRef) error {
	if ref.UpdatedAt.IsZero() {
		ref.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_refs(sink, alert_id, ref, updated_ms) VALUES($1,$2,$3,$4)
		 ON CONFLICT (sink, alert_id) DO UPDATE SET ref=EXCLUDED.ref, updated_ms=EXCLUDED.updated_ms`,
		ref.Sink, ref.AlertID.String(), ref.Ref, ref.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *postgresStore) GetAlertRef(ctx context.Context, sink string, id event.AlertID) (AlertRef, error) {
	var (
		ref string
		ms  int64
	)
	err := s.pool.QueryRow(ctx, `SELECT ref, updated_ms FROM alert_refs WHERE sink = $1 AND alert_id = $2`, sink, id.String()).Scan(&ref, &ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return AlertRef{}, ErrNotFound
	}
	if err != nil {
		return AlertRef{}, err
	}
	return AlertRef{Sink: sink, AlertID: id, Ref: ref, UpdatedAt: time.UnixMilli(ms)}, nil
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, actor, action, target, event_id, ok, err, meta) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.At, nullStr(e.Actor), e.Action, nullStr(e.Target), e.EventID, e.OK, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}
