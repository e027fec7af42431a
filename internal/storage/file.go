package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"eventra/internal/event"
	logx "eventra/pkg/logx"
)

// fileStore keeps all state in memory and persists it as:
//   - <prefix>.snapshot.json   (periodic snapshot)
//   - <prefix>.journal.jsonl   (append-only journal of mutations)
//   - <prefix>.audit.jsonl     (append-only audit trail)
//
// Several processes on one host may share the files. Every operation first
// replays journal lines appended since the last look, so a CLI write becomes
// visible to a running daemon on its next read.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile    *os.File
	snapshotPath string
	journalPath  string
	journal      *os.File

	state      fileState
	snapMod    time.Time
	snapSize   int64
	journalOff int64

	writes       int
	compactEvery int
}

type fileState struct {
	Events    map[int64]eventRow     `json:"events"`
	Tasks     map[string]taskRow     `json:"tasks"`
	Settings  *settingsRow           `json:"settings,omitempty"`
	AlertRefs map[string]alertRefRow `json:"alert_refs"`
}

type settingsRow struct {
	NotificationsEnabled bool   `json:"notifications_enabled"`
	Language             string `json:"language"`
}

type alertRefRow struct {
	Sink      string `json:"sink"`
	AlertID   string `json:"alert_id"`
	Ref       string `json:"ref"`
	UpdatedMS int64  `json:"updated_ms"`
}

type journalRecord struct {
	Op       string       `json:"op"`
	Event    *eventRow    `json:"event,omitempty"`
	EventID  int64        `json:"event_id,omitempty"`
	Task     *taskRow     `json:"task,omitempty"`
	TaskID   string       `json:"task_id,omitempty"`
	Settings *settingsRow `json:"settings,omitempty"`
	AlertRef *alertRefRow `json:"alert_ref,omitempty"`
}

const (
	opPutEvent    = "put_event"
	opDelEvent    = "del_event"
	opPutTask     = "put_task"
	opDelTask     = "del_task"
	opPutSettings = "put_settings"
	opPutAlertRef = "put_alert_ref"
)

func emptyState() fileState {
	return fileState{
		Events:    map[int64]eventRow{},
		Tasks:     map[string]taskRow{},
		AlertRefs: map[string]alertRefRow{},
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(prefix+".journal.jsonl", os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	s := &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: prefix + ".snapshot.json",
		journalPath:  prefix + ".journal.jsonl",
		journal:      jf,
		state:        emptyState(),
		compactEvery: 1000,
	}
	if err := s.reloadLocked(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journal != nil {
		err2 = s.journal.Close()
		s.journal = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// refreshLocked catches up with writes made by other processes.
func (s *fileStore) refreshLocked() error {
	if s.journal == nil {
		return ErrDisabled
	}
	if fi, err := os.Stat(s.snapshotPath); err == nil {
		if !fi.ModTime().Equal(s.snapMod) || fi.Size() != s.snapSize {
			return s.reloadLocked()
		}
	}
	fi, err := os.Stat(s.journalPath)
	if err != nil {
		return err
	}
	switch {
	case fi.Size() < s.journalOff:
		return s.reloadLocked()
	case fi.Size() > s.journalOff:
		return s.replayLocked()
	}
	return nil
}

func (s *fileStore) reloadLocked() error {
	s.state = emptyState()
	s.snapMod, s.snapSize, s.journalOff = time.Time{}, 0, 0

	b, err := os.ReadFile(s.snapshotPath)
	switch {
	case err == nil:
		var st fileState
		if err := json.Unmarshal(b, &st); err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if st.Events != nil {
			s.state.Events = st.Events
		}
		if st.Tasks != nil {
			s.state.Tasks = st.Tasks
		}
		if st.AlertRefs != nil {
			s.state.AlertRefs = st.AlertRefs
		}
		s.state.Settings = st.Settings
		if fi, err := os.Stat(s.snapshotPath); err == nil {
			s.snapMod, s.snapSize = fi.ModTime(), fi.Size()
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	return s.replayLocked()
}

// replayLocked applies complete journal lines past journalOff. A trailing
// partial line is left for the next refresh.
func (s *fileStore) replayLocked() error {
	f, err := os.Open(s.journalPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(s.journalOff, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		s.journalOff += int64(len(line))
		var rec journalRecord
		if err := json.Unmarshal(bytes.TrimSpace(line), &rec); err != nil {
			s.log.Debug("skip bad journal line", logx.Err(err))
			continue
		}
		s.state.apply(rec)
	}
}

func (st *fileState) apply(rec journalRecord) {
	switch rec.Op {
	case opPutEvent:
		if rec.Event != nil {
			st.Events[rec.Event.ID] = *rec.Event
		}
	case opDelEvent:
		delete(st.Events, rec.EventID)
	case opPutTask:
		if rec.Task != nil {
			st.Tasks[rec.Task.TaskID] = *rec.Task
		}
	case opDelTask:
		delete(st.Tasks, rec.TaskID)
	case opPutSettings:
		st.Settings = rec.Settings
	case opPutAlertRef:
		if rec.AlertRef != nil {
			st.AlertRefs[rec.AlertRef.Sink+"|"+rec.AlertRef.AlertID] = *rec.AlertRef
		}
	}
}

// writeLocked appends rec to the journal and replays it back, so the
// in-memory state always follows file order.
func (s *fileStore) writeLocked(rec journalRecord) error {
	if s.journal == nil {
		return ErrDisabled
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := s.journal.Write(line); err != nil {
		return err
	}
	if err := s.refreshLocked(); err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	b, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.journalOff = 0
	if fi, err := os.Stat(s.snapshotPath); err == nil {
		s.snapMod, s.snapSize = fi.ModTime(), fi.Size()
	}
	return nil
}

func (s *fileStore) ListEvents(ctx context.Context) ([]event.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return nil, err
	}
	out := make([]event.Record, 0, len(s.state.Events))
	for _, row := range s.state.Events {
		out = append(out, row.record())
	}
	sortEvents(out)
	return out, nil
}

func (s *fileStore) GetEvent(ctx context.Context, id int64) (event.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return event.Record{}, err
	}
	row, ok := s.state.Events[id]
	if !ok {
		return event.Record{}, ErrNotFound
	}
	return row.record(), nil
}

func (s *fileStore) PutEvent(ctx context.Context, r event.Record) error {
	row := toEventRow(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(journalRecord{Op: opPutEvent, Event: &row})
}

func (s *fileStore) DeleteEvent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(journalRecord{Op: opDelEvent, EventID: id})
}

func (s *fileStore) GetSettings(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return Settings{}, err
	}
	if s.state.Settings == nil {
		return DefaultSettings(), nil
	}
	return Settings{
		NotificationsEnabled: s.state.Settings.NotificationsEnabled,
		Language:             normalizeLanguage(s.state.Settings.Language),
	}, nil
}

func (s *fileStore) PutSettings(ctx context.Context, st Settings) error {
	row := settingsRow{NotificationsEnabled: st.NotificationsEnabled, Language: normalizeLanguage(st.Language)}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(journalRecord{Op: opPutSettings, Settings: &row})
}

func (s *fileStore) PutTask(ctx context.Context, t TaskRecord) error {
	row := toTaskRow(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(journalRecord{Op: opPutTask, Task: &row})
}

func (s *fileStore) GetTask(ctx context.Context, id event.TaskID) (TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return TaskRecord{}, err
	}
	row, ok := s.state.Tasks[id.String()]
	if !ok {
		return TaskRecord{}, ErrNotFound
	}
	return row.record()
}

func (s *fileStore) DeleteTask(ctx context.Context, id event.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return err
	}
	if _, ok := s.state.Tasks[id.String()]; !ok {
		return nil
	}
	return s.writeLocked(journalRecord{Op: opDelTask, TaskID: id.String()})
}

func (s *fileStore) ListTasks(ctx context.Context) ([]TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return nil, err
	}
	out := make([]TaskRecord, 0, len(s.state.Tasks))
	for _, row := range s.state.Tasks {
		t, err := row.record()
		if err != nil {
			s.log.Warn("skip unreadable task", logx.String("task_id", row.TaskID), logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	sortTasks(out)
	return out, nil
}

func (s *fileStore) PutAlertRef(ctx context.Context, ref AlertRef) error {
	if ref.UpdatedAt.IsZero() {
		ref.UpdatedAt = time.Now()
	}
	row := alertRefRow{Sink: ref.Sink, AlertID: ref.AlertID.String(), Ref: ref.Ref, UpdatedMS: ref.UpdatedAt.UnixMilli()}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(journalRecord{Op: opPutAlertRef, AlertRef: &row})
}

func (s *fileStore) GetAlertRef(ctx context.Context, sink string, id event.AlertID) (AlertRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return AlertRef{}, err
	}
	row, ok := s.state.AlertRefs[alertRefKey(sink, id)]
	if !ok {
		return AlertRef{}, ErrNotFound
	}
	return AlertRef{Sink: row.Sink, AlertID: id, Ref: row.Ref, UpdatedAt: time.UnixMilli(row.UpdatedMS)}, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}
