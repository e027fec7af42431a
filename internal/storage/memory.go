package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"eventra/internal/event"
)

type memoryStore struct {
	mu        sync.Mutex
	events    map[int64]eventRow
	tasks     map[event.TaskID]taskRow
	settings  *Settings
	alertRefs map[string]AlertRef
	audit     []AuditEntry
	closed    bool
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{
		events:    map[int64]eventRow{},
		tasks:     map[event.TaskID]taskRow{},
		alertRefs: map[string]AlertRef{},
	}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ListEvents(ctx context.Context) ([]event.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisabled
	}
	out := make([]event.Record, 0, len(s.events))
	for _, row := range s.events {
		out = append(out, row.record())
	}
	sortEvents(out)
	return out, nil
}

func (s *memoryStore) GetEvent(ctx context.Context, id int64) (event.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return event.Record{}, ErrDisabled
	}
	row, ok := s.events[id]
	if !ok {
		return event.Record{}, ErrNotFound
	}
	return row.record(), nil
}

func (s *memoryStore) PutEvent(ctx context.Context, r event.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	s.events[r.ID] = toEventRow(r)
	return nil
}

func (s *memoryStore) DeleteEvent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	delete(s.events, id)
	return nil
}

func (s *memoryStore) GetSettings(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Settings{}, ErrDisabled
	}
	if s.settings == nil {
		return DefaultSettings(), nil
	}
	return *s.settings, nil
}

func (s *memoryStore) PutSettings(ctx context.Context, st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	st.Language = normalizeLanguage(st.Language)
	s.settings = &st
	return nil
}

func (s *memoryStore) PutTask(ctx context.Context, t TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	s.tasks[t.TaskID] = toTaskRow(t)
	return nil
}

func (s *memoryStore) GetTask(ctx context.Context, id event.TaskID) (TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TaskRecord{}, ErrDisabled
	}
	row, ok := s.tasks[id]
	if !ok {
		return TaskRecord{}, ErrNotFound
	}
	return row.record()
}

func (s *memoryStore) DeleteTask(ctx context.Context, id event.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	delete(s.tasks, id)
	return nil
}

func (s *memoryStore) ListTasks(ctx context.Context) ([]TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisabled
	}
	out := make([]TaskRecord, 0, len(s.tasks))
	for _, row := range s.tasks {
		t, err := row.record()
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sortTasks(out)
	return out, nil
}

func (s *memoryStore) PutAlertRef(ctx context.Context, ref AlertRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if ref.UpdatedAt.IsZero() {
		ref.UpdatedAt = time.Now()
	}
	s.alertRefs[alertRefKey(ref.Sink, ref.AlertID)] = ref
	return nil
}

func (s *memoryStore) GetAlertRef(ctx context.Context, sink string, id event.AlertID) (AlertRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return AlertRef{}, ErrDisabled
	}
	ref, ok := s.alertRefs[alertRefKey(sink, id)]
	if !ok {
		return AlertRef{}, ErrNotFound
	}
	return ref, nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.audit = append(s.audit, e)
	return nil
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return DefaultSettings().Language
	}
	return lang
}
