package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"eventra/internal/event"
	"eventra/internal/registry"
	"eventra/internal/storage"
	logx "eventra/pkg/logx"
)

type entry struct {
	at   time.Time
	kind event.Kind
}

type fakeRegistry struct {
	mu      sync.Mutex
	tasks   map[event.TaskID]entry
	cancels int
	reject  map[event.Kind]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{tasks: map[event.TaskID]entry{}, reject: map[event.Kind]bool{}}
}

func (f *fakeRegistry) ScheduleAt(_ context.Context, at time.Time, id event.TaskID, kind event.Kind, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[kind] {
		return fmt.Errorf("%w: test policy", registry.ErrRejected)
	}
	if len(payload) == 0 {
		return errors.New("empty payload")
	}
	f.tasks[id] = entry{at: at, kind: kind}
	return nil
}

func (f *fakeRegistry) Cancel(_ context.Context, id event.TaskID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	delete(f.tasks, id)
	return nil
}

func (f *fakeRegistry) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeRegistry) get(id event.TaskID) (entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.tasks[id]
	return e, ok
}

var now0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newCoord(reg Registry) *Coordinator {
	return NewCoordinator(DefaultConfig(), reg, logx.Nop(), WithNow(func() time.Time { return now0 }))
}

func ptr(t time.Time) *time.Time { return &t }

func TestPlanScenario(t *testing.T) {
	T := now0.Add(24 * time.Hour)
	ev := event.Record{ID: 1, Title: "Review", Start: T, End: ptr(T.Add(3600000 * time.Millisecond)), ReminderOffsetMinutes: 15}

	got := Plan(ev, now0, 0)
	if len(got) != 3 {
		t.Fatalf("planned %d tasks, want 3", len(got))
	}
	want := []struct {
		kind event.Kind
		at   time.Time
	}{
		{event.KindReminder, T.Add(-900000 * time.Millisecond)},
		{event.KindStart, T},
		{event.KindEnd, T.Add(3600000 * time.Millisecond)},
	}
	seen := map[event.TaskID]bool{}
	for i, w := range want {
		if got[i].Kind != w.kind || !got[i].TriggerAt.Equal(w.at) || got[i].Past {
			t.Fatalf("plan[%d] = %+v, want kind %v at %v", i, got[i], w.kind, w.at)
		}
		if got[i].TaskID != event.TaskIDFor(1, w.kind) {
			t.Fatalf("plan[%d] task id mismatch", i)
		}
		seen[got[i].TaskID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("task ids not distinct: %v", seen)
	}
}

func TestPlanShapes(t *testing.T) {
	T := now0.Add(time.Hour)
	cases := []struct {
		name string
		ev   event.Record
		want []event.Kind
	}{
		{"no offset with end", event.Record{ID: 2, Title: "a", Start: T, End: ptr(T.Add(time.Hour))}, []event.Kind{event.KindStart, event.KindEnd}},
		{"no offset no end", event.Record{ID: 2, Title: "a", Start: T}, []event.Kind{event.KindStart}},
		{"offset no end", event.Record{ID: 2, Title: "a", Start: T, ReminderOffsetMinutes: 30}, []event.Kind{event.KindReminder, event.KindStart}},
		{"all day", event.Record{ID: 2, Title: "a", Start: T, End: ptr(T.Add(time.Hour)), AllDay: true, ReminderOffsetMinutes: 60}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Plan(tc.ev, now0, 0)
			if len(got) != len(tc.want) {
				t.Fatalf("planned %d, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i].Kind != tc.want[i] {
					t.Fatalf("plan[%d].Kind = %v, want %v", i, got[i].Kind, tc.want[i])
				}
			}
		})
	}
}

func TestScheduleAllSkipsPastAndInvalid(t *testing.T) {
	reg := newFakeRegistry()
	c := newCoord(reg)
	ctx := context.Background()

	// reminder at now-5m is past, start and end are future
	ev := event.Record{ID: 3, Title: "soon", Start: now0.Add(10 * time.Minute), End: ptr(now0.Add(time.Hour)), ReminderOffsetMinutes: 15}
	res := c.ScheduleAll(ctx, ev)
	if len(res.Scheduled) != 2 || len(res.SkippedPast) != 1 || res.SkippedPast[0] != event.KindReminder {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := reg.get(event.TaskIDFor(3, event.KindReminder)); ok {
		t.Fatal("past reminder was registered")
	}

	bad := event.Record{ID: 4, Title: "bad", Start: now0.Add(time.Hour), ReminderOffsetMinutes: 7}
	if res := c.ScheduleAll(ctx, bad); len(res.Scheduled) != 0 {
		t.Fatalf("invalid event scheduled: %+v", res)
	}
	if reg.len() != 2 {
		t.Fatalf("registry holds %d, want 2", reg.len())
	}
}

func TestPastGrace(t *testing.T) {
	reg := newFakeRegistry()
	cfg := DefaultConfig()
	cfg.PastGrace = time.Minute
	c := NewCoordinator(cfg, reg, logx.Nop())
	c.now = func() time.Time { return now0 }

	ev := event.Record{ID: 5, Title: "just now", Start: now0.Add(-30 * time.Second)}
	if res := c.ScheduleAll(context.Background(), ev); len(res.Scheduled) != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestScheduleAllRecordsRejections(t *testing.T) {
	reg := newFakeRegistry()
	reg.reject[event.KindEnd] = true
	c := newCoord(reg)
	ev := event.Record{ID: 6, Title: "x", Start: now0.Add(time.Hour), End: ptr(now0.Add(2 * time.Hour))}
	res := c.ScheduleAll(context.Background(), ev)
	if len(res.Scheduled) != 1 || len(res.Rejected) != 1 || res.Rejected[0] != event.KindEnd {
		t.Fatalf("result = %+v", res)
	}
}

func TestCancelAllUnscheduledIsNoop(t *testing.T) {
	reg := newFakeRegistry()
	c := newCoord(reg)
	ctx := context.Background()
	other := event.Record{ID: 7, Title: "keep", Start: now0.Add(time.Hour), End: ptr(now0.Add(2 * time.Hour))}
	c.ScheduleAll(ctx, other)

	c.CancelAllByID(ctx, 99)
	if reg.len() != 2 {
		t.Fatalf("other event lost tasks: %d", reg.len())
	}
	if reg.cancels != 3 {
		t.Fatalf("cancels = %d, want 3", reg.cancels)
	}
}

func TestRescheduleLeavesNoPreEditTrigger(t *testing.T) {
	reg := newFakeRegistry()
	c := newCoord(reg)
	ctx := context.Background()

	old := event.Record{ID: 8, Title: "move me", Start: now0.Add(2 * time.Hour), End: ptr(now0.Add(3 * time.Hour)), ReminderOffsetMinutes: 30}
	c.ScheduleAll(ctx, old)

	edited := old.Clone()
	edited.Start = now0.Add(5 * time.Hour)
	edited.End = nil
	edited.ReminderOffsetMinutes = 0
	c.Reschedule(ctx, old, edited)

	if reg.len() != 1 {
		t.Fatalf("registry holds %d, want 1", reg.len())
	}
	for _, k := range []event.Kind{event.KindReminder, event.KindEnd} {
		if _, ok := reg.get(event.TaskIDFor(8, k)); ok {
			t.Fatalf("stale %v task survived the edit", k)
		}
	}
	e, ok := reg.get(event.TaskIDFor(8, event.KindStart))
	if !ok || !e.at.Equal(edited.Start) {
		t.Fatalf("start = %+v, %v", e, ok)
	}
}

func seedStore(t *testing.T, st storage.Store, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		r := event.Record{ID: int64(i), Title: fmt.Sprintf("ev%d", i), Start: now0.Add(time.Duration(i) * time.Hour), ReminderOffsetMinutes: 15}
		if err := st.PutEvent(context.Background(), r); err != nil {
			t.Fatalf("PutEvent: %v", err)
		}
	}
}

func TestOrchestratorBulk(t *testing.T) {
	st := storage.NewMemory()
	seedStore(t, st, 10)
	reg := newFakeRegistry()
	c := newCoord(reg)
	o := NewOrchestrator(c, st)
	ctx := context.Background()

	rep, err := o.RescheduleAllForAllEvents(ctx)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if rep.Total != 10 || rep.Processed != 10 || reg.len() != 20 {
		t.Fatalf("report = %+v, tasks = %d", rep, reg.len())
	}

	rep, err = o.CancelAllForAllEvents(ctx)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rep.Processed != 10 || reg.len() != 0 {
		t.Fatalf("report = %+v, tasks = %d", rep, reg.len())
	}
}

func TestHooksRespectPreference(t *testing.T) {
	st := storage.NewMemory()
	seedStore(t, st, 3)
	reg := newFakeRegistry()
	c := newCoord(reg)
	h := NewHooks(c, NewOrchestrator(c, st), st)
	ctx := context.Background()

	ev := event.Record{ID: 50, Title: "new", Start: now0.Add(time.Hour)}
	if res := h.OnEventCreated(ctx, ev); len(res.Scheduled) != 1 {
		t.Fatalf("created: %+v", res)
	}

	if _, err := h.OnGlobalNotificationsToggled(ctx, false); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	got, _ := st.GetSettings(ctx)
	if got.NotificationsEnabled {
		t.Fatal("preference not stored")
	}
	// ev is not in the store, so it keeps its task; the stored ones have none
	if reg.len() != 1 {
		t.Fatalf("tasks after disable = %d, want 1", reg.len())
	}

	ev2 := event.Record{ID: 51, Title: "while off", Start: now0.Add(time.Hour)}
	if res := h.OnEventCreated(ctx, ev2); len(res.Scheduled) != 0 {
		t.Fatalf("scheduled while disabled: %+v", res)
	}
	h.OnEventDeleted(ctx, ev)
	if reg.len() != 0 {
		t.Fatalf("tasks after delete = %d", reg.len())
	}

	rep, err := h.OnGlobalNotificationsToggled(ctx, true)
	if err != nil || rep.Total != 3 {
		t.Fatalf("toggle on: %+v, %v", rep, err)
	}
	if reg.len() != 6 {
		t.Fatalf("tasks after enable = %d, want 6", reg.len())
	}
}
