package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"eventra/internal/alert"
	"eventra/internal/dispatch"
	"eventra/internal/event"
	"eventra/internal/eventbus"
	"eventra/internal/registry"
	"eventra/internal/storage"
)

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) registry.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	keep := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			due = append(due, t.f)
		default:
			keep = append(keep, t)
		}
	}
	c.timers = keep
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

type recSink struct {
	mu  sync.Mutex
	got []alert.Alert
}

func (s *recSink) Name() string { return "rec" }

func (s *recSink) Show(_ context.Context, a alert.Alert, prevRef string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, a)
	return a.ID.String(), nil
}

func (s *recSink) alerts() []alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alert.Alert(nil), s.got...)
}

func newTestApp(t *testing.T, st storage.Store, sink *recSink, clk registry.Clock) *App {
	t.Helper()
	opts := []Option{WithStore(st), WithSinks(sink), WithLogOutput(io.Discard), WithActor("test")}
	if clk != nil {
		opts = append(opts, WithClock(clk))
	}
	a, err := New("", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestArmedTaskFiresToSink(t *testing.T) {
	st := storage.NewMemory()
	sink := &recSink{}
	clk := &manualClock{now: time.Now()}
	a := newTestApp(t, st, sink, clk)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background(), StopAppStop)

	start := time.Now().Add(time.Hour)
	rec, res, err := a.CreateEvent(ctx, event.Record{Title: "Dentist", Start: start})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if len(res.Scheduled) != 1 || rec.ID == 0 {
		t.Fatalf("create = %+v, %+v", rec, res)
	}

	clk.Advance(2 * time.Hour)
	waitFor(t, "alert", func() bool { return len(sink.alerts()) == 1 })
	got := sink.alerts()[0]
	if got.EventID != rec.ID || got.ID != event.AlertIDFor(rec.ID, event.KindStart) {
		t.Fatalf("alert = %+v", got)
	}
	pending, err := a.Pending(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending after fire = %d, %v", len(pending), err)
	}
}

func TestDisabledNotificationsRenderNothing(t *testing.T) {
	st := storage.NewMemory()
	sink := &recSink{}
	clk := &manualClock{now: time.Now()}
	a := newTestApp(t, st, sink, clk)
	ctx := context.Background()

	dropped, unsub := a.Bus().Subscribe(1024)
	defer unsub()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background(), StopAppStop)

	end := time.Now().Add(2 * time.Hour)
	if _, _, err := a.CreateEvent(ctx, event.Record{Title: "Standup", Start: time.Now().Add(time.Hour), End: &end}); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	// another process turned notifications off but this daemon's timers are
	// still armed
	if err := st.PutSettings(ctx, storage.Settings{NotificationsEnabled: false, Language: "en"}); err != nil {
		t.Fatalf("PutSettings: %v", err)
	}

	clk.Advance(3 * time.Hour)
	seen := 0
	timeout := time.After(3 * time.Second)
	for seen < 2 {
		select {
		case e := <-dropped:
			if e.Type != eventbus.TopicDropped {
				continue
			}
			if r := e.Data.(dispatch.Result); r.Outcome != dispatch.OutcomeDisabled.String() {
				t.Fatalf("outcome = %s", r.Outcome)
			}
			seen++
		case <-timeout:
			t.Fatalf("saw %d drops, want 2", seen)
		}
	}
	if n := len(sink.alerts()); n != 0 {
		t.Fatalf("rendered %d alerts while disabled", n)
	}
}

func TestOneShotDispatchDeliversInline(t *testing.T) {
	sink := &recSink{}
	a := newTestApp(t, storage.NewMemory(), sink, nil)
	defer a.Close()

	start := time.Now().Add(-time.Minute)
	payload, err := event.Encode(event.Record{ID: 42, Title: "Call", Start: start, ReminderOffsetMinutes: 15})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if out := a.Dispatch(context.Background(), event.KindReminder, payload); out != dispatch.OutcomeShown {
		t.Fatalf("outcome = %v", out)
	}
	if got := sink.alerts(); len(got) != 1 || got[0].Text != "Call in 15 minutes" {
		t.Fatalf("alerts = %+v", got)
	}
	if out := a.Dispatch(context.Background(), event.KindStart, []byte("nope")); out != dispatch.OutcomeMalformed {
		t.Fatalf("garbage outcome = %v", out)
	}
}

func TestEventLifecycleKeepsRegistryInSync(t *testing.T) {
	a := newTestApp(t, storage.NewMemory(), &recSink{}, nil)
	defer a.Close()
	ctx := context.Background()

	start := time.Now().Add(4 * time.Hour)
	rec, _, err := a.CreateEvent(ctx, event.Record{Title: "Review", Start: start, ReminderOffsetMinutes: 30})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if p, _ := a.Pending(ctx); len(p) != 2 {
		t.Fatalf("pending after create = %d", len(p))
	}

	rec.ReminderOffsetMinutes = 0
	end := start.Add(time.Hour)
	rec.End = &end
	if _, err := a.UpdateEvent(ctx, rec); err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	p, _ := a.Pending(ctx)
	if len(p) != 2 {
		t.Fatalf("pending after update = %d", len(p))
	}
	for _, b := range p {
		if b.Kind == event.KindReminder {
			t.Fatal("reminder survived the edit")
		}
	}

	if rep, err := a.SetNotifications(ctx, false); err != nil || rep.Total != 1 {
		t.Fatalf("disable = %+v, %v", rep, err)
	}
	if p, _ := a.Pending(ctx); len(p) != 0 {
		t.Fatalf("pending while disabled = %d", len(p))
	}
	if _, err := a.SetNotifications(ctx, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if p, _ := a.Pending(ctx); len(p) != 2 {
		t.Fatalf("pending after enable = %d", len(p))
	}

	if err := a.DeleteEvent(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if p, _ := a.Pending(ctx); len(p) != 0 {
		t.Fatalf("pending after delete = %d", len(p))
	}
	if err := a.DeleteEvent(ctx, rec.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete = %v", err)
	}
}

func TestCreateWithStoredIDLeavesAlertsAlone(t *testing.T) {
	a := newTestApp(t, storage.NewMemory(), &recSink{}, nil)
	defer a.Close()
	ctx := context.Background()

	start := time.Now().Add(3 * time.Hour)
	end := start.Add(time.Hour)
	first := event.Record{ID: 42, Title: "Sync", Start: start, End: &end, ReminderOffsetMinutes: 15}
	if _, _, err := a.CreateEvent(ctx, first); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	again := event.Record{ID: 42, Title: "Sync v2", Start: start.Add(time.Hour)}
	if _, _, err := a.CreateEvent(ctx, again); !errors.Is(err, ErrEventExists) {
		t.Fatalf("second CreateEvent = %v, want ErrEventExists", err)
	}
	stored, err := a.GetEvent(ctx, 42)
	if err != nil || stored.Title != "Sync" {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
	p, _ := a.Pending(ctx)
	if len(p) != 3 {
		t.Fatalf("pending = %d, want the original 3", len(p))
	}
	for _, b := range p {
		payload, err := event.Decode(b.Payload)
		if err != nil || payload.Title != "Sync" {
			t.Fatalf("%s payload = %+v, %v", b.Kind, payload, err)
		}
	}

	again.Title = "Sync"
	if _, err := a.UpdateEvent(ctx, again); err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	p, _ = a.Pending(ctx)
	if len(p) != 1 || p[0].Kind != event.KindStart || !p[0].TriggerAt.Equal(again.Start) {
		t.Fatalf("pending after update = %+v, want start only", p)
	}
}

func TestPastDecisionsFollowInjectedClock(t *testing.T) {
	clk := &manualClock{now: time.Now().Add(-24 * time.Hour)}
	sink := &recSink{}
	a := newTestApp(t, storage.NewMemory(), sink, clk)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background(), StopAppStop)

	// an hour ago by the wall clock, still a day ahead on the app's clock
	start := time.Now().Add(-time.Hour)
	_, res, err := a.CreateEvent(ctx, event.Record{Title: "Replay", Start: start})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if len(res.Scheduled) != 1 || len(res.SkippedPast) != 0 {
		t.Fatalf("result = %+v, want start scheduled", res)
	}
	if n := len(sink.alerts()); n != 0 {
		t.Fatalf("fired %d alerts before the clock reached the trigger", n)
	}

	clk.Advance(24 * time.Hour)
	waitFor(t, "alert", func() bool { return len(sink.alerts()) == 1 })
}

func TestInvalidEventIsRejected(t *testing.T) {
	a := newTestApp(t, storage.NewMemory(), &recSink{}, nil)
	defer a.Close()
	_, _, err := a.CreateEvent(context.Background(), event.Record{Title: "x", Start: time.Now().Add(time.Hour), ReminderOffsetMinutes: 5})
	if !errors.Is(err, event.ErrInvalid) {
		t.Fatalf("err = %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestApp(t, storage.NewMemory(), &recSink{}, nil)
	defer src.Close()
	start := time.Now().Add(24 * time.Hour).Truncate(time.Minute)
	for _, title := range []string{"One", "Two"} {
		if _, _, err := src.CreateEvent(ctx, event.Record{Title: title, Start: start, ReminderOffsetMinutes: 15}); err != nil {
			t.Fatalf("CreateEvent: %v", err)
		}
	}
	var buf bytes.Buffer
	n, err := src.Export(ctx, &buf)
	if err != nil || n != 2 {
		t.Fatalf("Export = %d, %v", n, err)
	}

	dst := newTestApp(t, storage.NewMemory(), &recSink{}, nil)
	defer dst.Close()
	data := buf.String()
	rep, err := dst.Import(ctx, strings.NewReader(data))
	if err != nil || rep.Created != 2 || rep.Failed != 0 {
		t.Fatalf("Import = %+v, %v", rep, err)
	}
	rep, err = dst.Import(ctx, strings.NewReader(data))
	if err != nil || rep.Updated != 2 || rep.Created != 0 {
		t.Fatalf("re-import = %+v, %v", rep, err)
	}
	evs, _ := dst.ListEvents(ctx)
	if len(evs) != 2 || evs[0].ReminderOffsetMinutes != 15 {
		t.Fatalf("imported = %+v", evs)
	}
}

func TestSetLanguage(t *testing.T) {
	a := newTestApp(t, storage.NewMemory(), &recSink{}, nil)
	defer a.Close()
	ctx := context.Background()
	if err := a.SetLanguage(ctx, "xx"); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("err = %v", err)
	}
	if err := a.SetLanguage(ctx, "FR"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	st, _ := a.Settings(ctx)
	if st.Language != "fr" || !st.NotificationsEnabled {
		t.Fatalf("settings = %+v", st)
	}
}

func TestStatusReportsNextAlert(t *testing.T) {
	clk := &manualClock{now: time.Now()}
	a := newTestApp(t, storage.NewMemory(), &recSink{}, clk)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background(), StopAppStop)

	start := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	if _, _, err := a.CreateEvent(ctx, event.Record{Title: "Sync", Start: start, ReminderOffsetMinutes: 60}); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	doc, err := a.status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	st := doc.(Status)
	if st.Pending != 2 || st.Armed != 2 || !st.Enabled || !a.healthy() {
		t.Fatalf("status = %+v", st)
	}
	if st.NextAlert == nil || !st.NextAlert.Equal(start.Add(-time.Hour)) {
		t.Fatalf("next alert = %v, want %v", st.NextAlert, start.Add(-time.Hour))
	}
}
