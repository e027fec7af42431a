package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eventra/internal/alert"
	"eventra/internal/event"
	"eventra/internal/eventbus"
	"eventra/internal/registry"
	"eventra/internal/storage"
	logx "eventra/pkg/logx"
)

type capture struct {
	mu  sync.Mutex
	got []alert.Alert
	err error
}

func (c *capture) Publish(_ context.Context, a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, a)
	return c.err
}

func (c *capture) n() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type fixedSettings struct {
	s   storage.Settings
	err error
}

func (f fixedSettings) Settings(context.Context) (storage.Settings, error) { return f.s, f.err }

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func payloadFor(t *testing.T) []byte {
	t.Helper()
	end := t0.Add(time.Hour)
	b, err := event.Encode(event.Record{ID: 1, Title: "Standup", Description: "room 4", Start: t0, End: &end, ReminderOffsetMinutes: 15})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return b
}

func newDispatcher(t *testing.T, st SettingsSource, perm Permission, pub Publisher, opts ...Option) *Dispatcher {
	t.Helper()
	r, err := alert.NewRenderer(time.UTC)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	opts = append([]Option{WithLogger(logx.Nop()), WithNow(func() time.Time { return t0 })}, opts...)
	return New(r, st, perm, pub, opts...)
}

func TestDispatchOutcomes(t *testing.T) {
	on := storage.DefaultSettings()
	off := storage.Settings{NotificationsEnabled: false, Language: "en"}

	cases := []struct {
		name     string
		settings SettingsSource
		granted  bool
		kind     event.Kind
		payload  []byte
		want     Outcome
	}{
		{"shown", fixedSettings{s: on}, true, event.KindStart, payloadFor(t), OutcomeShown},
		{"disabled", fixedSettings{s: off}, true, event.KindStart, payloadFor(t), OutcomeDisabled},
		{"settings error", fixedSettings{err: errors.New("disk")}, true, event.KindStart, payloadFor(t), OutcomeDisabled},
		{"no permission", fixedSettings{s: on}, false, event.KindEnd, payloadFor(t), OutcomePermissionDenied},
		{"garbage", fixedSettings{s: on}, true, event.KindStart, []byte("{not json"), OutcomeMalformed},
		{"empty", fixedSettings{s: on}, true, event.KindStart, nil, OutcomeMalformed},
		{"bad kind", fixedSettings{s: on}, true, event.Kind(9), payloadFor(t), OutcomeMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub := &capture{}
			d := newDispatcher(t, tc.settings, NewSwitch(tc.granted), pub)
			if got := d.Dispatch(context.Background(), tc.kind, tc.payload); got != tc.want {
				t.Fatalf("outcome = %v, want %v", got, tc.want)
			}
			wantN := 0
			if tc.want == OutcomeShown {
				wantN = 1
			}
			if pub.n() != wantN {
				t.Fatalf("published %d alerts, want %d", pub.n(), wantN)
			}
		})
	}
}

func TestDispatchRendersLocalizedAlert(t *testing.T) {
	pub := &capture{}
	d := newDispatcher(t, fixedSettings{s: storage.Settings{NotificationsEnabled: true, Language: "en"}}, nil, pub)
	if out := d.Dispatch(context.Background(), event.KindReminder, payloadFor(t)); out != OutcomeShown {
		t.Fatalf("outcome = %v", out)
	}
	a := pub.got[0]
	if a.Title != "Event Starting Soon" || a.Text != "Standup in 15 minutes" {
		t.Fatalf("alert = %+v", a)
	}
	if a.ID != event.AlertIDFor(1, event.KindReminder) {
		t.Fatalf("alert id = %s", a.ID)
	}
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	pub := &capture{err: errors.New("queue full")}
	d := newDispatcher(t, fixedSettings{s: storage.DefaultSettings()}, nil, pub)
	if out := d.Dispatch(context.Background(), event.KindStart, payloadFor(t)); out != OutcomeShown {
		t.Fatalf("outcome = %v", out)
	}
}

func TestPanicIsContained(t *testing.T) {
	pub := PublisherFunc(func(context.Context, alert.Alert) error { panic("boom") })
	d := newDispatcher(t, fixedSettings{s: storage.DefaultSettings()}, nil, pub)
	if out := d.Dispatch(context.Background(), event.KindStart, payloadFor(t)); out != OutcomeMalformed {
		t.Fatalf("outcome = %v", out)
	}
}

func TestStaleAfter(t *testing.T) {
	pub := &capture{}
	late := func() time.Time { return t0.Add(3 * time.Hour) }
	d := newDispatcher(t, fixedSettings{s: storage.DefaultSettings()}, nil, pub,
		WithConfig(Config{StaleAfter: time.Hour}), WithNow(late))
	if out := d.Dispatch(context.Background(), event.KindStart, payloadFor(t)); out != OutcomeStale {
		t.Fatalf("start outcome = %v", out)
	}
	// end is at t0+1h, so two hours late
	if out := d.Dispatch(context.Background(), event.KindEnd, payloadFor(t)); out != OutcomeStale {
		t.Fatalf("end outcome = %v", out)
	}
	if pub.n() != 0 {
		t.Fatalf("published %d", pub.n())
	}
}

func TestDeliverPublishesOnBus(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	d := newDispatcher(t, fixedSettings{s: storage.DefaultSettings()}, nil, &capture{}, WithBus(bus))
	err := d.Deliver(context.Background(), registry.Delivery{
		TaskID:    event.TaskIDFor(1, event.KindStart),
		Kind:      event.KindStart,
		Payload:   payloadFor(t),
		TriggerAt: t0,
		FiredAt:   t0,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	select {
	case ev := <-ch:
		r, ok := ev.Data.(Result)
		if ev.Type != eventbus.TopicShown || !ok || r.Outcome != "shown" || r.EventID != 1 {
			t.Fatalf("bus event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no bus event")
	}
}
