package event

import (
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	before := start.Add(-time.Minute)

	cases := []struct {
		name string
		rec  Record
		ok   bool
	}{
		{"ok", Record{ID: 1, Title: "Standup", Start: start, End: &end, ReminderOffsetMinutes: 15}, true},
		{"no end", Record{ID: 1, Title: "Standup", Start: start}, true},
		{"zero id", Record{Title: "x", Start: start}, false},
		{"blank title", Record{ID: 1, Title: "  ", Start: start}, false},
		{"no start", Record{ID: 1, Title: "x"}, false},
		{"bad offset", Record{ID: 1, Title: "x", Start: start, ReminderOffsetMinutes: 45}, false},
		{"end before start", Record{ID: 1, Title: "x", Start: start, End: &before}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rec.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestReminder(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := Record{ID: 1, Title: "x", Start: start, ReminderOffsetMinutes: 30}
	at, ok := r.Reminder()
	if !ok || !at.Equal(start.Add(-30*time.Minute)) {
		t.Fatalf("Reminder = %v,%v", at, ok)
	}
	r.AllDay = true
	if _, ok := r.Reminder(); ok {
		t.Fatal("all-day event should have no reminder")
	}
	r.AllDay, r.ReminderOffsetMinutes = false, 0
	if _, ok := r.Reminder(); ok {
		t.Fatal("offset 0 should have no reminder")
	}
}

func TestNewIDMonotonic(t *testing.T) {
	now := time.UnixMilli(1_800_000_000_000)
	a := NewID(now)
	b := NewID(now)
	if b <= a {
		t.Fatalf("NewID not increasing: %d then %d", a, b)
	}
	if a < now.UnixMilli() {
		t.Fatalf("NewID %d below clock %d", a, now.UnixMilli())
	}
}

func TestCloneDoesNotAliasEnd(t *testing.T) {
	end := time.Unix(100, 0)
	r := Record{End: &end}
	cp := r.Clone()
	*cp.End = time.Unix(200, 0)
	if !r.End.Equal(time.Unix(100, 0)) {
		t.Fatal("Clone aliases End")
	}
}
