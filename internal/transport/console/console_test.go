package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"eventra/internal/alert"
	"eventra/internal/event"
)

func TestShowPrintsAndKeepsRef(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf)
	a := alert.Alert{ID: event.AlertIDFor(7, event.KindEnd), Title: "Event Ended: Standup", Text: "Your event has ended", Body: "Standup ended at 09:15"}

	ref, err := s.Show(context.Background(), a, "")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Event Ended: Standup", "Your event has ended", "09:15"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "(updated)") {
		t.Fatalf("first show marked as update:\n%s", out)
	}

	buf.Reset()
	ref2, err := s.Show(context.Background(), a, ref)
	if err != nil {
		t.Fatalf("Show again: %v", err)
	}
	if ref2 != ref {
		t.Fatalf("ref changed: %q -> %q", ref, ref2)
	}
	if !strings.Contains(buf.String(), "(updated)") {
		t.Fatalf("redelivery not marked:\n%s", buf.String())
	}
}

func TestShowHonoursCancelledContext(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(&buf).Show(ctx, alert.Alert{Title: "x"}, ""); err == nil {
		t.Fatal("expected context error")
	}
	if buf.Len() != 0 {
		t.Fatalf("wrote output on cancelled context: %q", buf.String())
	}
}
