package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"eventra/internal/alert"
	"eventra/internal/event"
	kit "eventra/internal/transport"
	logx "eventra/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

type fakeAPI struct {
	sent    []string
	edited  []int
	nextID  int
	editErr error
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.nextID++
	f.sent = append(f.sent, what.(string))
	return &tele.Message{ID: f.nextID}, nil
}

func (f *fakeAPI) Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.editErr != nil {
		return nil, f.editErr
	}
	id, _ := msg.MessageSig()
	var n int
	for _, c := range id {
		n = n*10 + int(c-'0')
	}
	f.edited = append(f.edited, n)
	return &tele.Message{ID: n}, nil
}

func sample() alert.Alert {
	return alert.Alert{ID: event.AlertIDFor(1, event.KindStart), EventID: 1, Kind: event.KindStart, Title: "Event Started: <Q&A>", Text: "Your event has started now", Body: "details"}
}

func TestShowSendsThenEdits(t *testing.T) {
	api := &fakeAPI{}
	s := NewWithAPI(Config{ChatID: 55}, api, logx.Nop())
	ctx := context.Background()

	ref, err := s.Show(ctx, sample(), "")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent = %d", len(api.sent))
	}
	mr, err := kit.ParseMessageRef(ref)
	if err != nil || mr.ChatID != 55 || mr.MessageID != 1 {
		t.Fatalf("ref = %q (%+v, %v)", ref, mr, err)
	}

	ref2, err := s.Show(ctx, sample(), ref)
	if err != nil {
		t.Fatalf("Show again: %v", err)
	}
	if ref2 != ref || len(api.sent) != 1 || len(api.edited) != 1 || api.edited[0] != 1 {
		t.Fatalf("redelivery did not edit: ref2=%q sent=%d edited=%v", ref2, len(api.sent), api.edited)
	}
}

func TestShowFallsBackToSendWhenEditFails(t *testing.T) {
	api := &fakeAPI{editErr: errors.New("Bad Request: message to edit not found")}
	s := NewWithAPI(Config{ChatID: 55}, api, logx.Nop())
	ref, err := s.Show(context.Background(), sample(), kit.MessageRef{ChatID: 55, MessageID: 9}.String())
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if len(api.sent) != 1 || !strings.HasSuffix(ref, ":1") {
		t.Fatalf("sent=%d ref=%q", len(api.sent), ref)
	}
}

func TestFormatEscapesHTML(t *testing.T) {
	got := Format(sample())
	want := "<b>Event Started: &lt;Q&amp;A&gt;</b>\nYour event has started now\n\ndetails"
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}
