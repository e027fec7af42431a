package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TopicShown, Data: 42})

	for i, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TopicShown || e.Data != 42 {
				t.Fatalf("sub %d got %+v", i, e)
			}
			if e.Time.IsZero() {
				t.Fatalf("sub %d: time not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d: no event", i)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})
	unsub()

	var got []string
	for e := range ch {
		got = append(got, e.Type)
	}
	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("got %v, want [one]", got)
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", b.Dropped())
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "three"})
}

func TestSubscribeFiltersByTopic(t *testing.T) {
	b := New()
	reg, unsubReg := b.Subscribe(4, "registry")
	defer unsubReg()
	shown, unsubShown := b.Subscribe(4, TopicShown)
	defer unsubShown()

	b.Publish(Event{Type: TopicTaskArmed})
	b.Publish(Event{Type: TopicShown})
	b.Publish(Event{Type: "registryx.other"})
	b.Publish(Event{Type: TopicTaskFired})

	want := map[<-chan Event][]string{
		reg:   {TopicTaskArmed, TopicTaskFired},
		shown: {TopicShown},
	}
	for ch, types := range want {
		for _, typ := range types {
			select {
			case e := <-ch:
				if e.Type != typ {
					t.Fatalf("got %s, want %s", e.Type, typ)
				}
			case <-time.After(time.Second):
				t.Fatalf("missing %s", typ)
			}
		}
		select {
		case e := <-ch:
			t.Fatalf("unexpected %s", e.Type)
		default:
		}
	}
}
