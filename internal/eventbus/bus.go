// Package eventbus fans lifecycle signals out to in-process observers.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TopicTaskArmed     = "registry.armed"
	TopicTaskCancelled = "registry.cancelled"
	TopicTaskFired     = "registry.fired"
	TopicShown         = "dispatch.shown"
	TopicDropped       = "dispatch.dropped"
	TopicConfigApplied = "config.applied"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers best effort: Publish never blocks, and a subscriber whose
// buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	// Subscribe receives events whose Type equals one of topics or starts
	// with it followed by a dot. No topics means everything.
	Subscribe(buffer int, topics ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries lost to full buffers.
	Dropped() uint64
}

func New() Bus { return &memBus{subs: map[*subscriber]struct{}{}} }

// Nop discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Dropped() uint64 { return 0 }
func (nopBus) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type subscriber struct {
	ch     chan Event
	topics []string
}

func (s *subscriber) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	for _, t := range s.topics {
		if topic == t || strings.HasPrefix(topic, t+".") {
			return true
		}
	}
	return false
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

// Publish holds the read lock across the non-blocking sends so an
// unsubscribe cannot close a channel mid-send.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer), topics: topics}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
