package notifier

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"eventra/internal/alert"
)

func dedupKey(a alert.Alert) uint64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", a.ID, a.Title, a.Text, a.Body)
	return h.Sum64()
}

// dedupSet remembers recently published alert contents. A zero window
// disables it.
type dedupSet struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	until  map[uint64]time.Time
}

func (d *dedupSet) configure(window time.Duration, limit int) {
	d.mu.Lock()
	d.window, d.limit = window, limit
	d.mu.Unlock()
}

// allow reports whether key may go out now, and if so suppresses it for
// the window.
func (d *dedupSet) allow(key uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window <= 0 {
		return true
	}
	now := time.Now()
	if t, ok := d.until[key]; ok && now.Before(t) {
		return false
	}
	if d.until == nil {
		d.until = map[uint64]time.Time{}
	}
	d.until[key] = now.Add(d.window)
	d.evict(now)
	return true
}

// evict drops expired keys, then the soonest-expiring ones while over the
// limit. A limit of 0 or less means unbounded.
func (d *dedupSet) evict(now time.Time) {
	for k, t := range d.until {
		if !now.Before(t) {
			delete(d.until, k)
		}
	}
	for d.limit > 0 && len(d.until) > d.limit {
		var oldest uint64
		var at time.Time
		for k, t := range d.until {
			if at.IsZero() || t.Before(at) {
				oldest, at = k, t
			}
		}
		delete(d.until, oldest)
	}
}

// history keeps the last limit deliveries.
type history struct {
	mu    sync.Mutex
	limit int
	buf   []HistoryItem
}

func (h *history) resize(limit int) {
	h.mu.Lock()
	h.limit = limit
	h.trimLocked()
	h.mu.Unlock()
}

func (h *history) add(it HistoryItem) {
	h.mu.Lock()
	h.buf = append(h.buf, it)
	h.trimLocked()
	h.mu.Unlock()
}

func (h *history) trimLocked() {
	if h.limit > 0 && len(h.buf) > h.limit {
		h.buf = append(h.buf[:0:0], h.buf[len(h.buf)-h.limit:]...)
	}
}

func (h *history) items() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryItem(nil), h.buf...)
}
