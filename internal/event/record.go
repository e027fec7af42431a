package event

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// ErrInvalid is wrapped by Validate for every rejected record.
var ErrInvalid = errors.New("event: invalid record")

// AllowedOffsets lists the reminder offsets (minutes) an event may carry.
var AllowedOffsets = []int{0, 15, 30, 60}

// Record is a single-occurrence calendar event.
type Record struct {
	ID                    int64
	Title                 string
	Description           string
	Start                 time.Time
	End                   *time.Time
	AllDay                bool
	ReminderOffsetMinutes int
}

// Validate returns a wrapped ErrInvalid describing the first violated rule.
func (r Record) Validate() error {
	switch {
	case r.ID <= 0:
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalid, r.ID)
	case strings.TrimSpace(r.Title) == "":
		return fmt.Errorf("%w: title is empty", ErrInvalid)
	case r.Start.IsZero():
		return fmt.Errorf("%w: start is not set", ErrInvalid)
	case !ValidOffset(r.ReminderOffsetMinutes):
		return fmt.Errorf("%w: reminder offset %d not in %v", ErrInvalid, r.ReminderOffsetMinutes, AllowedOffsets)
	}
	if r.End != nil && r.End.Before(r.Start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalid, r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

func ValidOffset(m int) bool {
	for _, o := range AllowedOffsets {
		if o == m {
			return true
		}
	}
	return false
}

// HasEnd reports whether the record has an end time that matters for
// scheduling. All-day events ignore End.
func (r Record) HasEnd() bool { return r.End != nil && !r.AllDay }

// Reminder returns the reminder trigger time and whether one applies.
func (r Record) Reminder() (time.Time, bool) {
	if r.AllDay || r.ReminderOffsetMinutes <= 0 {
		return time.Time{}, false
	}
	return r.Start.Add(-time.Duration(r.ReminderOffsetMinutes) * time.Minute), true
}

// Clone returns a deep copy so callers can edit without aliasing End.
func (r Record) Clone() Record {
	cp := r
	if r.End != nil {
		e := *r.End
		cp.End = &e
	}
	return cp
}

var lastID atomic.Int64

// NewID returns a creation-time id in unix milliseconds. Ids are strictly
// increasing within one process even when called twice in the same
// millisecond.
func NewID(now time.Time) int64 {
	id := now.UnixMilli()
	for {
		prev := lastID.Load()
		next := id
		if next <= prev {
			next = prev + 1
		}
		if lastID.CompareAndSwap(prev, next) {
			return next
		}
	}
}
