package ics

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"strings"
	"time"

	"eventra/internal/event"

	ical "github.com/arran4/golang-ical"
	goical "github.com/emersion/go-ical"
)

// uidSuffix marks UIDs written by Export; their prefix is the event id.
const uidSuffix = "@eventra"

// Skipped is a VEVENT that could not become an event.
type Skipped struct {
	UID    string
	Reason string
}

// ImportResult holds the parsed events and what was left out.
type ImportResult struct {
	Events  []event.Record
	Skipped []Skipped
}

// Import parses an iCalendar stream. Events are validated; anything the
// scheduler could not handle is reported in Skipped instead of failing the
// whole file.
func Import(r io.Reader, loc *time.Location) (ImportResult, error) {
	if loc == nil {
		loc = time.Local
	}
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("parse calendar: %w", err)
	}
	var res ImportResult
	seen := map[int64]bool{}
	for _, ve := range cal.Events() {
		rec, err := fromVEvent(ve, loc)
		uid := propValue(ve, ical.ComponentPropertyUniqueId)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{UID: uid, Reason: err.Error()})
			continue
		}
		if seen[rec.ID] {
			res.Skipped = append(res.Skipped, Skipped{UID: uid, Reason: "duplicate UID"})
			continue
		}
		seen[rec.ID] = true
		res.Events = append(res.Events, rec)
	}
	return res, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func fromVEvent(ve *ical.VEvent, loc *time.Location) (event.Record, error) {
	uid := strings.TrimSpace(propValue(ve, ical.ComponentPropertyUniqueId))
	if uid == "" {
		return event.Record{}, errors.New("missing UID")
	}
	if ve.GetProperty(ical.ComponentPropertyRrule) != nil {
		return event.Record{}, errors.New("recurring events are not supported")
	}

	rec := event.Record{
		ID:          idForUID(uid),
		Title:       strings.TrimSpace(propValue(ve, ical.ComponentPropertySummary)),
		Description: propValue(ve, ical.ComponentPropertyDescription),
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return event.Record{}, errors.New("missing DTSTART")
	}
	rec.AllDay = isDateValue(dtStart)
	if rec.AllDay {
		start, err := ve.GetAllDayStartAt()
		if err != nil {
			return event.Record{}, fmt.Errorf("DTSTART: %w", err)
		}
		rec.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return event.Record{}, fmt.Errorf("DTSTART: %w", err)
		}
		rec.Start = start
	}

	if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
		var (
			end time.Time
			err error
		)
		if rec.AllDay {
			end, err = ve.GetAllDayEndAt()
			end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
		} else {
			end, err = ve.GetEndAt()
		}
		if err == nil && !end.Before(rec.Start) {
			rec.End = &end
		}
	}

	rec.ReminderOffsetMinutes = reminderFromAlarms(ve)
	if err := rec.Validate(); err != nil {
		return event.Record{}, err
	}
	return rec, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// reminderFromAlarms returns the largest supported offset among the
// start-relative VALARM triggers, or 0.
func reminderFromAlarms(ve *ical.VEvent) int {
	best := 0
	for _, a := range ve.Alarms() {
		p := a.GetProperty(ical.ComponentPropertyTrigger)
		if p == nil {
			continue
		}
		if rel, ok := p.ICalParameters["RELATED"]; ok && len(rel) > 0 && strings.EqualFold(rel[0], "END") {
			continue
		}
		d, err := triggerOffset(p)
		if err != nil || d >= 0 {
			continue
		}
		m := int((-d) / time.Minute)
		if event.ValidOffset(m) && m > best {
			best = m
		}
	}
	return best
}

// triggerOffset reads a relative TRIGGER. Absolute DATE-TIME triggers are
// an error.
func triggerOffset(p *ical.IANAProperty) (time.Duration, error) {
	prop := goical.NewProp(goical.PropTrigger)
	prop.Value = strings.TrimSpace(p.Value)
	if vs := p.ICalParameters[goical.ParamValue]; len(vs) > 0 {
		prop.Params.Set(goical.ParamValue, vs[0])
	}
	return prop.Duration()
}

// idForUID maps a UID to an event id. UIDs written by Export round-trip to
// their id; foreign UIDs hash to a stable positive id so re-importing the
// same file updates instead of duplicating.
func idForUID(uid string) int64 {
	if strings.HasSuffix(uid, uidSuffix) {
		if id, err := strconv.ParseInt(strings.TrimSuffix(uid, uidSuffix), 10, 64); err == nil && id > 0 {
			return id
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte("eventra/uid/v1|" + uid))
	id := int64(h.Sum64() >> 1)
	if id == 0 {
		id = 1
	}
	return id
}
