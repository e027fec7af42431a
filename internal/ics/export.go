package ics

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"eventra/internal/event"

	ical "github.com/emersion/go-ical"
)

const (
	prodID       = "-//eventra//Event Alerts//EN"
	calName      = "eventra"
	actionNotify = "DISPLAY"
	paramRelated = "RELATED"
)

// Export writes evs as an iCalendar document. now stamps DTSTAMP.
func Export(w io.Writer, evs []event.Record, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText("X-WR-CALNAME", calName)

	for _, ev := range evs {
		cal.Children = append(cal.Children, toVEvent(ev, now).Component)
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

// UID returns the iCalendar UID Export uses for an event id.
func UID(id int64) string { return strconv.FormatInt(id, 10) + uidSuffix }

func toVEvent(ev event.Record, now time.Time) *ical.Event {
	ve := ical.NewEvent()
	ve.Props.SetText(ical.PropUID, UID(ev.ID))
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetText(ical.PropSummary, ev.Title)
	if ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, ev.Description)
	}

	if ev.AllDay {
		ve.Props.SetDate(ical.PropDateTimeStart, ev.Start)
		if ev.End != nil && ev.End.After(ev.Start) {
			ve.Props.SetDate(ical.PropDateTimeEnd, *ev.End)
		}
		// all-day events carry no alarms
		return ve
	}

	ve.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
	if ev.End != nil {
		ve.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.UTC())
	}
	if ev.ReminderOffsetMinutes > 0 {
		addAlarm(ve, -time.Duration(ev.ReminderOffsetMinutes)*time.Minute, false, ev.Title)
	}
	addAlarm(ve, 0, false, ev.Title)
	if ev.HasEnd() {
		addAlarm(ve, 0, true, ev.Title)
	}
	return ve
}

// addAlarm appends a DISPLAY alarm firing at offset from the start, or from
// the end when relatedEnd is set.
func addAlarm(ve *ical.Event, offset time.Duration, relatedEnd bool, description string) {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, actionNotify)
	alarm.Props.SetText(ical.PropDescription, description)

	p := ical.NewProp(ical.PropTrigger)
	p.SetDuration(offset)
	if relatedEnd {
		p.Params.Set(paramRelated, "END")
	}
	alarm.Props.Set(p)
	ve.Children = append(ve.Children, alarm)
}
