package ics

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"eventra/internal/event"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportSample(t *testing.T) {
	f, err := os.Open("testdata/sample.ics")
	require.NoError(t, err)
	defer f.Close()

	res, err := Import(f, time.UTC)
	require.NoError(t, err)
	require.Len(t, res.Events, 3)
	require.Len(t, res.Skipped, 2)

	standup := res.Events[0]
	assert.Equal(t, "Standup", standup.Title)
	assert.Equal(t, "Daily sync", standup.Description)
	assert.True(t, standup.Start.Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)))
	require.NotNil(t, standup.End)
	assert.True(t, standup.End.Equal(time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC)))
	assert.Equal(t, 30, standup.ReminderOffsetMinutes, "end-relative alarm must be ignored")
	assert.Equal(t, idForUID("standup-1@example.com"), standup.ID)

	holiday := res.Events[1]
	assert.True(t, holiday.AllDay)
	assert.Equal(t, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), holiday.Start)

	dentist := res.Events[2]
	assert.Equal(t, 0, dentist.ReminderOffsetMinutes, "unsupported offsets fall back to none")

	reasons := []string{res.Skipped[0].Reason, res.Skipped[1].Reason}
	assert.Contains(t, reasons, "recurring events are not supported")
	assert.Contains(t, reasons, "missing UID")
}

func TestImportIsStableAcrossRuns(t *testing.T) {
	b, err := os.ReadFile("testdata/sample.ics")
	require.NoError(t, err)
	a, err := Import(bytes.NewReader(b), time.UTC)
	require.NoError(t, err)
	c, err := Import(bytes.NewReader(b), time.UTC)
	require.NoError(t, err)
	for i := range a.Events {
		assert.Equal(t, a.Events[i].ID, c.Events[i].ID)
		assert.Positive(t, a.Events[i].ID)
	}
}

func TestExportRoundTrip(t *testing.T) {
	start := time.Date(2025, 4, 2, 15, 30, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	evs := []event.Record{
		{ID: 1712000000000, Title: "Review", Description: "Q2 plan", Start: start, End: &end, ReminderOffsetMinutes: 15},
		{ID: 1712000000001, Title: "Offsite", Start: time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC), AllDay: true},
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, evs, start.Add(-24*time.Hour)))
	out := buf.String()
	assert.Contains(t, out, "UID:1712000000000@eventra")
	assert.Contains(t, out, "TRIGGER:-PT900S")
	assert.Contains(t, out, "RELATED=END")
	assert.Equal(t, 3, strings.Count(out, "BEGIN:VALARM"), "all-day event must not get alarms")

	res, err := Import(strings.NewReader(out), time.UTC)
	require.NoError(t, err)
	require.Empty(t, res.Skipped)
	require.Len(t, res.Events, 2)

	got := res.Events[0]
	assert.Equal(t, evs[0].ID, got.ID)
	assert.Equal(t, evs[0].Title, got.Title)
	assert.Equal(t, evs[0].Description, got.Description)
	assert.True(t, got.Start.Equal(start))
	require.NotNil(t, got.End)
	assert.True(t, got.End.Equal(end))
	assert.Equal(t, 15, got.ReminderOffsetMinutes)

	assert.Equal(t, evs[1].ID, res.Events[1].ID)
	assert.True(t, res.Events[1].AllDay)
}

func alarmEvent(t *testing.T, triggers ...string) *ical.VEvent {
	t.Helper()
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nBEGIN:VEVENT\r\nUID:x@test\r\nDTSTART:20250402T153000Z\r\n")
	for _, tr := range triggers {
		b.WriteString("BEGIN:VALARM\r\nACTION:DISPLAY\r\n" + tr + "\r\nEND:VALARM\r\n")
	}
	b.WriteString("END:VEVENT\r\nEND:VCALENDAR\r\n")
	cal, err := ical.ParseCalendar(strings.NewReader(b.String()))
	require.NoError(t, err)
	evs := cal.Events()
	require.Len(t, evs, 1)
	return evs[0]
}

func TestReminderFromAlarms(t *testing.T) {
	cases := []struct {
		name     string
		triggers []string
		want     int
	}{
		{"minutes", []string{"TRIGGER:-PT15M"}, 15},
		{"hour", []string{"TRIGGER:-PT1H"}, 60},
		{"long form", []string{"TRIGGER:-P0DT0H30M0S"}, 30},
		{"seconds as written by export", []string{"TRIGGER:-PT900S"}, 15},
		{"largest supported wins", []string{"TRIGGER:-PT15M", "TRIGGER:-PT1H", "TRIGGER:-P1D"}, 60},
		{"at start only", []string{"TRIGGER:PT0S"}, 0},
		{"after start", []string{"TRIGGER:+PT5M"}, 0},
		{"end related", []string{"TRIGGER;RELATED=END:-PT30M"}, 0},
		{"absolute", []string{"TRIGGER;VALUE=DATE-TIME:20250402T150000Z"}, 0},
		{"malformed", []string{"TRIGGER:-PTXM", "TRIGGER:15M", "TRIGGER:-P1H"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, reminderFromAlarms(alarmEvent(t, tc.triggers...)))
		})
	}
}
