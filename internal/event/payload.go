package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrMalformedPayload is returned by Decode for anything it cannot turn
// back into a valid Record.
var ErrMalformedPayload = errors.New("event: malformed payload")

const payloadVersion = 1

type envelope struct {
	V     int         `json:"v"`
	Event *wireRecord `json:"event"`
}

type wireRecord struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartMS     int64  `json:"start_ms"`
	EndMS       *int64 `json:"end_ms,omitempty"`
	AllDay      bool   `json:"all_day,omitempty"`
	Offset      int    `json:"reminder_offset_minutes"`
}

// Encode serializes r into the versioned payload carried by a task.
func Encode(r Record) ([]byte, error) {
	w := &wireRecord{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		StartMS:     r.Start.UnixMilli(),
		AllDay:      r.AllDay,
		Offset:      r.ReminderOffsetMinutes,
	}
	if r.End != nil {
		ms := r.End.UnixMilli()
		w.EndMS = &ms
	}
	return json.Marshal(envelope{V: payloadVersion, Event: w})
}

// Decode is the inverse of Encode. Unknown versions, unknown fields,
// malformed JSON and records that fail Validate all yield
// ErrMalformedPayload.
func Decode(b []byte) (Record, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return Record{}, fmt.Errorf("%w: empty", ErrMalformedPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Record{}, fmt.Errorf("%w: trailing data after payload", ErrMalformedPayload)
	}
	if env.V != payloadVersion {
		return Record{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedPayload, env.V)
	}
	if env.Event == nil {
		return Record{}, fmt.Errorf("%w: missing event", ErrMalformedPayload)
	}
	w := env.Event
	r := Record{
		ID:                    w.ID,
		Title:                 w.Title,
		Description:           w.Description,
		Start:                 time.UnixMilli(w.StartMS),
		AllDay:                w.AllDay,
		ReminderOffsetMinutes: w.Offset,
	}
	if w.StartMS == 0 {
		r.Start = time.Time{}
	}
	if w.EndMS != nil {
		e := time.UnixMilli(*w.EndMS)
		r.End = &e
	}
	if err := r.Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return r, nil
}
