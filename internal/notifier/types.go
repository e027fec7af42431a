package notifier

import (
	"time"

	"eventra/internal/event"
)

// Config controls the async alert pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration

	// DedupWindow suppresses an identical alert published again within the
	// window. 0 disables it.
	DedupWindow     time.Duration
	DedupMaxEntries int
	HistorySize     int
}

type HistoryItem struct {
	At      time.Time
	Sink    string
	AlertID event.AlertID
	Ref     string
	Title   string
}

// AlertEvent is emitted on the event bus for pipeline lifecycle events.
type AlertEvent struct {
	Sink    string        `json:"sink,omitempty"`
	AlertID event.AlertID `json:"alert_id"`
	EventID int64         `json:"event_id"`
	Kind    event.Kind    `json:"kind"`
	Ref     string        `json:"ref,omitempty"`
	At      time.Time     `json:"at"`
	Error   string        `json:"error,omitempty"`
}

const (
	TopicQueued  = "notifier.queued"
	TopicSent    = "notifier.sent"
	TopicFailed  = "notifier.failed"
	TopicDropped = "notifier.dropped"
	TopicDeduped = "notifier.deduped"
)
