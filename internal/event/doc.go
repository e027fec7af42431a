// Package event holds the event record, its validation rules, the payload
// codec carried by scheduled tasks, and the deterministic task and alert
// identifiers derived from an event id.
package event
