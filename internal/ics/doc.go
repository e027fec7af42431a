// Package ics moves events in and out of iCalendar files.
//
// Import reads single-occurrence VEVENTs and takes the reminder offset from
// the first VALARM. Export writes one VEVENT per event with VALARMs for the
// same reminder, start and end alerts the scheduler would deliver.
package ics
