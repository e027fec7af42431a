// Package schedule keeps the deferred task registry in step with the event
// store.
//
// Coordinator maps one event to at most three registrations (reminder,
// start, end). Task ids derive from (event id, kind) only, so cancelling
// never needs to remember what was scheduled. Orchestrator applies the
// same operations to every stored event, and Hooks are what the CLI calls
// after it mutates the store.
package schedule
