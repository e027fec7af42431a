// Package registry is eventra's deferred-task registry: it binds a trigger
// time and a payload to a task id, persists the binding, arms a runtime
// timer for it and hands the payload to a Handler when the timer fires.
//
// Bindings live in storage, so they outlive the process that created them.
// A registry that was never started (the CLI) only writes bindings; the
// daemon arms them on Start and on every reconcile tick.
//
// A fired binding is deleted from storage before delivery. Delivery is at
// most once per binding.
package registry
