// Package notifier is the alert pipeline between the dispatcher and the
// sinks.
//
// Publish queues a rendered alert; a small worker pool delivers it to every
// configured sink under a shared rate limit, retrying transient failures.
//
// # Overwrite by alert id
//
// Each sink returns a handle for the message that shows an alert. The
// handle is stored under (sink, alert id), and a later delivery of the same
// alert id passes it back to the sink, which replaces the old message
// instead of adding a second one.
//
// # History
//
// The service keeps a small in-memory history of delivered alerts for the
// CLI and logs.
package notifier
