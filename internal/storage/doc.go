// Package storage persists events, settings, registry bindings, alert
// references and the audit trail.
//
// Drivers:
//   - "memory": process-local maps (tests, dry runs)
//   - "file":   JSON snapshot + append-only journal, shared by the CLI and
//     the daemon on one host
//   - "sqlite": modernc.org/sqlite database file
//   - "postgres": pgx connection pool
package storage
