// Package logx wraps zerolog behind a small Logger value. Console output is
// human readable with a short caller, the optional file sink is JSON, and a
// zero Logger is a safe no-op so components never need a nil check.
package logx
