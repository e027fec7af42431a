// Package dispatch turns a fired registration back into a user-visible
// alert.
//
// The dispatcher knows nothing about the scheduler that registered the
// task. Everything it needs arrives in the payload, plus the settings and
// permission read once per delivery. A delivery that is not permitted, or
// whose payload cannot be decoded, is dropped without an error.
package dispatch
