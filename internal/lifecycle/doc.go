// Package lifecycle implements the application status state machine.
//
// The transition table is a pure function over (status, event) pairs; the
// Machine wraps it with persistence concerns: optimistic conditional writes
// with a bounded retry budget, an append-only status history, and the
// scheduler side effects of approval and cancellation.
//
// # Concurrency
//
// Every mutation follows read, guard, compute, conditional write. The write
// is conditioned on the version observed by the read, so two actors racing
// on the same application cannot both win: the loser's write fails and the
// Machine re-reads before retrying. The cancel/fire race around deferred
// notifications is resolved the same way, with no locks involved.
package lifecycle
