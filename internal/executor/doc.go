// Package executor implements the bounded worker pool at the bottom of the
// concurrency stack, plus the fan-out/fan-in utilities built on it:
// ParallelMap (positional, partial-failure-tolerant mapping) and
// BatchProcess (chunked bulk operations).
//
// Scheduling is plain goroutines drawn from a fixed-size pool; there is no
// cooperative event loop. Submission is non-blocking with respect to
// starting work, Wait is the only call that blocks the caller.
// Cancellation is best-effort only: a running task cannot be preempted,
// Cancel merely stops a queued task from being scheduled.
package executor
