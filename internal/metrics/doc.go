// Package metrics provides the thread-safe counters and timers shared by
// the executor, background queue, cache, and storage selector. One
// Collector instance is constructed at the composition root and handed to
// each component; there is no package-level global state.
package metrics
