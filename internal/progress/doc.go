// Package progress carries crawl lifecycle events from the engine to
// pluggable sinks. Emit never blocks; events are batched on a background
// goroutine and fanned out to every sink.
package progress
