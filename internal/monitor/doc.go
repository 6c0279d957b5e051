// Package monitor observes an execution without influencing it. It consumes
// the scheduler's transition stream, keeps aggregate progress counters and
// an ETA estimate, and fans every event out to the configured sinks
// (structured log, OpenTelemetry metrics, socket.io push).
//
// Publish is called on the scheduler's decision goroutine, so sinks must be
// cheap; anything slow has to buffer or drop on its own.
package monitor
