package task

import (
	"time"
)

// Node is a single task definition as submitted by the caller. A Node is
// immutable once it is part of a plan; all mutable execution state lives in
// the scheduler's status table, keyed by ID.
type Node struct {
	// ID uniquely identifies the task within one submission.
	ID string
	// Name is the human-readable label used in logs and summaries.
	Name string
	// Type selects the registered Go handler that implements the task body.
	Type string
	// Capability selects the backend the task is dispatched to
	// ("cooperative", "cpu" or "isolated"). Empty means "cooperative".
	Capability string
	// DependsOn lists the IDs of tasks that must succeed before this one
	// becomes ready. Order is irrelevant and duplicates are rejected at
	// build time.
	DependsOn []string
	// Requirements is the resource vector reserved for the whole dispatch.
	Requirements Requirements
	// EstimatedDuration seeds critical-path analysis and the usage predictor.
	EstimatedDuration time.Duration
	// Retry governs how failures of this task are retried.
	Retry RetryPolicy
	// Timeout bounds a single attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	// Command is the argv executed by the process-isolated backend. Ignored
	// by the in-process backends, which run the registered handler instead.
	Command []string
	// Metadata is opaque to the engine and passed through to handlers and sinks.
	Metadata map[string]string
}

// Requirements is the numeric resource vector a task needs while running.
// A reservation is granted only if every dimension fits at once.
type Requirements struct {
	CPU      float64
	MemoryMB float64
	IOMbps   float64
	Custom   map[string]float64
}

// IsZero reports whether the vector requests nothing at all.
func (r Requirements) IsZero() bool {
	if r.CPU != 0 || r.MemoryMB != 0 || r.IOMbps != 0 {
		return false
	}
	for _, v := range r.Custom {
		if v != 0 {
			return false
		}
	}
	return true
}

// BackoffKind selects how the delay between retry attempts grows.
type BackoffKind string

const (
	BackoffFixed             BackoffKind = "fixed"
	BackoffExponential       BackoffKind = "exponential"
	BackoffExponentialJitter BackoffKind = "exponential_jitter"
)

// RetryPolicy describes how many times a task may be attempted and how long
// to wait between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first run included.
	// Zero or one means no retries.
	MaxAttempts int
	// Backoff selects the delay growth curve.
	Backoff BackoffKind
	// BaseDelay is the fixed delay, or the base of the exponential curve.
	BaseDelay time.Duration
	// RetryableKinds limits retries to the listed error kinds. Empty means
	// every transient error is retryable.
	RetryableKinds []string
}

// Result is the terminal report of one task, produced by the execution
// engine and routed through the failure handler before anyone else sees it.
type Result struct {
	TaskID   string
	State    State
	Start    time.Time
	End      time.Time
	Err      string
	Attempts int
	// Cause is the underlying error of a failed attempt, kept alongside the
	// printable Err so the failure handler can classify it.
	Cause error
}

// Duration returns the wall-clock time of the final attempt.
func (r Result) Duration() time.Duration {
	if r.End.IsZero() || r.Start.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}
