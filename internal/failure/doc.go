// Package failure decides what happens after a task attempt fails: whether
// the error is transient or permanent, whether and when to retry, when a
// (task-type, backend) pair is tripping its circuit breaker, and which
// tasks end up in the dead-letter record after exhausting their retries.
//
// The package holds policy only. It never dispatches anything itself; the
// scheduler consults it from the serialized decision path.
package failure
