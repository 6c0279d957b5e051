// Package executor runs task attempts on pluggable backends and reports
// every outcome as a task.Result. Nothing escapes the Dispatch boundary:
// handler errors, panics, timeouts and cancellations all come back as a
// failed or cancelled Result with the cause attached.
//
// Backends are selected by the task's capability tag, never hardcoded:
//
//   - "cooperative": bounded admission via a counting semaphore, for
//     I/O-bound handlers that observe ctx at their suspension points.
//   - "cpu": a fixed-size pool sized to the available cores, for CPU-bound
//     handlers; cancellation is best-effort.
//   - "isolated": one worker process per task, giving hard fault isolation
//     and reliable forced cancellation.
//
// Task bodies for the in-process backends are Go handlers registered by
// task type, the same registration discipline the rest of the engine uses
// for backends themselves.
package executor
