package scheduler

import (
	"fmt"
	"time"

	"github.com/vk/taskgridgo/internal/task"
)

// event is the internal union type flowing through the decision queue.
// Exactly one field group is set per event.
type event struct {
	// result is a terminal attempt report from the execution engine.
	result *task.Result
	// retryDue re-queues the named task after its backoff elapsed.
	retryDue string
	// capacityFreed wakes the dispatch pass after a reservation release.
	capacityFreed bool
	// cancel requests top-down cancellation of the whole execution.
	cancel bool
}

// EventSink receives every state transition, in decision order. The monitor
// implements it; calls happen on the decision goroutine and must be cheap.
type EventSink interface {
	Publish(task.Event)
}

// ConflictError reports an internal invariant violation, such as a
// completion for a task that was never running. It is fatal to the one
// execution and carries a dump of the status table for diagnosis.
type ConflictError struct {
	TaskID    string
	Detail    string
	StateDump string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("scheduling conflict on task %q: %s\nstate dump:\n%s", e.TaskID, e.Detail, e.StateDump)
}

// Summary is the final report of one execution.
type Summary struct {
	// Counts holds the number of tasks that ended in each terminal state.
	Counts map[task.State]int
	// Results maps task id to its final result, for tasks that ran at all.
	Results map[string]*task.Result
	// Duration is the wall-clock time of the whole execution.
	Duration time.Duration
	// Cancelled reports whether the execution ended by cancellation.
	Cancelled bool
}

// Succeeded reports whether every task in the plan succeeded.
func (s *Summary) Succeeded() bool {
	for state, n := range s.Counts {
		if state != task.Succeeded && n > 0 {
			return false
		}
	}
	return !s.Cancelled
}
