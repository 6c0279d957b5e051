package dag

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed submission: a duplicate or empty task
// id, or a dependency reference that does not resolve to a declared task.
// No plan is created when Build returns one.
type ValidationError struct {
	TaskID string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task %q: %s", e.TaskID, e.Reason)
}

// CycleError reports that the dependency relation is not acyclic. Cycle
// holds the ids of one exact cycle in dependency order, with the first id
// repeated nowhere; len(Cycle) >= 1 (a self-dependency yields a single id).
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}
