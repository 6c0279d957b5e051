package task

import "time"

// State is the scheduling state of one task. The only legal transitions are
//
//	Pending -> Ready -> Running -> Succeeded | Failed
//	Failed  -> Ready                     (retry, attempts remaining)
//	Pending -> Blocked | Skipped         (downstream of a permanent failure)
//	Pending | Ready | Running -> Cancelled
//	Failed  -> Cancelled                 (cancellation while a retry was pending)
//
// Succeeded, Failed, Blocked, Skipped and Cancelled are terminal.
type State int32

const (
	Pending State = iota
	Ready
	Running
	Succeeded
	Failed
	Blocked
	Skipped
	Cancelled
)

// String implements fmt.Stringer for logs and the event stream.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Blocked:
		return "blocked"
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, Blocked, Skipped, Cancelled:
		return true
	}
	return false
}

// Event records one state transition. The scheduler publishes events in the
// order it decided them; consumers may rely on that ordering.
type Event struct {
	TaskID        string    `json:"task_id"`
	From          State     `json:"old_state"`
	To            State     `json:"new_state"`
	Timestamp     time.Time `json:"timestamp"`
	Attempt       int       `json:"attempt"`
	CorrelationID string    `json:"correlation_id"`
}
