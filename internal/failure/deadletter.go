package failure

import (
	"sync"
	"time"
)

// Attempt is one entry in a task's failure history.
type Attempt struct {
	Attempt int
	Err     string
	At      time.Time
}

// DeadLetter records a task that permanently failed after exhausting its
// retries, with the full attempt history for external inspection. This is
// distinct from transient in-flight failures, which never appear here.
type DeadLetter struct {
	TaskID     string
	TaskType   string
	Attempts   []Attempt
	RecordedAt time.Time
}

// DeadLetterStore is an in-memory, append-only record of dead-lettered
// tasks. The orchestrator keeps one store across executions so permanent
// failures remain inspectable after individual runs finish.
type DeadLetterStore struct {
	mu      sync.Mutex
	records []DeadLetter
}

// NewDeadLetterStore creates an empty store.
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{}
}

// Record appends a dead letter.
func (s *DeadLetterStore) Record(dl DeadLetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dl.RecordedAt.IsZero() {
		dl.RecordedAt = time.Now()
	}
	s.records = append(s.records, dl)
}

// List returns a copy of all recorded dead letters in record order.
func (s *DeadLetterStore) List() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.records...)
}
