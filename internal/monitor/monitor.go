package monitor

import (
	"sync"
	"time"

	"github.com/vk/taskgridgo/internal/dag"
	"github.com/vk/taskgridgo/internal/task"
)

// Sink receives every task transition the monitor observes.
type Sink interface {
	Publish(task.Event)
}

// Snapshot is a point-in-time progress view of one execution.
type Snapshot struct {
	// Total is the number of tasks in the plan.
	Total int
	// Counts holds per-state task counts, including non-terminal states.
	Counts map[task.State]int
	// Running is the number of tasks currently executing.
	Running int
	// PercentComplete is settled tasks over total, in [0, 100]. A task
	// waiting on a retry counts as unsettled.
	PercentComplete float64
	// Elapsed is the wall-clock time since the first observed transition.
	Elapsed time.Duration
	// ETA estimates the remaining wall-clock time from the longest
	// unfinished dependency chain, scaled by the observed pace so far.
	// Zero once the plan is done.
	ETA time.Duration
}

// Monitor aggregates the transition stream of one execution. It implements
// the scheduler's event sink and is safe for concurrent Status calls.
type Monitor struct {
	plan  *dag.Plan
	sinks []Sink

	mu        sync.Mutex
	started   time.Time
	states    map[string]task.State
	lastStart map[string]time.Time

	// Pace tracking: actual versus estimated duration of finished tasks.
	actualSum   time.Duration
	estimateSum time.Duration

	remaining map[string]time.Duration
}

// New creates a Monitor for one execution of the plan.
func New(plan *dag.Plan, sinks ...Sink) *Monitor {
	return &Monitor{
		plan:      plan,
		sinks:     sinks,
		states:    make(map[string]task.State, plan.Len()),
		lastStart: make(map[string]time.Time, plan.Len()),
		remaining: plan.RemainingPaths(nil),
	}
}

// Publish records one transition and fans it out to the sinks. A task that
// retries simply transitions back to Ready, which keeps the latest-state
// table honest without any retry bookkeeping here.
func (m *Monitor) Publish(ev task.Event) {
	m.mu.Lock()
	if m.started.IsZero() {
		m.started = ev.Timestamp
	}
	m.states[ev.TaskID] = ev.To

	switch ev.To {
	case task.Running:
		m.lastStart[ev.TaskID] = ev.Timestamp
	case task.Succeeded:
		if start, ok := m.lastStart[ev.TaskID]; ok {
			m.actualSum += ev.Timestamp.Sub(start)
			m.estimateSum += m.plan.Node(ev.TaskID).EstimatedDuration
		}
	}
	m.mu.Unlock()

	for _, sink := range m.sinks {
		sink.Publish(ev)
	}
}

// Status returns the current progress snapshot.
func (m *Monitor) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Total:  m.plan.Len(),
		Counts: make(map[task.State]int, len(m.states)+1),
	}
	settled := 0
	for _, state := range m.states {
		snap.Counts[state]++
		if state.Terminal() {
			settled++
		}
	}
	if untouched := snap.Total - len(m.states); untouched > 0 {
		snap.Counts[task.Pending] += untouched
	}
	snap.Running = snap.Counts[task.Running]
	if snap.Total > 0 {
		snap.PercentComplete = 100 * float64(settled) / float64(snap.Total)
	}
	if !m.started.IsZero() {
		snap.Elapsed = time.Since(m.started)
	}
	snap.ETA = m.eta()
	return snap
}

// eta scales the longest unfinished dependency chain by the pace observed
// on finished tasks. Caller holds m.mu.
func (m *Monitor) eta() time.Duration {
	var longest time.Duration
	for _, id := range m.plan.Order() {
		if state, seen := m.states[id]; seen && state.Terminal() {
			continue
		}
		if m.remaining[id] > longest {
			longest = m.remaining[id]
		}
	}
	if longest == 0 {
		return 0
	}
	// A task waiting on a retry has already burned wall-clock time its
	// estimate never accounted for; the pace ratio absorbs that drift.
	pace := 1.0
	if m.estimateSum > 0 && m.actualSum > 0 {
		pace = float64(m.actualSum) / float64(m.estimateSum)
	}
	return time.Duration(float64(longest) * pace)
}
