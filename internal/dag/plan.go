package dag

import (
	"time"

	"github.com/vk/taskgridgo/internal/task"
)

// Plan is an owned, validated DAG together with a deterministic topological
// ordering and a precomputed critical path. A Plan is created once per
// validated submission and never mutated afterwards; concurrent readers
// need no locking.
type Plan struct {
	nodes      map[string]*task.Node
	index      map[string]int      // id -> submission position
	dependents map[string][]string // dependency -> dependents, submission-ordered
	order      []string            // topological, ties by submission order

	longest      map[string]time.Duration // finish time of the longest chain ending at id
	parent       map[string]string        // predecessor on that chain, "" at a root
	criticalPath []string
	total        time.Duration
}

// Node returns the immutable definition of the given task, or nil.
func (p *Plan) Node(id string) *task.Node { return p.nodes[id] }

// Len returns the number of tasks in the plan.
func (p *Plan) Len() int { return len(p.nodes) }

// Order returns the topological ordering. Callers must not modify it.
func (p *Plan) Order() []string { return p.order }

// Dependents returns the submission-ordered ids depending on id directly.
func (p *Plan) Dependents(id string) []string { return p.dependents[id] }

// SubmissionIndex returns the position of id in the original submission,
// used as the deterministic tie-breaker for dispatch ordering.
func (p *Plan) SubmissionIndex(id string) int { return p.index[id] }

// CriticalPathLength returns the duration-weighted length of the longest
// dependency chain, a lower bound on total execution time.
func (p *Plan) CriticalPathLength() time.Duration { return p.total }

// CriticalPath returns the ids of the longest chain, dependency-first.
func (p *Plan) CriticalPath() []string { return p.criticalPath }

// computeCriticalPath walks the topological order accumulating, for every
// node, the length of the longest chain that ends at it:
//
//	longest(n) = duration(n) + max(longest(dep) for dep in deps, default 0)
//
// The overall critical path is the maximum over all nodes, reconstructed
// through parent pointers.
func (p *Plan) computeCriticalPath() {
	p.longest = make(map[string]time.Duration, len(p.nodes))
	p.parent = make(map[string]string, len(p.nodes))

	var endID string
	for _, id := range p.order {
		n := p.nodes[id]
		var best time.Duration
		bestParent := ""
		for _, dep := range n.DependsOn {
			if l := p.longest[dep]; l > best || (l == best && bestParent == "") {
				best = l
				bestParent = dep
			}
		}
		p.longest[id] = best + n.EstimatedDuration
		p.parent[id] = bestParent
		if p.longest[id] > p.total {
			p.total = p.longest[id]
			endID = id
		}
	}

	if endID == "" {
		return
	}
	var path []string
	for id := endID; id != ""; id = p.parent[id] {
		path = append([]string{id}, path...)
	}
	p.criticalPath = path
}

// RemainingPaths computes, for every task, the duration-weighted length of
// the longest chain that starts at it, using the provided per-task duration
// function. The scheduler calls this with the declared estimates first and
// again with observed durations when a task overruns its estimate, so that
// dispatch priority tracks reality. Passing nil uses the declared estimates.
func (p *Plan) RemainingPaths(duration func(id string) time.Duration) map[string]time.Duration {
	if duration == nil {
		duration = func(id string) time.Duration { return p.nodes[id].EstimatedDuration }
	}
	remaining := make(map[string]time.Duration, len(p.nodes))
	// Walk the topological order backwards so every dependent is resolved
	// before the tasks it depends on.
	for i := len(p.order) - 1; i >= 0; i-- {
		id := p.order[i]
		var best time.Duration
		for _, dep := range p.dependents[id] {
			if remaining[dep] > best {
				best = remaining[dep]
			}
		}
		remaining[id] = best + duration(id)
	}
	return remaining
}
