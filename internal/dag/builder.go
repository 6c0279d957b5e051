package dag

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/task"
)

// Build validates the submitted nodes and compiles them into a Plan. It
// returns a *ValidationError for malformed submissions and a *CycleError
// when the dependency relation is not acyclic; in both cases no partial
// plan is ever produced. A submission with zero nodes is valid.
func Build(ctx context.Context, nodes []*task.Node) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Building execution plan.", "node_count", len(nodes))

	p := &Plan{
		nodes:      make(map[string]*task.Node, len(nodes)),
		index:      make(map[string]int, len(nodes)),
		dependents: make(map[string][]string),
	}

	// First pass: register every node and reject duplicate or empty ids.
	for i, n := range nodes {
		if n.ID == "" {
			return nil, &ValidationError{TaskID: n.Name, Reason: "empty task id"}
		}
		if _, exists := p.nodes[n.ID]; exists {
			return nil, &ValidationError{TaskID: n.ID, Reason: "duplicate task id"}
		}
		p.nodes[n.ID] = n
		p.index[n.ID] = i
	}

	// Second pass: resolve dependency references and derive the dependents
	// index. Duplicate entries in a DependsOn list are rejected rather than
	// silently deduplicated.
	for _, n := range nodes {
		seen := make(map[string]bool, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return nil, &ValidationError{TaskID: n.ID, Reason: "task depends on itself"}
			}
			if seen[dep] {
				return nil, &ValidationError{TaskID: n.ID, Reason: fmt.Sprintf("duplicate dependency %q", dep)}
			}
			seen[dep] = true
			if _, ok := p.nodes[dep]; !ok {
				return nil, &ValidationError{TaskID: n.ID, Reason: fmt.Sprintf("unknown dependency %q", dep)}
			}
			p.dependents[dep] = append(p.dependents[dep], n.ID)
		}
	}
	for id := range p.dependents {
		p.sortBySubmission(p.dependents[id])
	}

	if cycle := p.findCycle(); cycle != nil {
		logger.Debug("Cycle detected during plan build.", "cycle", cycle)
		return nil, &CycleError{Cycle: cycle}
	}

	p.computeOrder()
	p.computeCriticalPath()

	logger.Debug("Execution plan built.",
		"node_count", len(p.nodes),
		"critical_path", p.criticalPath,
		"critical_path_length", p.total,
	)
	return p, nil
}

// sortBySubmission orders ids in place by their submission position, which
// is what makes every derived ordering deterministic.
func (p *Plan) sortBySubmission(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return p.index[ids[i]] < p.index[ids[j]]
	})
}

// findCycle runs a three-color depth-first search over the dependency
// edges. White nodes are unvisited, gray nodes are on the current path and
// black nodes are fully explored. Hitting a gray node means the current
// path contains a back-edge; the cycle is the path slice from that node.
func (p *Plan) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.nodes))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)

		deps := append([]string(nil), p.nodes[id].DependsOn...)
		p.sortBySubmission(deps)
		for _, dep := range deps {
			switch color[dep] {
			case gray:
				// Back-edge: the cycle is everything on the path from the
				// first occurrence of dep.
				for i, onPath := range path {
					if onPath == dep {
						return append([]string(nil), path[i:]...)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	roots := p.idsBySubmission()
	for _, id := range roots {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// computeOrder produces a topological ordering of the acyclic graph using
// Kahn's algorithm, breaking ties by submission order so the result is
// stable across runs.
func (p *Plan) computeOrder() {
	inDegree := make(map[string]int, len(p.nodes))
	for id, n := range p.nodes {
		inDegree[id] = len(n.DependsOn)
	}

	var ready []string
	for _, id := range p.idsBySubmission() {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(p.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var unlocked []string
		for _, dep := range p.dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		ready = append(ready, unlocked...)
		p.sortBySubmission(ready)
	}
	p.order = order
}

// idsBySubmission returns all task ids in the order they were submitted.
func (p *Plan) idsBySubmission() []string {
	ids := make([]string, 0, len(p.nodes))
	for id := range p.nodes {
		ids = append(ids, id)
	}
	p.sortBySubmission(ids)
	return ids
}
