package resource

import (
	"sync"

	"github.com/vk/taskgridgo/internal/task"
)

// UsagePredictor estimates the resource vector a task of a given type will
// actually consume. It is a scheduling hint only; the declared requirement
// is still what gets reserved. Implementations are pluggable so a real
// prediction model can attach here later.
type UsagePredictor interface {
	// Predict returns the expected usage for a task type, seeded by the
	// task's declared requirement when nothing has been observed yet.
	Predict(taskType string, declared task.Requirements) task.Requirements
	// Observe feeds one completed task's measured usage back into the model.
	Observe(taskType string, used task.Requirements)
}

// EMAPredictor is the default UsagePredictor: an exponential moving average
// of observed per-task-type usage.
type EMAPredictor struct {
	alpha float64

	mu     sync.Mutex
	byType map[string]task.Requirements
}

// NewEMAPredictor creates a predictor with the given smoothing factor in
// (0, 1]; higher alpha weights recent observations more.
func NewEMAPredictor(alpha float64) *EMAPredictor {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &EMAPredictor{
		alpha:  alpha,
		byType: make(map[string]task.Requirements),
	}
}

// Predict implements UsagePredictor.
func (p *EMAPredictor) Predict(taskType string, declared task.Requirements) task.Requirements {
	p.mu.Lock()
	defer p.mu.Unlock()
	if avg, ok := p.byType[taskType]; ok {
		return avg
	}
	return declared
}

// Observe implements UsagePredictor.
func (p *EMAPredictor) Observe(taskType string, used task.Requirements) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, ok := p.byType[taskType]
	if !ok {
		copied := used
		copied.Custom = copyCustom(used.Custom)
		p.byType[taskType] = copied
		return
	}

	next := task.Requirements{
		CPU:      p.blend(prev.CPU, used.CPU),
		MemoryMB: p.blend(prev.MemoryMB, used.MemoryMB),
		IOMbps:   p.blend(prev.IOMbps, used.IOMbps),
		Custom:   make(map[string]float64, len(prev.Custom)),
	}
	for k, v := range prev.Custom {
		next.Custom[k] = p.blend(v, used.Custom[k])
	}
	for k, v := range used.Custom {
		if _, seen := prev.Custom[k]; !seen {
			next.Custom[k] = p.blend(0, v)
		}
	}
	p.byType[taskType] = next
}

func (p *EMAPredictor) blend(prev, observed float64) float64 {
	return p.alpha*observed + (1-p.alpha)*prev
}

func copyCustom(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
