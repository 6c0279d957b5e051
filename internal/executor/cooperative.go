package executor

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/vk/taskgridgo/internal/task"
)

// CooperativeBackend runs I/O-bound handlers in the dispatching goroutine
// behind a counting admission gate. Concurrency is bounded by the gate, and
// cancellation is cooperative: it is observed only at the suspension points
// the handler itself declares by checking ctx.
type CooperativeBackend struct {
	handlers *HandlerRegistry
	gate     *semaphore.Weighted
}

// NewCooperativeBackend creates the backend with the given admission limit.
// A limit below one falls back to a small default.
func NewCooperativeBackend(handlers *HandlerRegistry, limit int) *CooperativeBackend {
	if limit < 1 {
		limit = 16
	}
	return &CooperativeBackend{
		handlers: handlers,
		gate:     semaphore.NewWeighted(int64(limit)),
	}
}

// Name implements Backend.
func (b *CooperativeBackend) Name() string { return "cooperative" }

// Run implements Backend. Admission itself is a suspension point: a task
// cancelled while waiting for the gate never starts.
func (b *CooperativeBackend) Run(ctx context.Context, n *task.Node) error {
	if err := b.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.gate.Release(1)
	return runHandler(ctx, b.handlers, n)
}
