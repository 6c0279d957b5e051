package executor

import (
	"context"
	"runtime"

	"github.com/sourcegraph/conc/pool"

	"github.com/vk/taskgridgo/internal/task"
)

// CPUBackend runs CPU-bound handlers on a fixed-size goroutine pool sized
// to the available cores. Cancellation is best-effort: a handler that never
// checks ctx cannot be interrupted mid-computation, so Run returns on ctx
// expiry and leaves the orphaned body to finish on its own.
type CPUBackend struct {
	handlers *HandlerRegistry
	pool     *pool.Pool
}

// NewCPUBackend creates the backend. workers <= 0 uses runtime.NumCPU().
func NewCPUBackend(handlers *HandlerRegistry, workers int) *CPUBackend {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPUBackend{
		handlers: handlers,
		pool:     pool.New().WithMaxGoroutines(workers),
	}
}

// Name implements Backend.
func (b *CPUBackend) Name() string { return "cpu" }

// Run implements Backend.
func (b *CPUBackend) Run(ctx context.Context, n *task.Node) error {
	done := make(chan error, 1)
	b.pool.Go(func() {
		done <- runHandler(ctx, b.handlers, n)
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for any orphaned bodies still running on the pool. Called
// once per execution during engine shutdown.
func (b *CPUBackend) Close() {
	b.pool.Wait()
}
