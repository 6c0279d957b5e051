package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/executor"
	"github.com/vk/taskgridgo/internal/task"
)

// coreHandlers returns the built-in task types available to every grid.
// Process-isolated tasks need no handler here; they carry their own argv.
func coreHandlers() *executor.HandlerRegistry {
	registry := executor.NewHandlerRegistry()

	registry.Register("noop", func(context.Context, *task.Node) error {
		return nil
	})

	// sleep holds for metadata["duration"], honoring cancellation.
	registry.Register("sleep", func(ctx context.Context, n *task.Node) error {
		d, err := time.ParseDuration(n.Metadata["duration"])
		if err != nil {
			return task.Permanent(fmt.Errorf("sleep task needs a valid metadata.duration: %w", err))
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	// print logs metadata["message"] at info level.
	registry.Register("print", func(ctx context.Context, n *task.Node) error {
		ctxlog.FromContext(ctx).Info(n.Metadata["message"], "task_id", n.ID)
		return nil
	})

	return registry
}
