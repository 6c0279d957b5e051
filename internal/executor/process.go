package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/task"
)

// killDelay is how long a child process gets to exit after the kill signal
// before Run stops waiting for it.
const killDelay = 5 * time.Second

// ProcessBackend runs each task in its own worker process. A crash in the
// task cannot corrupt the orchestrator, and cancellation is reliable: the
// process is terminated.
type ProcessBackend struct{}

// NewProcessBackend creates the backend.
func NewProcessBackend() *ProcessBackend {
	return &ProcessBackend{}
}

// Name implements Backend.
func (b *ProcessBackend) Name() string { return "isolated" }

// Run implements Backend. The task's declared argv is executed; a task
// without one cannot use this backend.
func (b *ProcessBackend) Run(ctx context.Context, n *task.Node) error {
	if len(n.Command) == 0 {
		return task.Permanent(fmt.Errorf("task %q declares capability 'isolated' but no command", n.ID))
	}
	logger := ctxlog.FromContext(ctx)

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, n.Command[0], n.Command[1:]...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = killDelay

	logger.Debug("Starting worker process.", "task_id", n.ID, "command", n.Command[0])
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		// The kill was ours; ctx decides whether it reads as timeout or
		// cancellation upstream.
		logger.Debug("Worker process terminated.", "task_id", n.ID, "cause", ctx.Err())
		return ctx.Err()
	}

	detail := strings.TrimSpace(output.String())
	if detail != "" {
		return fmt.Errorf("worker process failed: %w: %s", err, truncate(detail, 512))
	}
	return fmt.Errorf("worker process failed: %w", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
