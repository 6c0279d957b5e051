package app

import (
	"context"
	"fmt"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/monitor"
	"github.com/vk/taskgridgo/internal/task"
)

// Run executes the loaded grid to completion.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")
	defer a.orch.Close()

	nodes, err := a.model.Nodes()
	if err != nil {
		return fmt.Errorf("invalid task definition: %w", err)
	}
	if len(nodes) == 0 {
		a.logger.Warn("No tasks found in grid, execution not required.")
		return nil
	}

	sinks := []monitor.Sink{
		monitor.NewLogSink(a.logger),
		monitor.NewMetricSink(a.logger),
	}
	if a.settings.Stream != nil {
		socketSink, err := monitor.NewSocketSink(monitor.SocketSinkConfig{
			URL:                a.settings.Stream.URL,
			Namespace:          a.settings.Stream.Namespace,
			EmitEvent:          a.settings.Stream.EmitEvent,
			InsecureSkipVerify: a.settings.Stream.InsecureSkipVerify,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to set up event stream: %w", err)
		}
		defer socketSink.Close()
		sinks = append(sinks, socketSink)
	}

	a.logger.Info("🚀 Starting concurrent execution...", "tasks", len(nodes))
	summary, err := a.orch.Run(ctx, nodes, sinks...)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	a.logger.Info("🏁 Execution finished.",
		"duration", summary.Duration,
		"succeeded", summary.Counts[task.Succeeded],
		"failed", summary.Counts[task.Failed],
		"blocked", summary.Counts[task.Blocked],
		"skipped", summary.Counts[task.Skipped],
		"cancelled", summary.Counts[task.Cancelled],
	)

	for _, letter := range a.orch.DeadLetters() {
		a.logger.Warn("Task failed permanently.",
			"task_id", letter.TaskID,
			"task_type", letter.TaskType,
			"attempts", len(letter.Attempts),
		)
	}

	if summary.Cancelled {
		return fmt.Errorf("execution was cancelled")
	}
	if !summary.Succeeded() {
		return fmt.Errorf("execution finished with %d failed, %d blocked and %d skipped tasks",
			summary.Counts[task.Failed], summary.Counts[task.Blocked], summary.Counts[task.Skipped])
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}
