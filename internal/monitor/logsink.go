package monitor

import (
	"log/slog"

	"github.com/vk/taskgridgo/internal/task"
)

// LogSink writes every transition to a structured logger. Terminal failure
// states log at warn, everything else at debug.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger falls back to slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ev task.Event) {
	logger := s.logger.With(
		"task_id", ev.TaskID,
		"old_state", ev.From.String(),
		"new_state", ev.To.String(),
		"attempt", ev.Attempt,
		"correlation_id", ev.CorrelationID,
	)
	switch ev.To {
	case task.Failed, task.Blocked, task.Skipped:
		logger.Warn("Task transition.")
	default:
		logger.Debug("Task transition.")
	}
}
