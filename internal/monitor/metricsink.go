package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vk/taskgridgo/internal/task"
)

var meter = otel.Meter("taskgridgo.monitor")

// MetricSink exports transition counts and in-flight gauges through the
// globally configured OpenTelemetry meter provider. With no provider
// configured the instruments are no-ops, so wiring the sink is always safe.
type MetricSink struct {
	logger *slog.Logger

	// Instruments are created lazily so construction never fails.
	initOnce    sync.Once
	transitions metric.Int64Counter
	running     metric.Int64UpDownCounter
	retries     metric.Int64Counter
}

// NewMetricSink creates a MetricSink. A nil logger falls back to slog.Default().
func NewMetricSink(logger *slog.Logger) *MetricSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricSink{logger: logger}
}

// initMetrics creates the instruments once. Creation errors degrade to
// logging; the sink keeps working with whatever instruments it got.
func (s *MetricSink) initMetrics() {
	s.initOnce.Do(func() {
		var errs []string

		var err error
		s.transitions, err = meter.Int64Counter("task_transitions_total",
			metric.WithDescription("Task state transitions by target state"),
		)
		if err != nil {
			errs = append(errs, "transitions: "+err.Error())
		}

		s.running, err = meter.Int64UpDownCounter("tasks_running",
			metric.WithDescription("Number of currently executing tasks"),
		)
		if err != nil {
			errs = append(errs, "running: "+err.Error())
		}

		s.retries, err = meter.Int64Counter("task_retries_total",
			metric.WithDescription("Retry dispatches, counted when a failed task re-enters the ready state"),
		)
		if err != nil {
			errs = append(errs, "retries: "+err.Error())
		}

		if len(errs) > 0 {
			s.logger.Warn("Some metric instruments failed to initialize.",
				"errors", strings.Join(errs, "; "))
		}
	})
}

func (s *MetricSink) Publish(ev task.Event) {
	s.initMetrics()
	ctx := context.Background()

	if s.transitions != nil {
		s.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state", ev.To.String()),
		))
	}
	if s.running != nil {
		if ev.To == task.Running {
			s.running.Add(ctx, 1)
		}
		if ev.From == task.Running && ev.To.Terminal() {
			s.running.Add(ctx, -1)
		}
	}
	if s.retries != nil && ev.From == task.Failed && ev.To == task.Ready {
		s.retries.Add(ctx, 1)
	}
}
