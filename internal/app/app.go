package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/taskgridgo/internal/config"
	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/executor"
	"github.com/vk/taskgridgo/internal/orchestrator"
	"github.com/vk/taskgridgo/internal/scheduler"
)

// App encapsulates the application's dependencies, configuration and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	model    *config.Model
	settings *config.Settings
	orch     *orchestrator.Orchestrator
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger. A nil handlers
// registry selects the built-in task types.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader, handlers *executor.HandlerRegistry) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, appConfig.GridPath)
	if err != nil {
		// A failure to load config is a fatal startup error.
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	logger.Debug("Configuration loaded into unified model.", "tasks", len(model.Tasks))

	settings := model.Settings
	if settings == nil {
		settings = &config.Settings{}
	}
	if appConfig.Mode != "" {
		settings.Mode = appConfig.Mode
	}
	if appConfig.CPUWorkers > 0 {
		settings.CPUWorkers = appConfig.CPUWorkers
	}
	switch settings.Mode {
	case "", string(scheduler.ModeIsolateBranch), string(scheduler.ModeFailFast):
	default:
		panic(fmt.Errorf("unknown propagation mode %q", settings.Mode))
	}

	if handlers == nil {
		handlers = coreHandlers()
	}
	engine := executor.NewDefaultEngine(handlers, settings.CooperativeLimit, settings.CPUWorkers)
	orch := orchestrator.New(engine, orchestrator.Config{
		Mode:             scheduler.PropagationMode(settings.Mode),
		Capacity:         settings.Capacity,
		ReservationTTL:   settings.ReservationTTL,
		OverrunFactor:    settings.OverrunFactor,
		BreakerThreshold: settings.Breaker.Threshold,
		BreakerCooldown:  settings.Breaker.Cooldown,
		BreakerProbe:     settings.Breaker.Probe,
	})
	logger.Debug("Orchestrator configured.", "mode", settings.Mode)

	return &App{
		outW:     outW,
		logger:   logger,
		model:    model,
		settings: settings,
		orch:     orch,
	}
}

// Orchestrator returns the application's orchestrator. Primarily for testing.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}
