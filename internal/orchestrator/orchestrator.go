package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/dag"
	"github.com/vk/taskgridgo/internal/executor"
	"github.com/vk/taskgridgo/internal/failure"
	"github.com/vk/taskgridgo/internal/monitor"
	"github.com/vk/taskgridgo/internal/resource"
	"github.com/vk/taskgridgo/internal/scheduler"
	"github.com/vk/taskgridgo/internal/task"
)

// Config carries the execution defaults applied to every run.
type Config struct {
	// Mode is the failure propagation mode.
	Mode scheduler.PropagationMode
	// Capacity is the resource vector available to each execution.
	Capacity task.Requirements
	// ReservationTTL force-releases leaked reservations. Zero disables it.
	ReservationTTL time.Duration
	// OverrunFactor re-prioritizes dispatch when a task overruns its
	// estimate by this factor. Zero disables re-estimation.
	OverrunFactor float64
	// BreakerThreshold opens a circuit after this many consecutive
	// failures of one (task type, backend) pair. Zero disables breakers.
	BreakerThreshold int
	// BreakerCooldown is how long an open circuit rejects dispatches
	// before allowing a half-open trial.
	BreakerCooldown time.Duration
	// BreakerProbe is how long a parked task waits between breaker checks.
	BreakerProbe time.Duration
	// PredictorAlpha is the smoothing factor of the usage predictor.
	// Zero falls back to the predictor default.
	PredictorAlpha float64
}

// Orchestrator validates submissions and runs them. Safe for concurrent use.
type Orchestrator struct {
	engine    *executor.Engine
	policy    *failure.Handler
	predictor resource.UsagePredictor
	cfg       Config

	mu         sync.Mutex
	executions map[string]*Execution
}

// New creates an Orchestrator on top of a configured execution engine.
func New(engine *executor.Engine, cfg Config) *Orchestrator {
	return &Orchestrator{
		engine:     engine,
		policy:     failure.NewHandler(cfg.BreakerThreshold, cfg.BreakerCooldown),
		predictor:  resource.NewEMAPredictor(cfg.PredictorAlpha),
		cfg:        cfg,
		executions: make(map[string]*Execution),
	}
}

// Submission is a validated plan, ready to start any number of times.
type Submission struct {
	// PlanID identifies the validated plan in logs and lookups.
	PlanID string
	// Plan is the compiled dependency graph.
	Plan *dag.Plan
}

// Submit validates the nodes and compiles them into a reusable plan.
// Validation failures return *dag.ValidationError or *dag.CycleError.
func (o *Orchestrator) Submit(ctx context.Context, nodes []*task.Node) (*Submission, error) {
	planID := uuid.NewString()
	ctx = ctxlog.With(ctx, "plan_id", planID)

	plan, err := dag.Build(ctx, nodes)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("Plan accepted.",
		"tasks", plan.Len(),
		"critical_path", plan.CriticalPath(),
		"critical_path_length", plan.CriticalPathLength(),
	)
	return &Submission{PlanID: planID, Plan: plan}, nil
}

// Execution is one in-flight or finished run of a plan.
type Execution struct {
	// ID identifies this run; it tags every emitted event.
	ID string
	// PlanID is the plan this run was started from.
	PlanID string

	monitor *monitor.Monitor
	sched   *scheduler.Scheduler

	done    chan struct{}
	summary *scheduler.Summary
	err     error
}

// Start begins executing a submitted plan and returns immediately. The
// extra sinks receive the transition stream alongside the monitor's own
// bookkeeping.
func (o *Orchestrator) Start(ctx context.Context, sub *Submission, sinks ...monitor.Sink) (*Execution, error) {
	if sub == nil || sub.Plan == nil {
		return nil, fmt.Errorf("cannot start a nil submission")
	}
	execID := uuid.NewString()
	ctx = ctxlog.With(ctx, "plan_id", sub.PlanID, "execution_id", execID)

	mon := monitor.New(sub.Plan, sinks...)
	sched := scheduler.New(sub.Plan, scheduler.Config{
		Mode:           o.cfg.Mode,
		Capacity:       o.cfg.Capacity,
		ReservationTTL: o.cfg.ReservationTTL,
		OverrunFactor:  o.cfg.OverrunFactor,
		BreakerProbe:   o.cfg.BreakerProbe,
	}, scheduler.Deps{
		Dispatcher:    o.engine,
		Policy:        o.policy,
		Sink:          mon,
		Predictor:     o.predictor,
		CorrelationID: execID,
	})

	e := &Execution{
		ID:      execID,
		PlanID:  sub.PlanID,
		monitor: mon,
		sched:   sched,
		done:    make(chan struct{}),
	}
	o.mu.Lock()
	o.executions[execID] = e
	o.mu.Unlock()

	go func() {
		e.summary, e.err = sched.Run(ctx)
		close(e.done)
	}()
	return e, nil
}

// Run is the submit-start-wait convenience for callers that want exactly
// one synchronous execution.
func (o *Orchestrator) Run(ctx context.Context, nodes []*task.Node, sinks ...monitor.Sink) (*scheduler.Summary, error) {
	sub, err := o.Submit(ctx, nodes)
	if err != nil {
		return nil, err
	}
	e, err := o.Start(ctx, sub, sinks...)
	if err != nil {
		return nil, err
	}
	return e.Wait(ctx)
}

// Execution looks up a run by id.
func (o *Orchestrator) Execution(id string) (*Execution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.executions[id]
	return e, ok
}

// Cancel requests cancellation of the execution with the given id.
func (o *Orchestrator) Cancel(id string) error {
	e, ok := o.Execution(id)
	if !ok {
		return fmt.Errorf("unknown execution %q", id)
	}
	e.Cancel()
	return nil
}

// Status returns the live progress snapshot of the execution with the
// given id.
func (o *Orchestrator) Status(id string) (monitor.Snapshot, error) {
	e, ok := o.Execution(id)
	if !ok {
		return monitor.Snapshot{}, fmt.Errorf("unknown execution %q", id)
	}
	return e.Status(), nil
}

// DeadLetters returns every permanently failed task recorded so far,
// across all executions.
func (o *Orchestrator) DeadLetters() []failure.DeadLetter {
	return o.policy.DeadLetters()
}

// Close shuts down the execution backends. Outstanding executions should
// be waited on first.
func (o *Orchestrator) Close() {
	o.engine.Close()
}

// Wait blocks until the execution reaches its terminal summary or the
// context expires. A context expiry does not cancel the execution; use
// Cancel for that.
func (e *Execution) Wait(ctx context.Context) (*scheduler.Summary, error) {
	select {
	case <-e.done:
		return e.summary, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests top-down cancellation. The summary still arrives through
// Wait once every in-flight task has reported back.
func (e *Execution) Cancel() {
	e.sched.Cancel()
}

// Status returns the live progress snapshot of this execution.
func (e *Execution) Status() monitor.Snapshot {
	return e.monitor.Status()
}
