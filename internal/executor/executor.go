package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/task"
)

// Backend runs one attempt of a task. Implementations decide how the body
// executes (in-process, pooled, or in a child process) and how cancellation
// reaches it.
type Backend interface {
	// Name returns the capability tag the backend registers under.
	Name() string
	// Run executes one attempt and returns its error, or nil on success.
	// Run must honor ctx: when ctx is done the backend applies whatever
	// cancellation it is capable of and returns.
	Run(ctx context.Context, n *task.Node) error
}

// DefaultCapability is used when a task declares no capability tag.
const DefaultCapability = "cooperative"

// Engine dispatches tasks to backends by capability tag.
type Engine struct {
	backends map[string]Backend
}

// NewEngine creates an Engine with no backends registered. Callers register
// the backends the execution is configured for; see NewDefaultEngine for
// the standard set.
func NewEngine() *Engine {
	return &Engine{backends: make(map[string]Backend)}
}

// NewDefaultEngine creates an Engine with the three standard backends.
// cooperativeLimit bounds the cooperative admission gate; cpuWorkers sizes
// the cpu pool (0 means the number of available cores).
func NewDefaultEngine(handlers *HandlerRegistry, cooperativeLimit, cpuWorkers int) *Engine {
	e := NewEngine()
	e.Register(NewCooperativeBackend(handlers, cooperativeLimit))
	e.Register(NewCPUBackend(handlers, cpuWorkers))
	e.Register(NewProcessBackend())
	return e
}

// Register adds a backend under its capability tag. Registering the same
// tag twice is a programmer error and panics.
func (e *Engine) Register(b Backend) {
	if _, exists := e.backends[b.Name()]; exists {
		panic(fmt.Sprintf("backend with capability '%s' already registered", b.Name()))
	}
	e.backends[b.Name()] = b
}

// Backend returns the backend registered under the capability tag.
func (e *Engine) Backend(capability string) (Backend, bool) {
	b, ok := e.backends[capability]
	return b, ok
}

// Close shuts down every backend that holds long-lived workers. It blocks
// until orphaned best-effort bodies have drained.
func (e *Engine) Close() {
	for _, b := range e.backends {
		if c, ok := b.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Capability resolves the effective capability tag of a task.
func Capability(n *task.Node) string {
	if n.Capability == "" {
		return DefaultCapability
	}
	return n.Capability
}

// Dispatch runs one attempt of a task and always returns a Result; no
// error, panic or timeout crosses this boundary any other way. The task's
// declared timeout is enforced here, independent of the backend.
func (e *Engine) Dispatch(ctx context.Context, n *task.Node, attempt int) *task.Result {
	logger := ctxlog.FromContext(ctx).With("task_id", n.ID, "attempt", attempt)
	start := time.Now()

	result := func(state task.State, cause error) *task.Result {
		r := &task.Result{
			TaskID:   n.ID,
			State:    state,
			Start:    start,
			End:      time.Now(),
			Attempts: attempt,
			Cause:    cause,
		}
		if cause != nil {
			r.Err = cause.Error()
		}
		return r
	}

	capability := Capability(n)
	backend, ok := e.backends[capability]
	if !ok {
		return result(task.Failed, task.Permanent(fmt.Errorf("no backend registered for capability %q", capability)))
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if n.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	logger.Debug("Dispatching task attempt.", "capability", capability, "timeout", n.Timeout)
	err := backend.Run(runCtx, n)

	switch {
	case err == nil:
		logger.Debug("Task attempt succeeded.", "duration", time.Since(start))
		return result(task.Succeeded, nil)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		// The attempt's own timer fired, not the surrounding execution.
		logger.Warn("Task attempt timed out.", "timeout", n.Timeout)
		return result(task.Failed, fmt.Errorf("%w after %s: %v", task.ErrTimeout, n.Timeout, err))
	case ctx.Err() != nil:
		logger.Debug("Task attempt cancelled.")
		return result(task.Cancelled, fmt.Errorf("%w: %v", task.ErrCancelled, err))
	default:
		logger.Debug("Task attempt failed.", "error", err)
		return result(task.Failed, err)
	}
}

// runHandler resolves and invokes the Go handler for a task, converting a
// panic into an error so a broken handler cannot take down the engine.
func runHandler(ctx context.Context, handlers *HandlerRegistry, n *task.Node) (err error) {
	h, ok := handlers.Lookup(n.Type)
	if !ok {
		return task.Permanent(fmt.Errorf("no handler registered for task type %q", n.Type))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", task.ErrPanic, r)
		}
	}()
	return h(ctx, n)
}
