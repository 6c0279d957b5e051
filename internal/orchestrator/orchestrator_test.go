package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/dag"
	"github.com/vk/taskgridgo/internal/executor"
	"github.com/vk/taskgridgo/internal/task"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return ctxlog.WithLogger(context.Background(), slog.New(slog.DiscardHandler))
}

func newOrchestrator(t *testing.T, handlers map[string]executor.Handler, cfg Config) *Orchestrator {
	t.Helper()
	registry := executor.NewHandlerRegistry()
	for name, h := range handlers {
		registry.Register(name, h)
	}
	engine := executor.NewDefaultEngine(registry, 0, 0)
	o := New(engine, cfg)
	t.Cleanup(o.Close)
	return o
}

func TestRun_EndToEnd(t *testing.T) {
	var order atomic.Int32
	var extractAt, loadAt int32
	handlers := map[string]executor.Handler{
		"extract": func(context.Context, *task.Node) error {
			extractAt = order.Add(1)
			return nil
		},
		"transform": func(context.Context, *task.Node) error {
			order.Add(1)
			return nil
		},
		"load": func(context.Context, *task.Node) error {
			loadAt = order.Add(1)
			return nil
		},
	}
	o := newOrchestrator(t, handlers, Config{})

	summary, err := o.Run(testCtx(t), []*task.Node{
		{ID: "extract", Type: "extract"},
		{ID: "transform", Type: "transform", DependsOn: []string{"extract"}},
		{ID: "load", Type: "load", DependsOn: []string{"transform"}},
	})
	require.NoError(t, err)

	assert.True(t, summary.Succeeded())
	assert.Equal(t, int32(1), extractAt)
	assert.Equal(t, int32(3), loadAt)
}

func TestSubmit_RejectsCycles(t *testing.T) {
	o := newOrchestrator(t, nil, Config{})

	_, err := o.Submit(testCtx(t), []*task.Node{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})
	var cycle *dag.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.ElementsMatch(t, []string{"a", "b"}, cycle.Cycle)
}

func TestStart_StatusAndCancel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	handlers := map[string]executor.Handler{
		"hold": func(ctx context.Context, _ *task.Node) error {
			close(started)
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	o := newOrchestrator(t, handlers, Config{})

	sub, err := o.Submit(testCtx(t), []*task.Node{
		{ID: "hold", Type: "hold", EstimatedDuration: time.Second},
		{ID: "after", Type: "hold", DependsOn: []string{"hold"}},
	})
	require.NoError(t, err)

	e, err := o.Start(testCtx(t), sub)
	require.NoError(t, err)
	<-started

	snap := e.Status()
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.Running)

	looked, ok := o.Execution(e.ID)
	require.True(t, ok)
	assert.Same(t, e, looked)

	e.Cancel()
	summary, err := e.Wait(testCtx(t))
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 2, summary.Counts[task.Cancelled])
}

func TestRun_DeadLettersAccumulate(t *testing.T) {
	handlers := map[string]executor.Handler{
		"broken": func(context.Context, *task.Node) error {
			return task.Permanent(errors.New("bad input"))
		},
	}
	o := newOrchestrator(t, handlers, Config{})

	summary, err := o.Run(testCtx(t), []*task.Node{{ID: "x", Type: "broken"}})
	require.NoError(t, err)
	assert.False(t, summary.Succeeded())

	letters := o.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, "x", letters[0].TaskID)
	require.Len(t, letters[0].Attempts, 1)
}

func TestWait_ContextExpiryDoesNotCancelExecution(t *testing.T) {
	release := make(chan struct{})
	handlers := map[string]executor.Handler{
		"hold": func(ctx context.Context, _ *task.Node) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	o := newOrchestrator(t, handlers, Config{})

	sub, err := o.Submit(testCtx(t), []*task.Node{{ID: "hold", Type: "hold"}})
	require.NoError(t, err)
	e, err := o.Start(testCtx(t), sub)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(testCtx(t), 10*time.Millisecond)
	defer cancel()
	_, err = e.Wait(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	summary, err := e.Wait(testCtx(t))
	require.NoError(t, err)
	assert.True(t, summary.Succeeded())
}
