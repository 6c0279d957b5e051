package dag

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/task"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return ctxlog.WithLogger(context.Background(), slog.New(slog.DiscardHandler))
}

func node(id string, d time.Duration, deps ...string) *task.Node {
	return &task.Node{ID: id, Name: id, EstimatedDuration: d, DependsOn: deps}
}

func TestBuildEmptyPlan(t *testing.T) {
	p, err := Build(testCtx(t), nil)
	require.NoError(t, err)
	assert.Zero(t, p.Len())
	assert.Empty(t, p.Order())
	assert.Zero(t, p.CriticalPathLength())
}

func TestBuildValidation(t *testing.T) {
	t.Run("unknown dependency", func(t *testing.T) {
		_, err := Build(testCtx(t), []*task.Node{node("a", 0, "ghost")})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "a", verr.TaskID)
		assert.Contains(t, verr.Reason, "ghost")
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := Build(testCtx(t), []*task.Node{node("a", 0), node("a", 0)})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Reason, "duplicate task id")
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := Build(testCtx(t), []*task.Node{{Name: "unnamed"}})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("self dependency", func(t *testing.T) {
		_, err := Build(testCtx(t), []*task.Node{node("a", 0, "a")})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Reason, "itself")
	})

	t.Run("duplicate dependency entry", func(t *testing.T) {
		_, err := Build(testCtx(t), []*task.Node{node("a", 0), node("b", 0, "a", "a")})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestBuildCycleDetection(t *testing.T) {
	t.Run("three node cycle is reported exactly", func(t *testing.T) {
		_, err := Build(testCtx(t), []*task.Node{
			node("a", 0, "c"),
			node("b", 0, "a"),
			node("c", 0, "b"),
		})
		var cerr *CycleError
		require.ErrorAs(t, err, &cerr)
		require.Len(t, cerr.Cycle, 3)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, cerr.Cycle)
	})

	t.Run("cycle excludes acyclic bystanders", func(t *testing.T) {
		_, err := Build(testCtx(t), []*task.Node{
			node("root", 0),
			node("x", 0, "root", "y"),
			node("y", 0, "x"),
			node("leaf", 0, "root"),
		})
		var cerr *CycleError
		require.ErrorAs(t, err, &cerr)
		assert.ElementsMatch(t, []string{"x", "y"}, cerr.Cycle)
	})

	t.Run("acyclic diamond passes", func(t *testing.T) {
		_, err := Build(testCtx(t), []*task.Node{
			node("a", 0),
			node("b", 0, "a"),
			node("c", 0, "a"),
			node("d", 0, "b", "c"),
		})
		require.NoError(t, err)
	})
}

func TestTopologicalOrderIsDeterministic(t *testing.T) {
	nodes := []*task.Node{
		node("t3", 0, "t1"),
		node("t1", 0),
		node("t2", 0, "t1"),
	}
	p, err := Build(testCtx(t), nodes)
	require.NoError(t, err)
	// t1 first, then its dependents by submission order: t3 before t2.
	assert.Equal(t, []string{"t1", "t3", "t2"}, p.Order())
}

func TestCriticalPathLinearChain(t *testing.T) {
	p, err := Build(testCtx(t), []*task.Node{
		node("a", 1*time.Second),
		node("b", 2*time.Second, "a"),
		node("c", 3*time.Second, "b"),
	})
	require.NoError(t, err)
	assert.Equal(t, 6*time.Second, p.CriticalPathLength())
	assert.Equal(t, []string{"a", "b", "c"}, p.CriticalPath())
}

func TestCriticalPathFork(t *testing.T) {
	// t2 and t3 both depend only on t1; the longest chain is t1 -> t2.
	p, err := Build(testCtx(t), []*task.Node{
		node("t1", 2*time.Second),
		node("t2", 3*time.Second, "t1"),
		node("t3", 1*time.Second, "t1"),
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, p.CriticalPathLength())
	assert.Equal(t, []string{"t1", "t2"}, p.CriticalPath())
}

func TestRemainingPaths(t *testing.T) {
	p, err := Build(testCtx(t), []*task.Node{
		node("t1", 2*time.Second),
		node("t2", 3*time.Second, "t1"),
		node("t3", 1*time.Second, "t1"),
	})
	require.NoError(t, err)

	t.Run("declared estimates", func(t *testing.T) {
		remaining := p.RemainingPaths(nil)
		assert.Equal(t, 5*time.Second, remaining["t1"])
		assert.Equal(t, 3*time.Second, remaining["t2"])
		assert.Equal(t, 1*time.Second, remaining["t3"])
	})

	t.Run("observed overrun reshuffles priorities", func(t *testing.T) {
		remaining := p.RemainingPaths(func(id string) time.Duration {
			if id == "t3" {
				return 10 * time.Second
			}
			return p.Node(id).EstimatedDuration
		})
		assert.Equal(t, 12*time.Second, remaining["t1"])
		assert.Greater(t, remaining["t3"], remaining["t2"])
	})
}

func TestPlanAccessors(t *testing.T) {
	p, err := Build(testCtx(t), []*task.Node{
		node("a", time.Second),
		node("b", time.Second, "a"),
	})
	require.NoError(t, err)
	require.NotNil(t, p.Node("a"))
	assert.Nil(t, p.Node("nope"))
	assert.Equal(t, []string{"b"}, p.Dependents("a"))
	assert.Equal(t, 0, p.SubmissionIndex("a"))
	assert.Equal(t, 1, p.SubmissionIndex("b"))
}
