package failure

import (
	"context"
	"errors"
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

func TestClassify(t *testing.T) {
	h := NewHandler(0, 0)

	assert.Equal(t, Transient, h.Classify(errors.New("boom")))
	assert.Equal(t, Transient, h.Classify(task.ErrTimeout))
	assert.Equal(t, Permanent, h.Classify(task.Permanent(errors.New("bad input"))))
	assert.Equal(t, Permanent, h.Classify(task.ErrCancelled))
	assert.Equal(t, Permanent, h.Classify(context.Canceled))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "timeout", Kind(task.ErrTimeout))
	assert.Equal(t, "cancelled", Kind(task.ErrCancelled))
	assert.Equal(t, "panic", Kind(task.ErrPanic))
	assert.Equal(t, "execution", Kind(errors.New("anything else")))
}

func TestNextAction(t *testing.T) {
	h := NewHandler(0, 0)
	n := &task.Node{
		ID:   "t1",
		Type: "etl",
		Retry: task.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     task.BackoffFixed,
			BaseDelay:   10 * time.Millisecond,
		},
	}

	t.Run("retries while attempts remain", func(t *testing.T) {
		d := h.NextAction(testCtx(t), n, 1, errors.New("transient"))
		assert.Equal(t, ActionRetry, d.Action)
		assert.Equal(t, 10*time.Millisecond, d.After)
	})

	t.Run("fails once attempts exhausted", func(t *testing.T) {
		d := h.NextAction(testCtx(t), n, 3, errors.New("transient"))
		assert.Equal(t, ActionFail, d.Action)
	})

	t.Run("permanent error blocks immediately", func(t *testing.T) {
		d := h.NextAction(testCtx(t), n, 1, task.Permanent(errors.New("no")))
		assert.Equal(t, ActionBlock, d.Action)
	})

	t.Run("kind filter applies", func(t *testing.T) {
		filtered := *n
		filtered.Retry.RetryableKinds = []string{"timeout"}
		d := h.NextAction(testCtx(t), &filtered, 1, errors.New("execution error"))
		assert.Equal(t, ActionFail, d.Action)

		d = h.NextAction(testCtx(t), &filtered, 1, task.ErrTimeout)
		assert.Equal(t, ActionRetry, d.Action)
	})

	t.Run("zero max attempts means one attempt", func(t *testing.T) {
		single := *n
		single.Retry.MaxAttempts = 0
		d := h.NextAction(testCtx(t), &single, 1, errors.New("transient"))
		assert.Equal(t, ActionFail, d.Action)
	})
}

func TestBackoffCurves(t *testing.T) {
	t.Run("fixed", func(t *testing.T) {
		p := task.RetryPolicy{Backoff: task.BackoffFixed, BaseDelay: time.Second}
		assert.Equal(t, time.Second, Backoff(p, 1))
		assert.Equal(t, time.Second, Backoff(p, 5))
	})

	t.Run("exponential", func(t *testing.T) {
		p := task.RetryPolicy{Backoff: task.BackoffExponential, BaseDelay: time.Second}
		assert.Equal(t, time.Second, Backoff(p, 1))
		assert.Equal(t, 2*time.Second, Backoff(p, 2))
		assert.Equal(t, 4*time.Second, Backoff(p, 3))
	})

	t.Run("exponential is capped", func(t *testing.T) {
		p := task.RetryPolicy{Backoff: task.BackoffExponential, BaseDelay: time.Second}
		assert.Equal(t, maxBackoff, Backoff(p, 30))
	})

	t.Run("jitter stays within the spread", func(t *testing.T) {
		p := task.RetryPolicy{Backoff: task.BackoffExponentialJitter, BaseDelay: time.Second}
		for i := 0; i < 100; i++ {
			d := Backoff(p, 2)
			assert.GreaterOrEqual(t, d, time.Second)
			assert.LessOrEqual(t, d, 3*time.Second)
		}
	})

	t.Run("zero base delay falls back to a second", func(t *testing.T) {
		p := task.RetryPolicy{Backoff: task.BackoffFixed}
		assert.Equal(t, time.Second, Backoff(p, 1))
	})
}

func TestBreakerLifecycle(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	t.Run("closed until threshold", func(t *testing.T) {
		b.RecordFailure("etl", "cpu")
		b.RecordFailure("etl", "cpu")
		assert.True(t, b.Allow("etl", "cpu"))
		b.RecordFailure("etl", "cpu")
		assert.False(t, b.Allow("etl", "cpu"))
	})

	t.Run("pairs are independent", func(t *testing.T) {
		assert.True(t, b.Allow("etl", "cooperative"))
		assert.True(t, b.Allow("scrape", "cpu"))
	})

	t.Run("half-open grants a single trial after cool-down", func(t *testing.T) {
		now = now.Add(time.Minute)
		assert.True(t, b.Allow("etl", "cpu"))
		assert.False(t, b.Allow("etl", "cpu"), "second trial must wait for the first")
	})

	t.Run("failed trial reopens with extended cool-down", func(t *testing.T) {
		b.RecordFailure("etl", "cpu")
		assert.False(t, b.Allow("etl", "cpu"))
		// The original cool-down is no longer enough.
		now = now.Add(time.Minute)
		assert.False(t, b.Allow("etl", "cpu"))
		now = now.Add(time.Minute)
		assert.True(t, b.Allow("etl", "cpu"))
	})

	t.Run("successful trial closes the circuit", func(t *testing.T) {
		b.RecordSuccess("etl", "cpu")
		assert.True(t, b.Allow("etl", "cpu"))
		assert.True(t, b.Allow("etl", "cpu"))
	})

	t.Run("success resets the failure streak", func(t *testing.T) {
		b.RecordFailure("etl", "cpu")
		b.RecordFailure("etl", "cpu")
		b.RecordSuccess("etl", "cpu")
		b.RecordFailure("etl", "cpu")
		b.RecordFailure("etl", "cpu")
		assert.True(t, b.Allow("etl", "cpu"))
	})

	t.Run("disabled breaker always allows", func(t *testing.T) {
		off := NewBreaker(0, time.Minute)
		for i := 0; i < 10; i++ {
			off.RecordFailure("x", "y")
		}
		assert.True(t, off.Allow("x", "y"))
	})
}

func TestDeadLetterStore(t *testing.T) {
	h := NewHandler(0, 0)
	n := &task.Node{ID: "doomed", Type: "etl"}

	h.RecordExhausted(n, []Attempt{
		{Attempt: 1, Err: "boom"},
		{Attempt: 2, Err: "boom again"},
	})

	letters := h.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, "doomed", letters[0].TaskID)
	assert.Len(t, letters[0].Attempts, 2)
	assert.False(t, letters[0].RecordedAt.IsZero())
}
