package failure

import (
	"context"
	"errors"
	"time"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/task"
)

// Class is the coarse classification of a task failure.
type Class int

const (
	// Transient failures may succeed on a later attempt.
	Transient Class = iota
	// Permanent failures will not be retried.
	Permanent
)

// Action is the handler's verdict on a failed attempt.
type Action int

const (
	// ActionRetry re-queues the task after Decision.After.
	ActionRetry Action = iota
	// ActionFail marks the task permanently failed: its attempts are exhausted.
	ActionFail
	// ActionBlock marks the task permanently failed without consuming the
	// remaining attempts, because the error itself is permanent.
	ActionBlock
)

// Decision is returned by NextAction.
type Decision struct {
	Action Action
	// After is the retry delay; meaningful only for ActionRetry.
	After time.Duration
}

// Kind buckets an error for matching against RetryPolicy.RetryableKinds.
func Kind(err error) string {
	switch {
	case errors.Is(err, task.ErrTimeout):
		return "timeout"
	case errors.Is(err, task.ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, task.ErrPanic):
		return "panic"
	default:
		return "execution"
	}
}

// Handler evaluates retry, backoff and circuit-breaker policy. One Handler
// is shared across executions so breaker state and dead letters survive a
// single run. It holds no dispatch machinery; schedulers call it from
// their serialized decision paths.
type Handler struct {
	breaker     *Breaker
	deadLetters *DeadLetterStore
}

// NewHandler creates a Handler with the given breaker configuration.
func NewHandler(breakerThreshold int, breakerCooldown time.Duration) *Handler {
	return &Handler{
		breaker:     NewBreaker(breakerThreshold, breakerCooldown),
		deadLetters: NewDeadLetterStore(),
	}
}

// Classify reports whether an error is worth retrying at all. Cancellation
// and explicitly marked errors are permanent; everything else, timeouts
// included, is transient.
func (h *Handler) Classify(err error) Class {
	if err == nil {
		return Transient
	}
	if task.IsPermanent(err) {
		return Permanent
	}
	if k := Kind(err); k == "cancelled" {
		return Permanent
	}
	return Transient
}

// NextAction decides what to do with a task whose attempt just failed.
// attempt is the number of attempts completed so far, first run included.
func (h *Handler) NextAction(ctx context.Context, n *task.Node, attempt int, err error) Decision {
	logger := ctxlog.FromContext(ctx)

	if h.Classify(err) == Permanent {
		logger.Debug("Permanent failure, not retrying.", "task_id", n.ID, "error", err)
		return Decision{Action: ActionBlock}
	}

	if attempt >= maxAttempts(n.Retry) {
		return Decision{Action: ActionFail}
	}

	if len(n.Retry.RetryableKinds) > 0 && !contains(n.Retry.RetryableKinds, Kind(err)) {
		logger.Debug("Error kind not retryable under task policy.",
			"task_id", n.ID, "kind", Kind(err))
		return Decision{Action: ActionFail}
	}

	after := Backoff(n.Retry, attempt)
	logger.Debug("Scheduling retry.", "task_id", n.ID, "attempt", attempt, "after", after)
	return Decision{Action: ActionRetry, After: after}
}

// Allow consults the circuit breaker for a (task-type, backend) pair. A
// rejection does not consume one of the task's attempts.
func (h *Handler) Allow(taskType, backend string) bool {
	return h.breaker.Allow(taskType, backend)
}

// RecordOutcome feeds a dispatch outcome into the circuit breaker.
func (h *Handler) RecordOutcome(taskType, backend string, err error) {
	if err == nil {
		h.breaker.RecordSuccess(taskType, backend)
		return
	}
	h.breaker.RecordFailure(taskType, backend)
}

// RecordExhausted dead-letters a task whose retries ran out.
func (h *Handler) RecordExhausted(n *task.Node, history []Attempt) {
	h.deadLetters.Record(DeadLetter{
		TaskID:   n.ID,
		TaskType: n.Type,
		Attempts: history,
	})
}

// DeadLetters returns the execution's dead-letter records so far.
func (h *Handler) DeadLetters() []DeadLetter {
	return h.deadLetters.List()
}

func maxAttempts(p task.RetryPolicy) int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func contains(kinds []string, kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
