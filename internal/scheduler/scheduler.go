package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/dag"
	"github.com/vk/taskgridgo/internal/executor"
	"github.com/vk/taskgridgo/internal/failure"
	"github.com/vk/taskgridgo/internal/resource"
	"github.com/vk/taskgridgo/internal/task"
)

// PropagationMode selects what a permanent task failure does to the rest
// of the plan.
type PropagationMode string

const (
	// ModeIsolateBranch blocks only the failed task's dependent subgraph;
	// unrelated branches continue.
	ModeIsolateBranch PropagationMode = "isolate_branch"
	// ModeFailFast cancels every task that has not started yet.
	ModeFailFast PropagationMode = "fail_fast"
)

// Dispatcher runs one task attempt and always returns a terminal Result.
// *executor.Engine is the production implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *task.Node, attempt int) *task.Result
}

// Config is the externally supplied tuning surface of one execution.
type Config struct {
	// Mode is the failure propagation mode. Default isolate-branch.
	Mode PropagationMode
	// Capacity is the total resource vector available to this execution.
	Capacity task.Requirements
	// ReservationTTL force-releases reservations that outlive it. Zero
	// disables the reaper.
	ReservationTTL time.Duration
	// OverrunFactor triggers re-estimation of dispatch priorities when a
	// task's actual duration exceeds estimate*factor. Zero disables it.
	// Ordering only; no correctness depends on it.
	OverrunFactor float64
	// BreakerProbe is how long a ready task parks before re-checking an
	// open circuit breaker. Default one second.
	BreakerProbe time.Duration
}

// Deps are the collaborators of one execution, threaded through explicitly
// so independent executions share no hidden state.
type Deps struct {
	Dispatcher Dispatcher
	Policy     *failure.Handler
	// Sink receives every state transition in decision order. May be nil.
	Sink EventSink
	// Predictor is fed per-task-type usage observations. May be nil.
	Predictor resource.UsagePredictor
	// CorrelationID tags every emitted event, typically the execution id.
	CorrelationID string
}

// taskStatus is the mutable per-task record. The immutable definition
// stays in the plan; only the decision goroutine touches this.
type taskStatus struct {
	state        task.State
	attempts     int
	pendingDeps  int
	reservation  *resource.Reservation
	retryPending bool
	retryTimer   *time.Timer
	parked       bool
	settled      bool
	history      []failure.Attempt
	cancelFn     context.CancelFunc
	result       *task.Result
}

// Scheduler drives one execution of one plan. It is single-use: create,
// Run, discard. All fields below events are owned by the decision
// goroutine exclusively.
type Scheduler struct {
	plan *dag.Plan
	cfg  Config
	deps Deps

	events chan event
	done   chan struct{}

	res       *resource.Manager
	statuses  map[string]*taskStatus
	readyQ    readyHeap
	remaining map[string]time.Duration
	observed  map[string]time.Duration

	runningCount int
	unsettled    int
	cancelling   bool
	fatal        *ConflictError
}

// New creates a Scheduler for one run of the plan.
func New(plan *dag.Plan, cfg Config, deps Deps) *Scheduler {
	if cfg.Mode == "" {
		cfg.Mode = ModeIsolateBranch
	}
	if cfg.BreakerProbe <= 0 {
		cfg.BreakerProbe = time.Second
	}
	return &Scheduler{
		plan:     plan,
		cfg:      cfg,
		deps:     deps,
		events:   make(chan event, 2*plan.Len()+16),
		done:     make(chan struct{}),
		statuses: make(map[string]*taskStatus, plan.Len()),
		observed: make(map[string]time.Duration),
	}
}

// Cancel requests top-down cancellation of the execution. It returns
// immediately; the execution reaches its terminal summary only after every
// in-flight task has reported a terminal result.
func (s *Scheduler) Cancel() {
	s.post(event{cancel: true})
}

// Run executes the plan to completion and returns the terminal summary.
// The returned error is non-nil only for an internal invariant violation
// (*ConflictError), which aborts this execution; a failed or cancelled run
// is a valid Summary, not an error.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	defer close(s.done)

	s.res = resource.NewManager(s.cfg.Capacity, logger,
		resource.WithReservationTTL(s.cfg.ReservationTTL),
		resource.WithReleaseCallback(s.postWake),
	)

	s.remaining = s.plan.RemainingPaths(nil)
	s.unsettled = s.plan.Len()
	for _, id := range s.plan.Order() {
		s.statuses[id] = &taskStatus{
			state:       task.Pending,
			pendingDeps: len(s.plan.Node(id).DependsOn),
		}
	}
	for _, id := range s.plan.Order() {
		if s.statuses[id].pendingDeps == 0 {
			s.toReady(ctx, id)
		}
	}

	// Caller cancellation arrives through the same queue as everything else.
	go func() {
		select {
		case <-ctx.Done():
			s.post(event{cancel: true})
		case <-s.done:
		}
	}()

	logger.Info("Execution started.",
		"tasks", s.plan.Len(),
		"critical_path_length", s.plan.CriticalPathLength(),
		"mode", string(s.cfg.Mode),
	)

	s.dispatchReady(ctx)
	for s.unsettled > 0 || s.runningCount > 0 {
		ev := <-s.events
		s.handle(ctx, ev)
		if s.fatal != nil {
			s.abort(ctx)
			return nil, s.fatal
		}
		s.dispatchReady(ctx)
	}

	summary := s.summarize(time.Since(start))
	logger.Info("Execution finished.",
		"duration", summary.Duration,
		"succeeded", summary.Counts[task.Succeeded],
		"failed", summary.Counts[task.Failed],
		"cancelled", summary.Cancelled,
	)
	return summary, nil
}

// post enqueues an event unless the execution is already over.
func (s *Scheduler) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// postWake enqueues a capacity wake-up without ever blocking. Releases can
// fire on the decision goroutine itself, so this must not wait on the
// queue; dropping is safe because a dispatch pass follows every processed
// event anyway.
func (s *Scheduler) postWake() {
	select {
	case s.events <- event{capacityFreed: true}:
	default:
	}
}

func (s *Scheduler) handle(ctx context.Context, ev event) {
	switch {
	case ev.cancel:
		s.beginCancellation(ctx)
	case ev.result != nil:
		s.handleResult(ctx, ev.result)
	case ev.retryDue != "":
		s.handleRetryDue(ctx, ev.retryDue)
	case ev.capacityFreed:
		// Nothing to do here; the dispatch pass after every event picks
		// up the freed capacity.
	}
}

// handleResult processes one terminal attempt report from the engine.
func (s *Scheduler) handleResult(ctx context.Context, res *task.Result) {
	st, ok := s.statuses[res.TaskID]
	if !ok || st.state != task.Running {
		s.fatal = s.conflict(res.TaskID, fmt.Sprintf("completion for task in state %v", stateOf(st)))
		return
	}
	n := s.plan.Node(res.TaskID)
	capability := executor.Capability(n)

	st.cancelFn = nil
	st.result = res
	s.runningCount--
	if st.reservation != nil {
		s.res.Release(st.reservation)
		st.reservation = nil
	}
	if d := res.Duration(); d > s.observed[res.TaskID] {
		s.observed[res.TaskID] = d
	}

	switch res.State {
	case task.Succeeded:
		s.deps.Policy.RecordOutcome(n.Type, capability, nil)
		if s.deps.Predictor != nil {
			s.deps.Predictor.Observe(n.Type, n.Requirements)
		}
		s.transition(ctx, res.TaskID, task.Succeeded)
		s.settle(res.TaskID)
		s.maybeReestimate(ctx, n, res)
		s.unlockDependents(ctx, res.TaskID)

	case task.Cancelled:
		s.transition(ctx, res.TaskID, task.Cancelled)
		s.settle(res.TaskID)

	case task.Failed:
		s.deps.Policy.RecordOutcome(n.Type, capability, res.Cause)
		st.history = append(st.history, failure.Attempt{
			Attempt: res.Attempts,
			Err:     res.Err,
			At:      res.End,
		})
		s.transition(ctx, res.TaskID, task.Failed)
		if s.cancelling {
			s.settle(res.TaskID)
			return
		}
		decision := s.deps.Policy.NextAction(ctx, n, res.Attempts, res.Cause)
		switch decision.Action {
		case failure.ActionRetry:
			st.retryPending = true
			id := res.TaskID
			st.retryTimer = time.AfterFunc(decision.After, func() {
				s.post(event{retryDue: id})
			})
		default: // ActionFail, ActionBlock
			s.settle(res.TaskID)
			s.deps.Policy.RecordExhausted(n, st.history)
			if s.cfg.Mode == ModeFailFast {
				s.beginCancellation(ctx)
			} else {
				s.blockBranch(ctx, res.TaskID)
			}
		}

	default:
		s.fatal = s.conflict(res.TaskID, fmt.Sprintf("engine reported non-terminal state %v", res.State))
	}
}

// handleRetryDue moves a failed task back to ready once its backoff expired.
func (s *Scheduler) handleRetryDue(ctx context.Context, id string) {
	st, ok := s.statuses[id]
	if !ok {
		return
	}
	if st.parked && st.state == task.Ready {
		// Breaker probe: the task never left Ready, just re-enters the queue.
		st.parked = false
		heap.Push(&s.readyQ, &readyItem{
			id:         id,
			remaining:  s.remaining[id],
			submission: s.plan.SubmissionIndex(id),
		})
		return
	}
	if st.state != task.Failed || !st.retryPending {
		return
	}
	st.retryPending = false
	s.toReady(ctx, id)
}

// unlockDependents decrements dependency counters after a success and
// readies every task whose last dependency just landed.
func (s *Scheduler) unlockDependents(ctx context.Context, id string) {
	for _, dep := range s.plan.Dependents(id) {
		dst := s.statuses[dep]
		if dst.state != task.Pending {
			// Already blocked or cancelled on another path.
			continue
		}
		dst.pendingDeps--
		if dst.pendingDeps < 0 {
			s.fatal = s.conflict(dep, "dependency counter went negative")
			return
		}
		if dst.pendingDeps == 0 && !s.cancelling {
			s.toReady(ctx, dep)
		}
	}
}

// toReady transitions a task into the ready queue.
func (s *Scheduler) toReady(ctx context.Context, id string) {
	s.transition(ctx, id, task.Ready)
	heap.Push(&s.readyQ, &readyItem{
		id:         id,
		remaining:  s.remaining[id],
		submission: s.plan.SubmissionIndex(id),
	})
}

// dispatchReady pops ready tasks in priority order and dispatches as many
// as capacity and circuit breakers allow. Reservation happens here, inside
// the decision path, so no two dispatch decisions can double-count the
// same capacity.
func (s *Scheduler) dispatchReady(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for s.fatal == nil && !s.cancelling && s.readyQ.Len() > 0 {
		top := s.readyQ[0]
		st := s.statuses[top.id]
		if st.state != task.Ready || st.parked {
			heap.Pop(&s.readyQ) // stale entry
			continue
		}
		n := s.plan.Node(top.id)
		capability := executor.Capability(n)

		if !s.deps.Policy.Allow(n.Type, capability) {
			// Breaker open: park without consuming an attempt and probe
			// again after the cool-down tick.
			heap.Pop(&s.readyQ)
			st.parked = true
			id := top.id
			logger.Debug("Circuit breaker open, parking task.",
				"task_id", id, "task_type", n.Type, "backend", capability)
			time.AfterFunc(s.cfg.BreakerProbe, func() {
				s.post(event{retryDue: id})
			})
			continue
		}

		if !s.res.CanEverFit(n.Requirements) {
			// No amount of waiting frees enough capacity for this vector.
			heap.Pop(&s.readyQ)
			logger.Error("Task requirements exceed total capacity, failing permanently.",
				"task_id", top.id)
			s.transition(ctx, top.id, task.Failed)
			s.settle(top.id)
			if s.cfg.Mode == ModeFailFast {
				s.beginCancellation(ctx)
			} else {
				s.blockBranch(ctx, top.id)
			}
			continue
		}

		reservation, err := s.res.Reserve(n.ID, n.Requirements)
		if err != nil {
			// Highest-priority task does not fit right now; wait for the
			// next release rather than starving it with smaller tasks.
			logger.Debug("Reservation denied, waiting for capacity.",
				"task_id", top.id, "error", err)
			return
		}

		heap.Pop(&s.readyQ)
		st.reservation = reservation
		st.attempts++
		s.transition(ctx, top.id, task.Running)
		s.runningCount++

		dctx, cancelFn := context.WithCancel(ctx)
		st.cancelFn = cancelFn
		attempt := st.attempts
		go func(n *task.Node, attempt int) {
			s.post(event{result: s.deps.Dispatcher.Dispatch(dctx, n, attempt)})
		}(n, attempt)
	}
}

// maybeReestimate recomputes remaining-path priorities after a task overran
// its estimate by the configured factor. Ordering only.
func (s *Scheduler) maybeReestimate(ctx context.Context, n *task.Node, res *task.Result) {
	f := s.cfg.OverrunFactor
	if f <= 0 || n.EstimatedDuration <= 0 {
		return
	}
	if res.Duration() <= time.Duration(float64(n.EstimatedDuration)*f) {
		return
	}
	ctxlog.FromContext(ctx).Debug("Task overran estimate, recomputing dispatch priorities.",
		"task_id", n.ID,
		"estimated", n.EstimatedDuration,
		"actual", res.Duration(),
	)
	s.remaining = s.plan.RemainingPaths(func(id string) time.Duration {
		est := s.plan.Node(id).EstimatedDuration
		if d, ok := s.observed[id]; ok && d > est {
			return d
		}
		return est
	})
	for _, item := range s.readyQ {
		item.remaining = s.remaining[item.id]
	}
	heap.Init(&s.readyQ)
}

// blockBranch propagates a permanent failure through the dependent
// subgraph under isolate-branch mode. Direct dependents become Blocked;
// everything further downstream becomes Skipped. Unrelated branches are
// untouched.
func (s *Scheduler) blockBranch(ctx context.Context, failedID string) {
	direct := make(map[string]bool, len(s.plan.Dependents(failedID)))
	for _, dep := range s.plan.Dependents(failedID) {
		direct[dep] = true
	}

	queue := append([]string(nil), s.plan.Dependents(failedID)...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		st := s.statuses[id]
		if st.state.Terminal() {
			continue
		}
		if direct[id] {
			s.transition(ctx, id, task.Blocked)
		} else {
			s.transition(ctx, id, task.Skipped)
		}
		s.settle(id)
		queue = append(queue, s.plan.Dependents(id)...)
	}
}

// beginCancellation marks every unstarted task Cancelled immediately and
// signals the running ones. The loop keeps draining results until every
// in-flight task has reported back.
func (s *Scheduler) beginCancellation(ctx context.Context) {
	if s.cancelling {
		return
	}
	s.cancelling = true
	logger := ctxlog.FromContext(ctx)
	logger.Info("Cancelling execution.", "running", s.runningCount)

	for _, id := range s.plan.Order() {
		st := s.statuses[id]
		switch {
		case st.state == task.Pending || st.state == task.Ready:
			s.transition(ctx, id, task.Cancelled)
			s.settle(id)
		case st.state == task.Failed && st.retryPending:
			st.retryPending = false
			if st.retryTimer != nil {
				st.retryTimer.Stop()
			}
			s.transition(ctx, id, task.Cancelled)
			s.settle(id)
		case st.state == task.Running:
			if st.cancelFn != nil {
				st.cancelFn()
			}
		}
	}
}

// transition validates and applies a state change, emitting it to the sink.
// An illegal transition is an invariant violation fatal to the execution.
func (s *Scheduler) transition(ctx context.Context, id string, to task.State) {
	st := s.statuses[id]
	if !legalTransition(st.state, to) {
		s.fatal = s.conflict(id, fmt.Sprintf("illegal transition %v -> %v", st.state, to))
		return
	}
	from := st.state
	st.state = to
	if s.deps.Sink != nil {
		s.deps.Sink.Publish(task.Event{
			TaskID:        id,
			From:          from,
			To:            to,
			Timestamp:     time.Now(),
			Attempt:       st.attempts,
			CorrelationID: s.deps.CorrelationID,
		})
	}
}

// settle marks a task as never transitioning again.
func (s *Scheduler) settle(id string) {
	st := s.statuses[id]
	if st.settled {
		s.fatal = s.conflict(id, "task settled twice")
		return
	}
	st.settled = true
	s.unsettled--
}

// abort tears down after a fatal conflict: running dispatches are
// cancelled and reservations handed back. Results arriving afterwards are
// dropped by post once done closes.
func (s *Scheduler) abort(ctx context.Context) {
	ctxlog.FromContext(ctx).Error("Aborting execution on internal conflict.", "error", s.fatal.Detail)
	for _, st := range s.statuses {
		if st.cancelFn != nil {
			st.cancelFn()
		}
		if st.reservation != nil {
			s.res.Release(st.reservation)
			st.reservation = nil
		}
		if st.retryTimer != nil {
			st.retryTimer.Stop()
		}
	}
}

func (s *Scheduler) summarize(elapsed time.Duration) *Summary {
	summary := &Summary{
		Counts:    make(map[task.State]int),
		Results:   make(map[string]*task.Result),
		Duration:  elapsed,
		Cancelled: s.cancelling,
	}
	for id, st := range s.statuses {
		summary.Counts[st.state]++
		if st.result != nil {
			summary.Results[id] = st.result
		}
	}
	return summary
}

// conflict builds the fatal error with a full status dump.
func (s *Scheduler) conflict(id, detail string) *ConflictError {
	ids := make([]string, 0, len(s.statuses))
	for sid := range s.statuses {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, sid := range ids {
		st := s.statuses[sid]
		fmt.Fprintf(&b, "  %s: state=%v attempts=%d pending_deps=%d settled=%v\n",
			sid, st.state, st.attempts, st.pendingDeps, st.settled)
	}
	return &ConflictError{TaskID: id, Detail: detail, StateDump: b.String()}
}

func legalTransition(from, to task.State) bool {
	switch from {
	case task.Pending:
		return to == task.Ready || to == task.Cancelled || to == task.Blocked || to == task.Skipped
	case task.Ready:
		return to == task.Running || to == task.Cancelled || to == task.Failed
	case task.Running:
		return to == task.Succeeded || to == task.Failed || to == task.Cancelled
	case task.Failed:
		// Retry loop, or cancellation while a retry was pending.
		return to == task.Ready || to == task.Cancelled
	default:
		return false
	}
}

func stateOf(st *taskStatus) any {
	if st == nil {
		return "unknown task"
	}
	return st.state
}
