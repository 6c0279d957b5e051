package resource

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vk/taskgridgo/internal/task"
)

// ExhaustionError reports a denied reservation. It names the first
// dimension that did not fit. A denial is not a task failure: the task
// stays pending and is retried when capacity frees up.
type ExhaustionError struct {
	Dimension string
	Requested float64
	Free      float64
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("insufficient %s: requested %.2f, free %.2f", e.Dimension, e.Requested, e.Free)
}

// Reservation is a granted, owned claim on capacity for the duration of one
// task's execution. It is released exactly once, by the owner or by the
// expiry reaper, never both.
type Reservation struct {
	id      uint64
	TaskID  string
	Vector  task.Requirements
	granted time.Time

	mu       sync.Mutex
	released bool
	timer    *time.Timer
}

// Manager tracks capacity and active reservations. All methods are safe for
// concurrent use; in practice every call except the expiry reaper arrives
// from the scheduler's serialized decision path.
type Manager struct {
	logger *slog.Logger

	mu       sync.Mutex
	capacity task.Requirements
	used     task.Requirements
	active   map[uint64]*Reservation
	nextID   uint64

	ttl       time.Duration
	onRelease func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithReservationTTL sets the expiry applied to every reservation. Zero
// disables the reaper.
func WithReservationTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithReleaseCallback registers a function invoked after any release,
// including forced ones. The scheduler uses it to wake the dispatch loop.
func WithReleaseCallback(fn func()) Option {
	return func(m *Manager) { m.onRelease = fn }
}

// NewManager creates a Manager with the given total capacity.
func NewManager(capacity task.Requirements, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:   logger,
		capacity: capacity,
		used:     task.Requirements{Custom: map[string]float64{}},
		active:   make(map[uint64]*Reservation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot is a point-in-time view of the manager's accounting.
type Snapshot struct {
	Capacity task.Requirements
	Used     task.Requirements
	Active   int
}

// Available returns a snapshot of current capacity and usage.
func (m *Manager) Available() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := m.used
	used.Custom = make(map[string]float64, len(m.used.Custom))
	for k, v := range m.used.Custom {
		used.Custom[k] = v
	}
	return Snapshot{Capacity: m.capacity, Used: used, Active: len(m.active)}
}

// CanEverFit reports whether the vector would fit on an idle pool. A task
// that fails this check can never run, no matter how long it waits.
func (m *Manager) CanEverFit(req task.Requirements) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.CPU > m.capacity.CPU || req.MemoryMB > m.capacity.MemoryMB || req.IOMbps > m.capacity.IOMbps {
		return false
	}
	for k, v := range req.Custom {
		if v > m.capacity.Custom[k] {
			return false
		}
	}
	return true
}

// Reserve grants the requirement vector atomically, or returns an
// *ExhaustionError naming the first dimension that does not fit. Partial
// grants never happen.
func (m *Manager) Reserve(taskID string, req task.Requirements) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fits(req); err != nil {
		return nil, err
	}

	m.used.CPU += req.CPU
	m.used.MemoryMB += req.MemoryMB
	m.used.IOMbps += req.IOMbps
	for k, v := range req.Custom {
		m.used.Custom[k] += v
	}

	m.nextID++
	r := &Reservation{
		id:      m.nextID,
		TaskID:  taskID,
		Vector:  req,
		granted: time.Now(),
	}
	m.active[r.id] = r

	if m.ttl > 0 {
		r.timer = time.AfterFunc(m.ttl, func() { m.expire(r) })
	}
	return r, nil
}

// Release returns a reservation's capacity to the pool. Releasing an
// already-released reservation is a no-op, which keeps the
// completion/expiry race one-shot.
func (m *Manager) Release(r *Reservation) {
	m.release(r, false)
}

// expire is the reaper path for a reservation that outlived its TTL.
func (m *Manager) expire(r *Reservation) {
	m.logger.Warn("Reservation expired before release, force-releasing leaked capacity.",
		"task_id", r.TaskID,
		"held_for", time.Since(r.granted),
	)
	m.release(r, true)
}

func (m *Manager) release(r *Reservation, forced bool) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	if r.timer != nil && !forced {
		r.timer.Stop()
	}
	r.mu.Unlock()

	m.mu.Lock()
	m.used.CPU -= r.Vector.CPU
	m.used.MemoryMB -= r.Vector.MemoryMB
	m.used.IOMbps -= r.Vector.IOMbps
	for k, v := range r.Vector.Custom {
		m.used.Custom[k] -= v
	}
	delete(m.active, r.id)
	m.mu.Unlock()

	if m.onRelease != nil {
		m.onRelease()
	}
}

// fits checks every dimension against remaining capacity. Caller holds m.mu.
func (m *Manager) fits(req task.Requirements) error {
	if req.CPU > m.capacity.CPU-m.used.CPU {
		return &ExhaustionError{Dimension: "cpu", Requested: req.CPU, Free: m.capacity.CPU - m.used.CPU}
	}
	if req.MemoryMB > m.capacity.MemoryMB-m.used.MemoryMB {
		return &ExhaustionError{Dimension: "memory_mb", Requested: req.MemoryMB, Free: m.capacity.MemoryMB - m.used.MemoryMB}
	}
	if req.IOMbps > m.capacity.IOMbps-m.used.IOMbps {
		return &ExhaustionError{Dimension: "io_mbps", Requested: req.IOMbps, Free: m.capacity.IOMbps - m.used.IOMbps}
	}
	for k, v := range req.Custom {
		free := m.capacity.Custom[k] - m.used.Custom[k]
		if v > free {
			return &ExhaustionError{Dimension: k, Requested: v, Free: free}
		}
	}
	return nil
}
