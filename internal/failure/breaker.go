package failure

import (
	"sync"
	"time"
)

// breakerState is the classic three-state circuit breaker lifecycle.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

type pairKey struct {
	taskType string
	backend  string
}

type pairBreaker struct {
	state            breakerState
	consecutiveFails int
	openedAt         time.Time
	cooldown         time.Duration
}

// Breaker tracks one circuit per (task-type, backend) pair. After the
// failure threshold is reached the pair is rejected for a cool-down window,
// then a single trial dispatch is allowed; success closes the circuit,
// failure reopens it with a doubled cool-down.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu    sync.Mutex
	pairs map[pairKey]*pairBreaker
}

// NewBreaker creates a Breaker. threshold <= 0 disables the breaker
// entirely: Allow always grants.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		pairs:     make(map[pairKey]*pairBreaker),
	}
}

// Allow reports whether a dispatch of the pair may proceed. While open it
// rejects until the cool-down elapses, then moves to half-open and grants
// exactly one trial; further calls reject until that trial is recorded.
func (b *Breaker) Allow(taskType, backend string) bool {
	if b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pb, ok := b.pairs[pairKey{taskType, backend}]
	if !ok {
		return true
	}
	switch pb.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(pb.openedAt) >= pb.cooldown {
			pb.state = breakerHalfOpen
			return true
		}
		return false
	case breakerHalfOpen:
		// Only one trial at a time.
		return false
	}
	return true
}

// RecordSuccess feeds a successful dispatch result back into the circuit.
func (b *Breaker) RecordSuccess(taskType, backend string) {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pb, ok := b.pairs[pairKey{taskType, backend}]
	if !ok {
		return
	}
	pb.state = breakerClosed
	pb.consecutiveFails = 0
	pb.cooldown = b.cooldown
}

// RecordFailure feeds a failed dispatch result back into the circuit,
// opening it at the threshold. A failed half-open trial reopens with an
// extended cool-down.
func (b *Breaker) RecordFailure(taskType, backend string) {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := pairKey{taskType, backend}
	pb, ok := b.pairs[key]
	if !ok {
		pb = &pairBreaker{cooldown: b.cooldown}
		b.pairs[key] = pb
	}

	switch pb.state {
	case breakerHalfOpen:
		pb.state = breakerOpen
		pb.openedAt = b.now()
		pb.cooldown *= 2
	default:
		pb.consecutiveFails++
		if pb.consecutiveFails >= b.threshold {
			pb.state = breakerOpen
			pb.openedAt = b.now()
		}
	}
}
