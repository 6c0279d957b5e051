package resource

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgridgo/internal/task"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestReserveAndRelease(t *testing.T) {
	m := NewManager(task.Requirements{CPU: 4, MemoryMB: 1024}, discard())

	r, err := m.Reserve("t1", task.Requirements{CPU: 2, MemoryMB: 512})
	require.NoError(t, err)
	require.NotNil(t, r)

	snap := m.Available()
	assert.Equal(t, 2.0, snap.Used.CPU)
	assert.Equal(t, 512.0, snap.Used.MemoryMB)
	assert.Equal(t, 1, snap.Active)

	m.Release(r)
	snap = m.Available()
	assert.Zero(t, snap.Used.CPU)
	assert.Zero(t, snap.Active)
}

func TestReserveIsAtomic(t *testing.T) {
	// The memory dimension does not fit, so the cpu dimension must not be
	// partially claimed either.
	m := NewManager(task.Requirements{CPU: 4, MemoryMB: 100}, discard())

	_, err := m.Reserve("t1", task.Requirements{CPU: 1, MemoryMB: 200})
	var exhausted *ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "memory_mb", exhausted.Dimension)

	snap := m.Available()
	assert.Zero(t, snap.Used.CPU)
	assert.Zero(t, snap.Used.MemoryMB)
}

func TestReserveCustomDimension(t *testing.T) {
	m := NewManager(task.Requirements{
		CPU:    8,
		Custom: map[string]float64{"gpu": 2},
	}, discard())

	r, err := m.Reserve("t1", task.Requirements{Custom: map[string]float64{"gpu": 2}})
	require.NoError(t, err)

	_, err = m.Reserve("t2", task.Requirements{Custom: map[string]float64{"gpu": 1}})
	var exhausted *ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "gpu", exhausted.Dimension)

	m.Release(r)
	_, err = m.Reserve("t2", task.Requirements{Custom: map[string]float64{"gpu": 1}})
	require.NoError(t, err)
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	m := NewManager(task.Requirements{CPU: 2}, discard())
	r, err := m.Reserve("t1", task.Requirements{CPU: 2})
	require.NoError(t, err)

	m.Release(r)
	m.Release(r)

	snap := m.Available()
	assert.Zero(t, snap.Used.CPU, "double release must not drive usage negative")
}

func TestConcurrentReservationsNeverOversubscribe(t *testing.T) {
	const capacity = 8.0
	m := NewManager(task.Requirements{CPU: capacity}, discard())

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r, err := m.Reserve("t", task.Requirements{CPU: 3})
				if err != nil {
					continue
				}
				snap := m.Available()
				if snap.Used.CPU > capacity {
					t.Errorf("capacity oversubscribed: used %.1f of %.1f", snap.Used.CPU, capacity)
				}
				m.Release(r)
			}
		}()
	}
	wg.Wait()

	snap := m.Available()
	assert.Zero(t, snap.Used.CPU)
	assert.Zero(t, snap.Active)
}

func TestExpiredReservationIsForceReleased(t *testing.T) {
	released := make(chan struct{}, 1)
	m := NewManager(task.Requirements{CPU: 1}, discard(),
		WithReservationTTL(20*time.Millisecond),
		WithReleaseCallback(func() {
			select {
			case released <- struct{}{}:
			default:
			}
		}),
	)

	_, err := m.Reserve("leaky", task.Requirements{CPU: 1})
	require.NoError(t, err)

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry reaper did not force-release the reservation")
	}

	snap := m.Available()
	assert.Zero(t, snap.Used.CPU)
	assert.Zero(t, snap.Active)
}

func TestEMAPredictor(t *testing.T) {
	p := NewEMAPredictor(0.5)
	declared := task.Requirements{CPU: 2}

	t.Run("seeded by declared estimate", func(t *testing.T) {
		got := p.Predict("etl", declared)
		assert.Equal(t, 2.0, got.CPU)
	})

	t.Run("first observation replaces the seed", func(t *testing.T) {
		p.Observe("etl", task.Requirements{CPU: 4})
		got := p.Predict("etl", declared)
		assert.Equal(t, 4.0, got.CPU)
	})

	t.Run("later observations are smoothed", func(t *testing.T) {
		p.Observe("etl", task.Requirements{CPU: 2})
		got := p.Predict("etl", declared)
		assert.InDelta(t, 3.0, got.CPU, 0.001)
	})

	t.Run("types are independent", func(t *testing.T) {
		got := p.Predict("io", task.Requirements{CPU: 1})
		assert.Equal(t, 1.0, got.CPU)
	})
}
