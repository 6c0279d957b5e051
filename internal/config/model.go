package config

import (
	"fmt"
	"time"

	"github.com/vk/taskgridgo/internal/task"
)

// Model is the unified, format-agnostic representation of one grid: the
// engine settings plus every task block found across the loaded files.
type Model struct {
	Settings *Settings
	Tasks    []*TaskConfig
}

// Settings carries the engine-wide tuning knobs.
type Settings struct {
	// Mode is the failure propagation mode: "isolate_branch" or "fail_fast".
	Mode string
	// Capacity is the total resource vector of one execution.
	Capacity task.Requirements
	// ReservationTTL force-releases leaked reservations. Zero disables it.
	ReservationTTL time.Duration
	// OverrunFactor re-prioritizes dispatch on estimate overruns.
	OverrunFactor float64
	// Breaker configures the per-(type, backend) circuit breakers.
	Breaker BreakerSettings
	// Stream, when set, pushes the live transition feed to a socket.io server.
	Stream *StreamSettings
	// CooperativeLimit caps concurrently admitted cooperative tasks.
	CooperativeLimit int
	// CPUWorkers sizes the fixed pool of the cpu backend.
	CPUWorkers int
}

// BreakerSettings configures circuit breaking.
type BreakerSettings struct {
	Threshold int
	Cooldown  time.Duration
	Probe     time.Duration
}

// StreamSettings configures the socket.io event sink.
type StreamSettings struct {
	URL                string
	Namespace          string
	EmitEvent          string
	InsecureSkipVerify bool
}

// TaskConfig is the format-agnostic representation of one `task` block.
// Durations stay as strings here; parsing happens in Node so a malformed
// value is reported with the task id attached.
type TaskConfig struct {
	ID                string
	Name              string
	Type              string
	Capability        string
	DependsOn         []string
	Requirements      task.Requirements
	EstimatedDuration string
	Timeout           string
	Retry             *RetryConfig
	Command           []string
	Metadata          map[string]string
}

// RetryConfig is the format-agnostic representation of a `retry` block.
type RetryConfig struct {
	MaxAttempts    int
	Backoff        string
	BaseDelay      string
	RetryableKinds []string
}

// Node converts the task block into the engine's task definition.
func (t *TaskConfig) Node() (*task.Node, error) {
	n := &task.Node{
		ID:           t.ID,
		Name:         t.Name,
		Type:         t.Type,
		Capability:   t.Capability,
		DependsOn:    t.DependsOn,
		Requirements: t.Requirements,
		Command:      t.Command,
		Metadata:     t.Metadata,
	}
	if n.Name == "" {
		n.Name = t.ID
	}

	var err error
	if n.EstimatedDuration, err = parseDuration(t.EstimatedDuration); err != nil {
		return nil, fmt.Errorf("task %q: invalid estimated_duration: %w", t.ID, err)
	}
	if n.Timeout, err = parseDuration(t.Timeout); err != nil {
		return nil, fmt.Errorf("task %q: invalid timeout: %w", t.ID, err)
	}

	if t.Retry != nil {
		n.Retry = task.RetryPolicy{
			MaxAttempts:    t.Retry.MaxAttempts,
			RetryableKinds: t.Retry.RetryableKinds,
		}
		switch kind := task.BackoffKind(t.Retry.Backoff); kind {
		case task.BackoffFixed, task.BackoffExponential, task.BackoffExponentialJitter:
			n.Retry.Backoff = kind
		case "":
			n.Retry.Backoff = task.BackoffFixed
		default:
			return nil, fmt.Errorf("task %q: unknown backoff curve %q", t.ID, t.Retry.Backoff)
		}
		if n.Retry.BaseDelay, err = parseDuration(t.Retry.BaseDelay); err != nil {
			return nil, fmt.Errorf("task %q: invalid retry base_delay: %w", t.ID, err)
		}
	}
	return n, nil
}

// Nodes converts every task block, failing on the first malformed one.
func (m *Model) Nodes() ([]*task.Node, error) {
	nodes := make([]*task.Node, 0, len(m.Tasks))
	for _, t := range m.Tasks {
		n, err := t.Node()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
