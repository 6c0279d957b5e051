package hcl

import (
	"github.com/hashicorp/hcl/v2"
)

// hclGridFile is the top-level structure of one grid file for decoding.
type hclGridFile struct {
	Settings *hclSettings `hcl:"settings,block"`
	Tasks    []*hclTask   `hcl:"task,block"`
}

type hclSettings struct {
	Mode             *string         `hcl:"mode,optional"`
	ReservationTTL   *string         `hcl:"reservation_ttl,optional"`
	OverrunFactor    *float64        `hcl:"overrun_factor,optional"`
	CooperativeLimit *int            `hcl:"cooperative_limit,optional"`
	CPUWorkers       *int            `hcl:"cpu_workers,optional"`
	Capacity         *hclCapacity    `hcl:"capacity,block"`
	Breaker          *hclBreaker     `hcl:"breaker,block"`
	Stream           *hclStream      `hcl:"stream,block"`
}

type hclCapacity struct {
	CPU      *float64       `hcl:"cpu,optional"`
	MemoryMB *float64       `hcl:"memory_mb,optional"`
	IOMbps   *float64       `hcl:"io_mbps,optional"`
	Custom   hcl.Expression `hcl:"custom,optional"`
}

type hclBreaker struct {
	Threshold *int    `hcl:"threshold,optional"`
	Cooldown  *string `hcl:"cooldown,optional"`
	Probe     *string `hcl:"probe,optional"`
}

type hclStream struct {
	URL                string  `hcl:"url"`
	Namespace          *string `hcl:"namespace,optional"`
	EmitEvent          *string `hcl:"emit_event,optional"`
	InsecureSkipVerify *bool   `hcl:"insecure_skip_verify,optional"`
}

// hclTask is one `task "<id>"` block.
type hclTask struct {
	ID                string              `hcl:"id,label"`
	Type              string              `hcl:"type"`
	Name              *string             `hcl:"name,optional"`
	Capability        *string             `hcl:"capability,optional"`
	DependsOn         []string            `hcl:"depends_on,optional"`
	EstimatedDuration *string             `hcl:"estimated_duration,optional"`
	Timeout           *string             `hcl:"timeout,optional"`
	Command           []string            `hcl:"command,optional"`
	Requirements      *hclRequirements    `hcl:"requirements,block"`
	Retry             *hclRetry           `hcl:"retry,block"`
	Metadata          hcl.Expression      `hcl:"metadata,optional"`
}

type hclRequirements struct {
	CPU      *float64       `hcl:"cpu,optional"`
	MemoryMB *float64       `hcl:"memory_mb,optional"`
	IOMbps   *float64       `hcl:"io_mbps,optional"`
	Custom   hcl.Expression `hcl:"custom,optional"`
}

type hclRetry struct {
	MaxAttempts    int      `hcl:"max_attempts"`
	Backoff        *string  `hcl:"backoff,optional"`
	BaseDelay      *string  `hcl:"base_delay,optional"`
	RetryableKinds []string `hcl:"retryable_kinds,optional"`
}

func strOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
