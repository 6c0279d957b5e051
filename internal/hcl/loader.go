package hcl

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/taskgridgo/internal/config"
	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/fsutil"
	"github.com/vk/taskgridgo/internal/task"
)

// Loader implements config.Loader for HCL grid files.
type Loader struct{}

// NewLoader creates an HCL Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load discovers every .hcl file under the given paths, decodes them and
// merges them into one model. Later files never override earlier settings;
// two settings blocks are a configuration error, as are duplicate task ids
// (the graph builder rejects those during validation).
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	for _, path := range paths {
		found, err := fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("failed to find grid files in %s: %w", path, err)
		}
		files = append(files, found...)
	}
	logger.Debug("Loading grid files.", "count", len(files))
	if len(files) == 0 {
		logger.Warn("No .hcl grid files found, returning empty model.", "paths", paths)
		return &config.Model{}, nil
	}

	model := &config.Model{}
	parser := hclparse.NewParser()
	for _, file := range files {
		parsed, err := l.loadFile(file, parser)
		if err != nil {
			return nil, err
		}
		if parsed.Settings != nil {
			if model.Settings != nil {
				return nil, fmt.Errorf("duplicate settings block in %s", file)
			}
			settings, err := l.translateSettings(parsed.Settings)
			if err != nil {
				return nil, fmt.Errorf("in %s: %w", file, err)
			}
			model.Settings = settings
		}
		for _, t := range parsed.Tasks {
			translated, err := l.translateTask(t)
			if err != nil {
				return nil, fmt.Errorf("in %s: %w", file, err)
			}
			model.Tasks = append(model.Tasks, translated)
		}
	}
	return model, nil
}

func (l *Loader) loadFile(filePath string, parser *hclparse.Parser) (*hclGridFile, error) {
	hclFile, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filePath, diags)
	}
	var parsed hclGridFile
	diags = gohcl.DecodeBody(hclFile.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filePath, diags)
	}
	return &parsed, nil
}

func (l *Loader) translateSettings(s *hclSettings) (*config.Settings, error) {
	out := &config.Settings{
		Mode:             strOr(s.Mode, ""),
		OverrunFactor:    floatOr(s.OverrunFactor, 0),
		CooperativeLimit: intOr(s.CooperativeLimit, 0),
		CPUWorkers:       intOr(s.CPUWorkers, 0),
	}

	var err error
	if out.ReservationTTL, err = parseDuration(s.ReservationTTL); err != nil {
		return nil, fmt.Errorf("invalid reservation_ttl: %w", err)
	}

	if s.Capacity != nil {
		if out.Capacity, err = l.translateVector(s.Capacity.CPU, s.Capacity.MemoryMB, s.Capacity.IOMbps, s.Capacity.Custom); err != nil {
			return nil, fmt.Errorf("invalid capacity: %w", err)
		}
	}

	if s.Breaker != nil {
		out.Breaker.Threshold = intOr(s.Breaker.Threshold, 0)
		if out.Breaker.Cooldown, err = parseDuration(s.Breaker.Cooldown); err != nil {
			return nil, fmt.Errorf("invalid breaker cooldown: %w", err)
		}
		if out.Breaker.Probe, err = parseDuration(s.Breaker.Probe); err != nil {
			return nil, fmt.Errorf("invalid breaker probe: %w", err)
		}
	}

	if s.Stream != nil {
		out.Stream = &config.StreamSettings{
			URL:                s.Stream.URL,
			Namespace:          strOr(s.Stream.Namespace, ""),
			EmitEvent:          strOr(s.Stream.EmitEvent, ""),
			InsecureSkipVerify: s.Stream.InsecureSkipVerify != nil && *s.Stream.InsecureSkipVerify,
		}
	}
	return out, nil
}

func (l *Loader) translateTask(t *hclTask) (*config.TaskConfig, error) {
	out := &config.TaskConfig{
		ID:                t.ID,
		Name:              strOr(t.Name, ""),
		Type:              t.Type,
		Capability:        strOr(t.Capability, ""),
		DependsOn:         t.DependsOn,
		EstimatedDuration: strOr(t.EstimatedDuration, ""),
		Timeout:           strOr(t.Timeout, ""),
		Command:           t.Command,
	}

	var err error
	if t.Requirements != nil {
		if out.Requirements, err = l.translateVector(t.Requirements.CPU, t.Requirements.MemoryMB, t.Requirements.IOMbps, t.Requirements.Custom); err != nil {
			return nil, fmt.Errorf("task %q: invalid requirements: %w", t.ID, err)
		}
	}

	if out.Metadata, err = stringMapFromExpression(t.Metadata); err != nil {
		return nil, fmt.Errorf("task %q: invalid metadata: %w", t.ID, err)
	}

	if t.Retry != nil {
		out.Retry = &config.RetryConfig{
			MaxAttempts:    t.Retry.MaxAttempts,
			Backoff:        strOr(t.Retry.Backoff, ""),
			BaseDelay:      strOr(t.Retry.BaseDelay, ""),
			RetryableKinds: t.Retry.RetryableKinds,
		}
	}
	return out, nil
}

// translateVector assembles a requirement vector from the well-known
// dimensions plus the free-form custom map.
func (l *Loader) translateVector(cpu, memoryMB, ioMbps *float64, custom hcl.Expression) (task.Requirements, error) {
	req := task.Requirements{
		CPU:      floatOr(cpu, 0),
		MemoryMB: floatOr(memoryMB, 0),
		IOMbps:   floatOr(ioMbps, 0),
	}
	var err error
	if req.Custom, err = floatMapFromExpression(custom); err != nil {
		return task.Requirements{}, err
	}
	return req, nil
}

func parseDuration(s *string) (time.Duration, error) {
	if s == nil || *s == "" {
		return 0, nil
	}
	return time.ParseDuration(*s)
}
