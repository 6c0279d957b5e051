package config

import "context"

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads every grid file under the given paths (files or
	// directories), merges them and returns the unified model.
	Load(ctx context.Context, paths ...string) (*Model, error)
}
