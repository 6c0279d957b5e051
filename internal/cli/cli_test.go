package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PositionalGridPath(t *testing.T) {
	cfg, exit, err := Parse([]string{"grids/"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, "grids/", cfg.GridPath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestParse_FlagsOverrideDefaults(t *testing.T) {
	cfg, exit, err := Parse([]string{
		"-g", "pipeline.hcl",
		"-log-format", "text",
		"-log-level", "debug",
		"-mode", "fail_fast",
		"-cpu-workers", "8",
	}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, "pipeline.hcl", cfg.GridPath)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "fail_fast", cfg.Mode)
	assert.Equal(t, 8, cfg.CPUWorkers)
}

func TestParse_NoPathPrintsUsage(t *testing.T) {
	out := &bytes.Buffer{}
	cfg, exit, err := Parse(nil, out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParse_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"bad log format", []string{"-log-format", "xml", "grid.hcl"}},
		{"bad log level", []string{"-log-level", "verbose", "grid.hcl"}},
		{"bad mode", []string{"-mode", "explode", "grid.hcl"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse(tc.args, &bytes.Buffer{})
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
		})
	}
}
