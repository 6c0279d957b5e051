// Package config defines the format-agnostic configuration model for the
// engine, along with the Loader interface for reading it from various
// sources. The model is the single source of truth the app layer builds
// the orchestrator from; the concrete HCL implementation lives in the hcl
// package.
package config
