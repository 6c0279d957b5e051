// Package hcl implements the config.Loader interface for HCL grid files.
// It discovers .hcl files recursively, decodes their `settings` and `task`
// blocks and translates them into the format-agnostic config model.
package hcl
