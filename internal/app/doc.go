// Package app wires the engine together for the command-line binary: it
// configures the logger, loads the grid through a config.Loader, registers
// the built-in task handlers and runs the resulting plan through the
// orchestrator. Startup configuration errors are programmer or operator
// mistakes, so NewApp panics on them; main recovers and exits cleanly.
package app
