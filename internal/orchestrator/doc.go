// Package orchestrator is the embedding surface of the engine. It owns the
// long-lived pieces (the execution backends and the failure policy with its
// circuit breakers and dead-letter store) and mints one scheduler plus one
// monitor per execution, so concurrent executions share nothing but those
// two deliberately shared components.
package orchestrator
