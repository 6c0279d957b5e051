// Package dag validates a set of submitted task definitions as a directed
// acyclic graph and compiles them into an immutable execution plan.
//
// The graph is kept as an id->node arena with a derived dependents index,
// never as a pointer graph, so it can be validated and traversed without any
// cycles-in-memory concerns. Build rejects malformed submissions with a
// *ValidationError and cyclic ones with a *CycleError that names the exact
// offending cycle, which is what callers need to decompose it.
package dag
