// Package resource tracks capacity and reservations for one execution.
//
// A reservation is atomic over the whole requirement vector: it is granted
// only if every dimension fits the remaining capacity, and it is owned by
// exactly one in-flight task until released. Reservations carry an expiry
// as a defensive measure against misbehaving backends; an expired
// reservation is force-released and logged as a leak.
package resource
