// Package scheduler drives one execution of a validated plan.
//
// Everything that can change a task's state (completion results from the
// backends, retry timers, capacity releases, cancellation) arrives as an
// event on one queue and is processed by a single decision goroutine. That
// serialization is the design: the status table and the ready set need no
// locking, no two completions can race to mark the same dependent ready,
// and resource reserve/release cannot double-spend capacity, because only
// the decision loop touches any of it. Task bodies still run fully in
// parallel on the backends; the loop only reacts to their completions and
// does O(out-degree) work per event.
//
// Ready tasks are dispatched in order of remaining critical-path length,
// longest first, with submission order as the tie-breaker, so the longest
// dependency chain is always making progress.
package scheduler
