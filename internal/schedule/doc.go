// Package schedule drives periodic reconciliation passes.
//
// A Scheduler runs its crawlers sequentially, once per pass, on a single
// background goroutine. Between passes it waits for the next trigger
// computed by Next from the completion time of the previous pass. The wait
// is cancellable: Stop and context cancellation end it immediately.
//
// Index clears (delete, recreate and reapply mappings) happen through a
// Reset hook, either at startup (ClearOnStart) or before every ClearEvery-th
// pass.
package schedule
