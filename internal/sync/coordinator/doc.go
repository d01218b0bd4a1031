// Package coordinator runs sync attempts for the directory.
//
// The coordinator is the only entry point to the reconciler. Manual
// requests, scheduler ticks and the startup sync all go through RequestSync,
// which uses the state tracker as a single-flight guard: a request that
// arrives while an attempt is running is dropped, never queued.
//
// # Lifecycle
//
//	coord := coordinator.New(reconciler, tracker, cfg,
//	    coordinator.WithSyncMetrics(metrics),
//	    coordinator.WithPublisher(publisher))
//
//	if cfg.Sync.IsSchedulerEnabled() {
//	    _ = coord.Start(ctx)
//	}
//	...
//	_ = coord.Stop()
//
// Start launches one timer loop and returns. Stop cancels the loop and the
// in-flight attempt, then waits for them up to the configured stop timeout.
// Cancellation is cooperative: an attempt that does not yield in time keeps
// running and still records its terminal state.
//
// # Attempt boundary
//
// Each attempt runs in its own goroutine. Errors returned by the reconciler
// and panics are turned into a Failed state, cancellation into an Idle
// state. Nothing propagates to the caller of RequestSync or to the timer
// loop. The outcome is then recorded in metrics and published as an event;
// publishing failures are only logged.
package coordinator
