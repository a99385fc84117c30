// Package coordinator ties the observation cache and the per-channel
// reconcilers together behind one upstream transport slot.
//
// Every call to the cloud, whether a poll, a confirmation read, a
// reconciliation command or a raw action, acquires the same capacity-1 slot,
// so the controller never sees two requests at once. The poll loop reads at
// the active interval while any reconciliation runs (or shortly after any
// command) and at the base interval otherwise.
//
// Consumers observe the controller through Subscribe, which delivers the
// latest StatusUpdate per channel after every read and reconciliation step.
// A StatusUpdate carries both the observed mode and the display mode; the
// latter hides intermediate modes while a cycle is in progress:
//
//	wait_for_execution  display pinned to the last confirmed mode
//	optimistic          display set to the target at acceptance,
//	                    reverted unless the request is Reached
package coordinator
