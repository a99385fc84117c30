// Package reconcile drives a mode-cycle channel to a requested mode.
//
// Many channels only support "advance one mode" commands, so reaching a
// target takes the forward cyclic distance in steps, each of which must be
// confirmed by a throttled status read before the next is sent:
//
//	Idle → AwaitingCommandSlot → CommandIssued → AwaitingConfirmation
//	                ↑                                   │
//	                └──────── Retrying ←────────────────┤
//	                                                    ↓
//	                          Reached | Failed | Cancelled | TimedOut
//
// Machine is the pure state machine; Reconciler runs it against a Driver,
// one live request per channel, with newer requests superseding older ones.
package reconcile
