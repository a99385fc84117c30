// Package pool holds the domain model of a ConnectMyPool controller:
// channel descriptors with their cyclic mode sequences, immutable status
// snapshots, hardware action codes, and the error sentinels every other
// package classifies upstream failures onto.
//
// # Key Types
//
//   - ChannelDescriptor: one controllable channel and its ordered modes
//   - Configuration: the descriptor set, replaced wholesale on refresh
//   - Snapshot: one observation, with per-channel mode indices
//   - Action: a discrete request to the controller
//
// General channels can only be cycled one mode forward per action. Valves,
// lighting zones, heaters, solar systems and the pool/spa and heat/cool
// selections accept a target mode directly.
package pool
