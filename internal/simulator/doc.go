// Package simulator provides an in-process pool controller that answers
// the same calls as the ConnectMyPool cloud.
//
// It backs dev_mode, where poolbridge runs without a cloud account, and the
// tests of packages that need a realistic upstream. Cycle-only channels
// step through their sequence one action at a time, so reconciliation is
// exercised the same way as against real hardware.
package simulator
