// Package directory holds the coordinator's protocol state: per-block
// ownership and replica records, the advisory lock manager, the mode
// switch controller and the all-process barriers.
//
// The Directory performs no I/O. Each request goes through Handle, which
// mutates the state and returns the messages the coordinator must send.
// The caller sends them in order. A returned error is fatal for the run.
package directory
