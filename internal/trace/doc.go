// Package trace records the coordinator's protocol decisions. Every handled
// request becomes one Event; the SQLite recorder batches events and writes
// them in a single transaction per flush.
package trace
