// Package clock provides the coordinator's logical contact clock. A scalar
// tick advances every time the coordinator pairs two processes for a block
// transfer, and each process remembers the tick at which it was last
// addressed, so the least recently contacted replica can serve the next read.
package clock
