// Package transport provides reliable, ordered, point-to-point message
// passing between the processes of a run. Each process owns a Mailbox with
// one FIFO queue per wire.Channel; receivers take the first queued message
// that matches a predicate, which plays the role of receiving from a given
// sender on a given tag.
//
// Two implementations are provided: Network connects in-process endpoints,
// and GRPC runs a small Deliver service per process.
package transport
