package transport

import (
	"context"
	"errors"

	"dsm/internal/wire"
)

// ErrClosed is returned by operations on a closed transport or mailbox.
var ErrClosed = errors.New("transport closed")

// Match selects a message out of a channel queue. A nil Match accepts the
// first queued message.
type Match func(wire.Message) bool

// Transport is a reliable, ordered, point-to-point message layer between a
// fixed set of processes identified by rank.
type Transport interface {
	// Rank returns the rank of the local process.
	Rank() int
	// Size returns the number of processes in the run.
	Size() int
	// Send delivers msg to process `to` on msg.Channel, stamping msg.From.
	// It returns once the message is queued at the receiver.
	Send(ctx context.Context, to int, msg wire.Message) error
	// Recv blocks until a message on ch satisfying match is available.
	Recv(ctx context.Context, ch wire.Channel, match Match) (wire.Message, error)
	// Close releases the transport. Pending Recv calls return ErrClosed.
	Close() error
}

// FromRank matches messages sent by rank, or any sender when rank is
// wire.None.
func FromRank(rank int) Match {
	return func(m wire.Message) bool {
		return rank == wire.None || m.From == rank
	}
}

// ForBlock matches messages about (key, block) sent by rank.
func ForBlock(rank, key, block int) Match {
	return func(m wire.Message) bool {
		return m.From == rank && m.Key == key && m.Block == block
	}
}

// ForKey matches messages about key sent by rank.
func ForKey(rank, key int) Match {
	return func(m wire.Message) bool {
		return m.From == rank && m.Key == key
	}
}
