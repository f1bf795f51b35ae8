package transport

import (
	"context"
	"fmt"

	"dsm/internal/wire"
)

// Network connects a fixed number of in-process endpoints. It is used to run
// a whole cluster inside one binary, mostly for tests.
type Network struct {
	endpoints []*Local
}

// NewNetwork creates a network of size endpoints with ranks 0..size-1.
func NewNetwork(size int) *Network {
	n := &Network{endpoints: make([]*Local, size)}
	for rank := range n.endpoints {
		n.endpoints[rank] = &Local{rank: rank, net: n, box: NewMailbox()}
	}
	return n
}

// Endpoint returns the transport of the given rank.
func (n *Network) Endpoint(rank int) *Local {
	return n.endpoints[rank]
}

// Size returns the number of endpoints.
func (n *Network) Size() int {
	return len(n.endpoints)
}

// Local is one endpoint of a Network.
type Local struct {
	rank int
	net  *Network
	box  *Mailbox
}

// Rank returns the rank of this endpoint.
func (l *Local) Rank() int { return l.rank }

// Size returns the number of endpoints in the network.
func (l *Local) Size() int { return len(l.net.endpoints) }

// Send queues msg at the destination endpoint.
func (l *Local) Send(ctx context.Context, to int, msg wire.Message) error {
	if to < 0 || to >= len(l.net.endpoints) {
		return fmt.Errorf("send %s to rank %d: no such rank", msg.Kind, to)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.From = l.rank
	if msg.Values != nil {
		// the receiver must not alias the sender's block buffer
		msg.Values = append([]int64(nil), msg.Values...)
	}
	if err := l.net.endpoints[to].box.Put(msg); err != nil {
		return fmt.Errorf("send %s to rank %d: %w", msg.Kind, to, err)
	}
	return nil
}

// Recv takes the next matching message on ch.
func (l *Local) Recv(ctx context.Context, ch wire.Channel, match Match) (wire.Message, error) {
	return l.box.Take(ctx, ch, match)
}

// Close closes this endpoint's mailbox.
func (l *Local) Close() error {
	l.box.Close()
	return nil
}

// Pending returns the number of queued messages on ch.
func (l *Local) Pending(ch wire.Channel) int {
	return l.box.Pending(ch)
}
