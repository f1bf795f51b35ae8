package node

import (
	"context"
	"fmt"

	"dsm/internal/directory"
	"dsm/internal/transport"
	"dsm/internal/wire"
)

// WaitAll blocks until every process of the run, coordinator included,
// entered the barrier.
func (n *Node) WaitAll(ctx context.Context) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	if err := n.tr.Send(ctx, directory.Coordinator, wire.Barrier()); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	reply, err := n.tr.Recv(ctx, wire.ChannelBarrier, transport.ForKey(directory.Coordinator, wire.None))
	if err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	if reply.Kind == wire.KindFault {
		return fault(reply)
	}
	return nil
}

// Notify sends a signal to rank.
func (n *Node) Notify(ctx context.Context, rank int) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	if rank < 0 || rank >= n.size {
		return fmt.Errorf("notify rank %d of %d", rank, n.size)
	}
	return n.tr.Send(ctx, rank, wire.Signal())
}

// Wait blocks until a signal from rank arrives, or from any rank when rank
// is wire.None, and returns the sender.
func (n *Node) Wait(ctx context.Context, rank int) (int, error) {
	if err := n.checkOpen(); err != nil {
		return 0, err
	}
	msg, err := n.tr.Recv(ctx, wire.ChannelSignal, transport.FromRank(rank))
	if err != nil {
		return 0, fmt.Errorf("wait for rank %d: %w", rank, err)
	}
	return msg.From, nil
}
