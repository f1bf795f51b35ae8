package node

import (
	"context"
	"fmt"
	"log"

	"dsm/internal/directory"
	"dsm/internal/transport"
	"dsm/internal/wire"
)

// runWorker serves block push requests from the coordinator until the
// shutdown sentinel arrives, then releases every cached block.
func (n *Node) runWorker(ctx context.Context) error {
	store := n.worker.store
	for {
		msg, err := n.tr.Recv(ctx, wire.ChannelHelper, transport.FromRank(directory.Coordinator))
		if err != nil {
			return err
		}
		if msg.IsShutdown() {
			released := store.ReleaseAll()
			log.Printf("[rank %d] Worker task stopping, released %d blocks", n.rank, released)
			return nil
		}
		if err := n.push(ctx, msg); err != nil {
			return err
		}
	}
}

// push streams a block to the destination named by the coordinator. An
// exclusive push drops the local copy while still holding the block lock.
func (n *Node) push(ctx context.Context, msg wire.Message) error {
	var invalidate bool
	switch msg.Kind {
	case wire.KindPushReadOnly:
	case wire.KindPushReadWrite:
		invalidate = true
	default:
		return fmt.Errorf("unexpected %s on helper channel: %w", msg.Kind, directory.ErrProtocol)
	}

	dest := int(msg.Target)
	if dest <= directory.Coordinator || dest >= n.size || dest == n.rank {
		return fmt.Errorf("%s to rank %d: %w", msg.Kind, dest, directory.ErrProtocol)
	}
	line, err := n.worker.store.Line(msg.Key)
	if err != nil {
		return fmt.Errorf("%s: %w", msg.Kind, err)
	}
	q, err := line.Quantum(msg.Block)
	if err != nil {
		return fmt.Errorf("%s: %w", msg.Kind, err)
	}

	err = q.Serve(invalidate, func(values []int64) error {
		return n.tr.Send(ctx, dest, wire.Block(msg.Key, msg.Block, values, msg.RequestID))
	})
	if err != nil {
		return fmt.Errorf("%s key %d block %d to rank %d: %w", msg.Kind, msg.Key, msg.Block, dest, err)
	}
	return nil
}
