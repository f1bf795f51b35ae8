package node

import (
	"context"
	"errors"
	"fmt"
	"log"

	"dsm/internal/broadcast"
	"dsm/internal/directory"
	"dsm/internal/transport"
	"dsm/internal/wire"
)

// stopperRank is the worker that stops the coordinator task.
const stopperRank = directory.Coordinator + 1

// Finalize ends the run for this process. Workers report completion to the
// coordinator; once every worker did, the coordinator acknowledges them and
// stops every Protocol Task. Finalize returns the error the local task
// stopped with, joined with any closing invariant it finds broken. The
// transport stays open.
func (n *Node) Finalize(ctx context.Context) error {
	if err := n.checkOpen(); err != nil {
		return err
	}

	var err error
	if n.coord != nil {
		err = n.finalizeCoordinator(ctx)
	} else {
		err = n.finalizeWorker(ctx)
	}
	if err != nil {
		n.cancel()
	}
	n.wg.Wait()

	n.mu.Lock()
	n.finalized = true
	taskErr := n.taskErr
	n.mu.Unlock()
	if err != nil || taskErr != nil {
		return errors.Join(err, taskErr)
	}

	if n.coord != nil {
		err = n.closeCoordinator()
	} else if resident := n.worker.store.Resident(); resident != 0 {
		err = fmt.Errorf("%d blocks still resident after shutdown", resident)
	}
	if err == nil {
		log.Printf("[rank %d] Finalized", n.rank)
	}
	return err
}

func (n *Node) finalizeWorker(ctx context.Context) error {
	if err := n.tr.Send(ctx, directory.Coordinator, wire.Done()); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if _, err := n.tr.Recv(ctx, wire.ChannelFinalize, transport.FromRank(directory.Coordinator)); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if n.rank != stopperRank {
		return nil
	}
	// the ack follows every worker's Done, hence every SetInfo
	if err := n.tr.Send(ctx, directory.Coordinator, wire.StopCoordinator()); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// finalizeCoordinator collects one Done per worker, acknowledges them and
// stops the worker tasks. The coordinator task itself is stopped by
// stopperRank once acknowledged.
func (n *Node) finalizeCoordinator(ctx context.Context) error {
	workers := broadcast.Range(directory.Coordinator+1, n.size)
	for range workers {
		msg, err := n.tr.Recv(ctx, wire.ChannelFinalize, nil)
		if err != nil {
			return fmt.Errorf("finalize: %w", err)
		}
		if msg.Kind != wire.KindDone {
			return fmt.Errorf("finalize: unexpected %s from rank %d: %w", msg.Kind, msg.From, directory.ErrProtocol)
		}
	}
	log.Printf("[rank %d] All %d workers done", n.rank, len(workers))

	acks := broadcast.All(ctx, workers, func(ctx context.Context, rank int) error {
		return n.tr.Send(ctx, rank, wire.DoneAck())
	})
	if err := acks.Err(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	stops := broadcast.All(ctx, workers, func(ctx context.Context, rank int) error {
		return n.tr.Send(ctx, rank, wire.StopWorker())
	})
	if err := stops.Err(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}
