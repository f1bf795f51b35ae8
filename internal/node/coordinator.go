package node

import (
	"context"
	"errors"
	"fmt"
	"log"

	"dsm/internal/broadcast"
	"dsm/internal/directory"
	"dsm/internal/trace"
	"dsm/internal/wire"
)

// runCoordinator serves directory, lock, mode and barrier requests until the
// shutdown sentinel arrives. Requests are handled one at a time and their
// replies sent in the order the directory produced them.
func (n *Node) runCoordinator(ctx context.Context) error {
	c := n.coord
	for {
		msg, err := n.tr.Recv(ctx, wire.ChannelRequest, nil)
		if err != nil {
			return err
		}
		if msg.IsShutdown() {
			log.Printf("[rank %d] Coordinator task stopping", n.rank)
			return nil
		}

		out, herr := c.dir.Handle(msg)
		c.record(msg, out, herr)
		if herr != nil {
			log.Printf("[rank %d] Protocol violation: kind=%s key=%d block=%d from=%d request_id=%s: %v",
				n.rank, msg.Kind, msg.Key, msg.Block, msg.From, msg.RequestID, herr)
			n.reject(ctx, msg, herr)
			return fmt.Errorf("%s from rank %d: %w", msg.Kind, msg.From, herr)
		}
		if len(out) > 0 {
			log.Printf("[rank %d] %s: key=%d block=%d from=%d replies=%d request_id=%s",
				n.rank, msg.Kind, msg.Key, msg.Block, msg.From, len(out), msg.RequestID)
		}
		if err := n.deliver(ctx, out); err != nil {
			return err
		}
	}
}

// deliver sends the directory's output. Barrier and mode releases go to
// distinct ranks and are fanned out; everything else keeps its order.
func (n *Node) deliver(ctx context.Context, out []directory.Outbound) error {
	if isRelease(out) {
		ranks := make([]int, len(out))
		for i, o := range out {
			ranks[i] = o.To
		}
		msg := out[0].Msg
		result := broadcast.All(ctx, ranks, func(ctx context.Context, rank int) error {
			return n.tr.Send(ctx, rank, msg)
		})
		return result.Err()
	}
	for _, o := range out {
		if err := n.tr.Send(ctx, o.To, o.Msg); err != nil {
			return fmt.Errorf("send %s to rank %d: %w", o.Msg.Kind, o.To, err)
		}
	}
	return nil
}

func isRelease(out []directory.Outbound) bool {
	if len(out) < 2 {
		return false
	}
	for _, o := range out {
		if o.Msg.Kind != wire.KindReleased && o.Msg.Kind != wire.KindModeChanged {
			return false
		}
	}
	return true
}

// reject answers a request the directory refused so the requester fails
// instead of blocking forever.
func (n *Node) reject(ctx context.Context, msg wire.Message, cause error) {
	ch, ok := replyChannel(msg.Kind)
	if !ok {
		return
	}
	reply := wire.Fault(msg.Key, msg.Block, directory.FaultCode(cause), msg.RequestID)
	reply.Channel = ch
	if err := n.tr.Send(ctx, msg.From, reply); err != nil {
		log.Printf("[rank %d] Failed to send fault to rank %d: %v", n.rank, msg.From, err)
	}
}

// replyChannel returns the channel a requester waits on for kind.
func replyChannel(kind wire.Kind) (wire.Channel, bool) {
	switch kind {
	case wire.KindGetInfo:
		return wire.ChannelInfo, true
	case wire.KindLock:
		return wire.ChannelLock, true
	case wire.KindChangeMode:
		return wire.ChannelMode, true
	case wire.KindCreate, wire.KindBarrier:
		return wire.ChannelBarrier, true
	default:
		return 0, false
	}
}

func (c *coordinatorState) record(msg wire.Message, out []directory.Outbound, herr error) {
	ev := trace.Event{
		RequestID: msg.RequestID,
		Kind:      msg.Kind.String(),
		From:      msg.From,
		Key:       msg.Key,
		Block:     msg.Block,
		Source:    wire.None,
		Outbound:  len(out),
	}
	for _, o := range out {
		if o.Msg.Kind == wire.KindSource {
			ev.Source = int(o.Msg.Target)
			break
		}
	}
	if mode, epoch, err := c.dir.Mode(msg.Key); err == nil {
		ev.Mode = mode.String()
		ev.Epoch = epoch
	}
	if herr != nil {
		ev.Err = herr.Error()
	}
	c.rec.Record(ev)
}

// closeCoordinator checks the closing invariants once the task stopped.
func (n *Node) closeCoordinator() error {
	c := n.coord
	err := c.dir.CheckClosed()
	if ferr := c.rec.Flush(); ferr != nil {
		err = errors.Join(err, fmt.Errorf("flush trace: %w", ferr))
	}
	return err
}
