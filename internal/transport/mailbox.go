package transport

import (
	"context"
	"sync"

	"dsm/internal/wire"
)

// Mailbox holds the messages delivered to one process, one FIFO queue per
// channel. Queues are unbounded so a sender never blocks on a slow receiver.
type Mailbox struct {
	mu     sync.Mutex
	queues map[wire.Channel][]wire.Message
	// arrived is closed and replaced on every Put to wake waiting receivers.
	arrived chan struct{}
	closed  bool
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		queues:  make(map[wire.Channel][]wire.Message),
		arrived: make(chan struct{}),
	}
}

// Put appends msg to the queue of its channel.
func (mb *Mailbox) Put(msg wire.Message) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return ErrClosed
	}
	mb.queues[msg.Channel] = append(mb.queues[msg.Channel], msg)
	close(mb.arrived)
	mb.arrived = make(chan struct{})
	return nil
}

// Take removes and returns the oldest message on ch accepted by match,
// blocking until one arrives, the context ends, or the mailbox is closed.
func (mb *Mailbox) Take(ctx context.Context, ch wire.Channel, match Match) (wire.Message, error) {
	for {
		mb.mu.Lock()
		queue := mb.queues[ch]
		for i, msg := range queue {
			if match == nil || match(msg) {
				mb.queues[ch] = append(queue[:i:i], queue[i+1:]...)
				mb.mu.Unlock()
				return msg, nil
			}
		}
		if mb.closed {
			mb.mu.Unlock()
			return wire.Message{}, ErrClosed
		}
		arrived := mb.arrived
		mb.mu.Unlock()

		select {
		case <-arrived:
		case <-ctx.Done():
			return wire.Message{}, ctx.Err()
		}
	}
}

// Pending returns the number of queued messages on ch.
func (mb *Mailbox) Pending(ch wire.Channel) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queues[ch])
}

// Close wakes every waiting receiver with ErrClosed. Messages already queued
// can still be taken.
func (mb *Mailbox) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.arrived)
}
