package node

import (
	"context"
	"fmt"

	"github.com/rs/xid"

	"dsm/internal/directory"
	"dsm/internal/storage"
	"dsm/internal/transport"
	"dsm/internal/wire"
)

// CreateObject collectively creates a shared array of elements. Every
// process must call it with the same count in the same order; it returns
// once all processes registered the array, with the same key everywhere.
func (n *Node) CreateObject(ctx context.Context, elements int) (int, error) {
	if err := n.checkOpen(); err != nil {
		return 0, err
	}
	if elements <= 0 {
		return 0, fmt.Errorf("array of %d elements", elements)
	}

	n.mu.Lock()
	key := len(n.arrays)
	n.mu.Unlock()

	if err := n.tr.Send(ctx, directory.Coordinator, wire.Create(key, elements)); err != nil {
		return 0, fmt.Errorf("create key %d: %w", key, err)
	}
	reply, err := n.tr.Recv(ctx, wire.ChannelBarrier, transport.ForKey(directory.Coordinator, key))
	if err != nil {
		return 0, fmt.Errorf("create key %d: %w", key, err)
	}
	if reply.Kind == wire.KindFault {
		return 0, fault(reply)
	}

	// no push for key can arrive before this worker announced a copy
	if n.worker != nil {
		if _, err := n.worker.store.Add(key, elements); err != nil {
			return 0, err
		}
	}
	n.mu.Lock()
	n.arrays = append(n.arrays, elements)
	n.mu.Unlock()
	return key, nil
}

// Get returns element index of the array key, fetching its block through
// the coordinator when the local copy is absent or stale.
func (n *Node) Get(ctx context.Context, key, index int) (int64, error) {
	line, q, off, err := n.locate(key, index)
	if err != nil {
		return 0, err
	}
	mode, epoch := line.Mode()
	if v, ok := q.Load(off, epoch, mode == wire.ReadOnly); ok {
		return v, nil
	}
	return n.fetch(ctx, line, q, index/n.quantumSize, off, nil)
}

// Set writes element index of the array key. It fails with
// ErrWriteInReadOnlyMode while the array is in ReadOnly mode.
func (n *Node) Set(ctx context.Context, key, index int, value int64) error {
	line, q, off, err := n.locate(key, index)
	if err != nil {
		return err
	}
	mode, epoch := line.Mode()
	if mode == wire.ReadOnly {
		return fmt.Errorf("set key %d index %d: %w", key, index, ErrWriteInReadOnlyMode)
	}
	if q.Store(off, value, epoch) {
		return nil
	}
	_, err = n.fetch(ctx, line, q, index/n.quantumSize, off, &value)
	return err
}

func (n *Node) locate(key, index int) (*storage.Line, *storage.Quantum, int, error) {
	store, err := n.workerStore()
	if err != nil {
		return nil, nil, 0, err
	}
	line, err := store.Line(key)
	if err != nil {
		return nil, nil, 0, err
	}
	blk, off, err := line.Locate(index)
	if err != nil {
		return nil, nil, 0, err
	}
	q, err := line.Quantum(blk)
	if err != nil {
		return nil, nil, 0, err
	}
	return line, q, off, nil
}

// fetch is the slow path of Get and Set: ask the coordinator for a source,
// receive the block from it, apply the access and announce the new copy.
// write is nil for reads.
func (n *Node) fetch(ctx context.Context, line *storage.Line, q *storage.Quantum, blk, off int, write *int64) (int64, error) {
	q.BeginFetch()
	defer q.EndFetch()

	mode, epoch := line.Mode()
	shared := mode == wire.ReadOnly
	// a concurrent slow path on this block may have completed meanwhile
	if write == nil {
		if v, ok := q.Load(off, epoch, shared); ok {
			return v, nil
		}
	} else if q.Store(off, *write, epoch) {
		return *write, nil
	}

	key := line.Key
	requestID := xid.New().String()
	if err := n.tr.Send(ctx, directory.Coordinator, wire.GetInfo(key, blk, requestID)); err != nil {
		return 0, fmt.Errorf("get info key %d block %d: %w", key, blk, err)
	}
	reply, err := n.tr.Recv(ctx, wire.ChannelInfo, transport.ForBlock(directory.Coordinator, key, blk))
	if err != nil {
		return 0, fmt.Errorf("get info key %d block %d: %w", key, blk, err)
	}
	if reply.Kind == wire.KindFault {
		return 0, fault(reply)
	}

	src := int(reply.Target)
	var values []int64
	if src != n.rank {
		data, err := n.tr.Recv(ctx, wire.ChannelData, transport.ForBlock(src, key, blk))
		if err != nil {
			return 0, fmt.Errorf("receive key %d block %d from rank %d: %w", key, blk, src, err)
		}
		values = data.Values
	} else if shared && !q.Present() {
		return 0, fmt.Errorf("key %d block %d: named replica but holds no copy: %w", key, blk, directory.ErrProtocol)
	}
	if err := q.Fill(values, epoch); err != nil {
		return 0, fmt.Errorf("key %d block %d: %w", key, blk, err)
	}

	var v int64
	if write != nil {
		q.Store(off, *write, epoch)
		v = *write
	} else {
		v, _ = q.Load(off, epoch, shared)
	}

	// a replica serving itself is already recorded by the coordinator
	if shared && src == n.rank {
		return v, nil
	}
	if err := n.tr.Send(ctx, directory.Coordinator, wire.SetInfo(key, blk, requestID)); err != nil {
		return 0, fmt.Errorf("set info key %d block %d: %w", key, blk, err)
	}
	return v, nil
}

// Lock acquires the advisory lock of a block. Grants are FIFO.
func (n *Node) Lock(ctx context.Context, key, blk int) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	if err := n.checkBlock(key, blk); err != nil {
		return err
	}
	if err := n.tr.Send(ctx, directory.Coordinator, wire.Lock(key, blk)); err != nil {
		return fmt.Errorf("lock key %d block %d: %w", key, blk, err)
	}
	reply, err := n.tr.Recv(ctx, wire.ChannelLock, transport.ForBlock(directory.Coordinator, key, blk))
	if err != nil {
		return fmt.Errorf("lock key %d block %d: %w", key, blk, err)
	}
	if reply.Kind == wire.KindFault {
		return fault(reply)
	}
	return nil
}

// Unlock releases the advisory lock of a block. It does not wait for the
// coordinator.
func (n *Node) Unlock(ctx context.Context, key, blk int) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	if err := n.checkBlock(key, blk); err != nil {
		return err
	}
	if err := n.tr.Send(ctx, directory.Coordinator, wire.Unlock(key, blk)); err != nil {
		return fmt.Errorf("unlock key %d block %d: %w", key, blk, err)
	}
	return nil
}

// ChangeMode switches the array key to mode. Every worker must call it; it
// returns once all of them reached the switch. Switching to the current
// mode is a no-op, as is any call on the coordinator.
func (n *Node) ChangeMode(ctx context.Context, key int, mode wire.Mode) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	if mode != wire.ReadWrite && mode != wire.ReadOnly {
		return fmt.Errorf("unknown mode %d", mode)
	}
	if n.worker == nil {
		return n.checkBlock(key, 0)
	}
	line, err := n.worker.store.Line(key)
	if err != nil {
		return err
	}
	if current, _ := line.Mode(); current == mode {
		return nil
	}

	if err := n.tr.Send(ctx, directory.Coordinator, wire.ChangeMode(key, mode)); err != nil {
		return fmt.Errorf("change mode of key %d: %w", key, err)
	}
	reply, err := n.tr.Recv(ctx, wire.ChannelMode, transport.ForKey(directory.Coordinator, key))
	if err != nil {
		return fmt.Errorf("change mode of key %d: %w", key, err)
	}
	if reply.Kind == wire.KindFault {
		return fault(reply)
	}
	line.SwitchMode(reply.Mode)
	return nil
}

// Mode returns the worker's view of the access mode of key.
func (n *Node) Mode(key int) (wire.Mode, error) {
	store, err := n.workerStore()
	if err != nil {
		return 0, err
	}
	line, err := store.Line(key)
	if err != nil {
		return 0, err
	}
	mode, _ := line.Mode()
	return mode, nil
}

// Resident reports whether this worker holds a buffer for a block, valid or
// stale.
func (n *Node) Resident(key, blk int) (bool, error) {
	store, err := n.workerStore()
	if err != nil {
		return false, err
	}
	line, err := store.Line(key)
	if err != nil {
		return false, err
	}
	q, err := line.Quantum(blk)
	if err != nil {
		return false, err
	}
	return q.Present(), nil
}
