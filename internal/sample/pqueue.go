package sample

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"dsm/internal/array"
	"dsm/internal/node"
	"dsm/internal/reduce"
)

// emptyMax is the top published by a worker whose heap is empty.
const emptyMax = math.MinInt64

// removeEvery is the insert period of RemoveMax in RunPQueue.
const removeEvery = 10

// ErrQueueFull is returned by Insert when the chosen worker's heap is at
// capacity.
var ErrQueueFull = errors.New("priority queue partition full")

// PQueue is a max priority queue spread over the workers. Each worker keeps a
// binary heap in its own region of a shared vector and publishes its size and
// top element in two more vectors. Insert and RemoveMax are collective: every
// process calls them with the same arguments, the coordinator only taking part
// in their barriers.
type PQueue struct {
	n        *node.Node
	msg      reduce.Messenger
	heaps    *array.Vector
	sizes    *array.Vector
	maxes    *array.Vector
	capacity int
	workers  int
}

// NewPQueue collectively creates a queue holding up to capacity elements per
// worker.
func NewPQueue(ctx context.Context, n *node.Node, msg reduce.Messenger, capacity int) (*PQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("priority queue capacity %d", capacity)
	}
	pq := &PQueue{n: n, msg: msg, capacity: capacity, workers: workerCount(n)}

	var err error
	if pq.heaps, err = array.New(ctx, n, pq.workers*capacity); err != nil {
		return nil, err
	}
	if pq.sizes, err = array.New(ctx, n, pq.workers); err != nil {
		return nil, err
	}
	if pq.maxes, err = array.New(ctx, n, pq.workers); err != nil {
		return nil, err
	}

	if !n.IsCoordinator() {
		w := workerIndex(n)
		if err := pq.sizes.Set(ctx, w, 0); err != nil {
			return nil, err
		}
		if err := pq.maxes.Set(ctx, w, emptyMax); err != nil {
			return nil, err
		}
	}
	if err := n.WaitAll(ctx); err != nil {
		return nil, err
	}
	return pq, nil
}

// Insert adds v to the heap of the worker holding the fewest elements, the
// lowest index on ties.
func (pq *PQueue) Insert(ctx context.Context, v int64) error {
	if v == emptyMax {
		return fmt.Errorf("insert %d: reserved for the empty queue", v)
	}
	if err := pq.n.WaitAll(ctx); err != nil {
		return err
	}
	target := -1
	if !pq.n.IsCoordinator() {
		var err error
		if target, err = pq.smallest(ctx); err != nil {
			return err
		}
	}
	if err := pq.n.WaitAll(ctx); err != nil {
		return err
	}
	if pq.n.IsCoordinator() || target != workerIndex(pq.n) {
		return nil
	}
	return pq.push(ctx, v)
}

// RemoveMax removes the largest element of the queue and returns it on every
// worker. ok is false when the queue is empty, and always on the coordinator.
func (pq *PQueue) RemoveMax(ctx context.Context) (v int64, ok bool, err error) {
	if err := pq.n.WaitAll(ctx); err != nil {
		return 0, false, err
	}
	top, owner := int64(emptyMax), -1
	if !pq.n.IsCoordinator() {
		for w := 0; w < pq.workers; w++ {
			m, err := pq.maxes.Get(ctx, w)
			if err != nil {
				return 0, false, err
			}
			if m > top {
				top, owner = m, w
			}
		}
	}
	if err := pq.n.WaitAll(ctx); err != nil {
		return 0, false, err
	}
	if owner < 0 {
		return 0, false, nil
	}
	if owner == workerIndex(pq.n) {
		if err := pq.pop(ctx); err != nil {
			return 0, false, err
		}
	}
	return top, true, nil
}

// Max reduces the workers' tops to rank 1, which gets the largest element of
// the queue. Every worker must call it; ok is false for an empty queue.
func (pq *PQueue) Max(ctx context.Context) (v int64, ok bool, err error) {
	if pq.n.IsCoordinator() {
		return 0, false, node.ErrNotWorker
	}
	local, err := pq.maxes.Get(ctx, workerIndex(pq.n))
	if err != nil {
		return 0, false, err
	}
	top, err := reduce.Tree(ctx, pq.msg, local, reduce.Max, 1, pq.n.Size()-1, 1)
	if err != nil {
		return 0, false, err
	}
	return top, top != emptyMax, nil
}

func (pq *PQueue) smallest(ctx context.Context) (int, error) {
	best, bestSize := -1, int64(math.MaxInt64)
	for w := 0; w < pq.workers; w++ {
		size, err := pq.sizes.Get(ctx, w)
		if err != nil {
			return 0, err
		}
		if size < bestSize {
			best, bestSize = w, size
		}
	}
	return best, nil
}

// push sifts v up the local heap.
func (pq *PQueue) push(ctx context.Context, v int64) error {
	w := workerIndex(pq.n)
	base := w * pq.capacity
	size, err := pq.sizes.Get(ctx, w)
	if err != nil {
		return err
	}
	if int(size) >= pq.capacity {
		return fmt.Errorf("worker %d holds %d: %w", w, size, ErrQueueFull)
	}

	i := int(size)
	for i > 0 {
		parent := (i - 1) / 2
		pv, err := pq.heaps.Get(ctx, base+parent)
		if err != nil {
			return err
		}
		if pv >= v {
			break
		}
		if err := pq.heaps.Set(ctx, base+i, pv); err != nil {
			return err
		}
		i = parent
	}
	if err := pq.heaps.Set(ctx, base+i, v); err != nil {
		return err
	}
	if err := pq.sizes.Set(ctx, w, size+1); err != nil {
		return err
	}
	return pq.publishTop(ctx, w, base, size+1)
}

// pop drops the root of the local heap and sifts the last element down.
func (pq *PQueue) pop(ctx context.Context) error {
	w := workerIndex(pq.n)
	base := w * pq.capacity
	size, err := pq.sizes.Get(ctx, w)
	if err != nil {
		return err
	}
	last := int(size) - 1
	if last < 0 {
		return fmt.Errorf("worker %d published a top with an empty heap", w)
	}

	if last > 0 {
		lastV, err := pq.heaps.Get(ctx, base+last)
		if err != nil {
			return err
		}
		i := 0
		for {
			child := 2*i + 1
			if child >= last {
				break
			}
			cv, err := pq.heaps.Get(ctx, base+child)
			if err != nil {
				return err
			}
			if child+1 < last {
				rv, err := pq.heaps.Get(ctx, base+child+1)
				if err != nil {
					return err
				}
				if rv > cv {
					child, cv = child+1, rv
				}
			}
			if cv <= lastV {
				break
			}
			if err := pq.heaps.Set(ctx, base+i, cv); err != nil {
				return err
			}
			i = child
		}
		if err := pq.heaps.Set(ctx, base+i, lastV); err != nil {
			return err
		}
	}
	if err := pq.sizes.Set(ctx, w, int64(last)); err != nil {
		return err
	}
	return pq.publishTop(ctx, w, base, int64(last))
}

func (pq *PQueue) publishTop(ctx context.Context, w, base int, size int64) error {
	top := int64(emptyMax)
	if size > 0 {
		var err error
		if top, err = pq.heaps.Get(ctx, base); err != nil {
			return err
		}
	}
	return pq.maxes.Set(ctx, w, top)
}

// PQueueConfig describes one RunPQueue run.
type PQueueConfig struct {
	// PerWorker is the heap capacity of each worker; the run inserts
	// PerWorker times the worker count elements.
	PerWorker int
}

// expectedMax is the queue top after step i of RunPQueue: i+1 was inserted
// and, every removeEvery steps, removed again.
func expectedMax(i int) (int64, bool) {
	if i%removeEvery != 0 {
		return int64(i + 1), true
	}
	if i == 0 {
		return 0, false
	}
	return int64(i), true
}

// RunPQueue inserts 1, 2, ... into a PQueue, removing the maximum every
// removeEvery inserts, and checks the queue top on rank 1 after each step.
// It returns the final top on rank 1.
func RunPQueue(ctx context.Context, n *node.Node, msg reduce.Messenger, cfg PQueueConfig) (int64, error) {
	pq, err := NewPQueue(ctx, n, msg, cfg.PerWorker)
	if err != nil {
		return 0, err
	}

	total := cfg.PerWorker * workerCount(n)
	var top int64
	for i := 0; i < total; i++ {
		if err := pq.Insert(ctx, int64(i+1)); err != nil {
			return 0, err
		}
		if i%removeEvery == 0 {
			if _, _, err := pq.RemoveMax(ctx); err != nil {
				return 0, err
			}
		}
		if n.IsCoordinator() {
			continue
		}
		v, ok, err := pq.Max(ctx)
		if err != nil {
			return 0, err
		}
		if n.Rank() != 1 {
			continue
		}
		if want, wantOK := expectedMax(i); ok != wantOK || (ok && v != want) {
			return 0, fmt.Errorf("step %d: queue top %d (present %v), want %d (present %v)", i, v, ok, want, wantOK)
		}
		top = v
	}
	if n.Rank() == 1 {
		log.Printf("[rank %d] Priority queue of %d inserts verified: max=%d", n.Rank(), total, top)
	}
	return top, nil
}
