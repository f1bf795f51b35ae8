package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"dsm/internal/directory"
	"dsm/internal/storage"
	"dsm/internal/trace"
	"dsm/internal/transport"
	"dsm/internal/wire"
)

var (
	// ErrWriteInReadOnlyMode is returned by Set on an array in ReadOnly mode.
	ErrWriteInReadOnlyMode = errors.New("write in read-only mode")
	// ErrNotWorker is returned when a data operation runs on the coordinator.
	ErrNotWorker = errors.New("operation requires a worker process")
	// ErrFinalized is returned by operations after Finalize.
	ErrFinalized = errors.New("node finalized")
)

// Options configures a Node.
type Options struct {
	// QuantumSize is the number of elements per block. It must be the same
	// on every process of the run.
	QuantumSize int
	// Recorder receives the coordinator's protocol decisions. Nil disables
	// tracing.
	Recorder trace.Recorder
}

// Node is one process of a run. Rank 0 is the coordinator; every other rank
// is a worker. Each Node runs one Protocol Task next to the caller's main
// computation.
type Node struct {
	rank        int
	size        int
	quantumSize int
	tr          transport.Transport

	// exactly one of worker and coord is set
	worker *workerState
	coord  *coordinatorState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	arrays    []int
	started   bool
	finalized bool
	taskErr   error
}

type workerState struct {
	store *storage.Store
}

type coordinatorState struct {
	dir *directory.Directory
	rec trace.Recorder
}

// New creates the node for the local rank of tr without starting its
// Protocol Task.
func New(tr transport.Transport, opts Options) (*Node, error) {
	rank, size := tr.Rank(), tr.Size()
	if size < 2 {
		return nil, fmt.Errorf("need a coordinator and at least one worker, got %d processes", size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d outside run of %d processes", rank, size)
	}
	if opts.QuantumSize <= 0 {
		return nil, fmt.Errorf("quantum size must be positive, got %d", opts.QuantumSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		rank:        rank,
		size:        size,
		quantumSize: opts.QuantumSize,
		tr:          tr,
		ctx:         ctx,
		cancel:      cancel,
	}
	if rank == directory.Coordinator {
		rec := opts.Recorder
		if rec == nil {
			rec = trace.Nop{}
		}
		n.coord = &coordinatorState{
			dir: directory.New(size, opts.QuantumSize),
			rec: rec,
		}
	} else {
		n.worker = &workerState{store: storage.New(opts.QuantumSize)}
	}
	return n, nil
}

// Init creates the node and starts its Protocol Task.
func Init(tr transport.Transport, opts Options) (*Node, error) {
	n, err := New(tr, opts)
	if err != nil {
		return nil, err
	}
	n.Start()
	return n, nil
}

// Start launches the Protocol Task. It is a no-op after the first call.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return
	}
	n.started = true

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		var err error
		if n.coord != nil {
			log.Printf("[rank %d] Starting coordinator task for %d processes", n.rank, n.size)
			err = n.runCoordinator(n.ctx)
		} else {
			log.Printf("[rank %d] Starting worker task", n.rank)
			err = n.runWorker(n.ctx)
		}
		if err != nil {
			log.Printf("[rank %d] Protocol task stopped: %v", n.rank, err)
		}

		n.mu.Lock()
		n.taskErr = err
		n.mu.Unlock()
	}()
}

// Close aborts the Protocol Task without the finalize rendezvous. It does
// not close the transport.
func (n *Node) Close() error {
	n.cancel()
	n.wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.finalized = true
	if errors.Is(n.taskErr, context.Canceled) {
		return nil
	}
	return n.taskErr
}

// Rank returns the rank of the local process.
func (n *Node) Rank() int { return n.rank }

// Size returns the number of processes in the run.
func (n *Node) Size() int { return n.size }

// IsCoordinator reports whether the local process is the coordinator.
func (n *Node) IsCoordinator() bool { return n.coord != nil }

// QuantumSize returns the number of elements per block.
func (n *Node) QuantumSize() int { return n.quantumSize }

// QuantumIndex returns the block holding a logical index.
func (n *Node) QuantumIndex(index int) int {
	return index / n.quantumSize
}

// Elements returns the element count of the array created under key.
func (n *Node) Elements(key int) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if key < 0 || key >= len(n.arrays) {
		return 0, fmt.Errorf("key %d: %w", key, storage.ErrUnknownKey)
	}
	return n.arrays[key], nil
}

func (n *Node) checkOpen() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.finalized {
		return ErrFinalized
	}
	return nil
}

func (n *Node) workerStore() (*storage.Store, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	if n.worker == nil {
		return nil, ErrNotWorker
	}
	return n.worker.store, nil
}

// checkBlock validates (key, block) against the arrays created so far.
func (n *Node) checkBlock(key, blk int) error {
	elements, err := n.Elements(key)
	if err != nil {
		return err
	}
	if blk < 0 || blk >= (elements+n.quantumSize-1)/n.quantumSize {
		return fmt.Errorf("key %d block %d: %w", key, blk, storage.ErrOutOfRange)
	}
	return nil
}

// fault converts a Fault reply into an error.
func fault(msg wire.Message) error {
	return fmt.Errorf("coordinator rejected request %s for key %d block %d: %w",
		msg.RequestID, msg.Key, msg.Block, directory.FaultError(msg.Target))
}
