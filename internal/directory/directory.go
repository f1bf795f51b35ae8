package directory

import (
	"errors"
	"fmt"
	"log"

	"golang.org/x/exp/slices"

	"dsm/internal/clock"
	"dsm/internal/wire"
)

// Coordinator is the rank of the process that owns the Directory.
const Coordinator = 0

// Outbound is a message the coordinator must send to rank To.
type Outbound struct {
	To  int
	Msg wire.Message
}

// Owner is the exclusive-mode ownership record of a block. Ready is false
// while the block is in flight to Holder.
type Owner struct {
	Ready  bool
	Holder int
}

type block struct {
	epoch int64
	// mode the block was last validated in
	validIn  wire.Mode
	owner    Owner
	replicas []int
	// requesters waiting for an in-flight exclusive transfer
	pending []waiter

	lockHolder int
	lockQueue  []int
}

type waiter struct {
	rank      int
	requestID string
}

type array struct {
	elements int
	mode     wire.Mode
	epoch    int64
	blocks   []*block

	target    wire.Mode
	switching []int
}

// Directory is the coordinator's protocol state for every shared array.
// It is owned by the coordinator Protocol Task and is not safe for
// concurrent use.
type Directory struct {
	size        int
	quantumSize int
	arrays      []*array
	contacts    *clock.Contacts

	// arrivals per creation key, and for the all-process barrier
	creating map[int][]int
	barrier  []int
}

// New creates a Directory for a run of size processes sharing arrays cut
// into blocks of quantumSize elements.
func New(size, quantumSize int) *Directory {
	return &Directory{
		size:        size,
		quantumSize: quantumSize,
		contacts:    clock.New(size),
		creating:    make(map[int][]int),
	}
}

// Size returns the number of processes in the run.
func (d *Directory) Size() int {
	return d.size
}

// Arrays returns the number of registered arrays.
func (d *Directory) Arrays() int {
	return len(d.arrays)
}

// Handle applies one request and returns the replies and pushes it causes.
func (d *Directory) Handle(msg wire.Message) ([]Outbound, error) {
	if msg.From < 0 || msg.From >= d.size {
		return nil, violation("%s from unknown rank %d", msg.Kind, msg.From)
	}

	switch msg.Kind {
	case wire.KindGetInfo:
		return d.getInfo(msg)
	case wire.KindSetInfo:
		return d.setInfo(msg)
	case wire.KindLock:
		return d.lock(msg)
	case wire.KindUnlock:
		return d.unlock(msg)
	case wire.KindChangeMode:
		return d.changeMode(msg)
	case wire.KindCreate:
		return d.create(msg)
	case wire.KindBarrier:
		return d.enterBarrier(msg)
	default:
		return nil, violation("unexpected %s from rank %d", msg.Kind, msg.From)
	}
}

func (d *Directory) lookup(key, blk int) (*array, *block, error) {
	if key < 0 || key >= len(d.arrays) {
		return nil, nil, violation("unknown key %d", key)
	}
	arr := d.arrays[key]
	if blk < 0 || blk >= len(arr.blocks) {
		return nil, nil, violation("key %d has no block %d", key, blk)
	}
	return arr, arr.blocks[blk], nil
}

func (d *Directory) getInfo(msg wire.Message) ([]Outbound, error) {
	if msg.From == Coordinator {
		return nil, violation("GET_INFO from the coordinator")
	}
	arr, b, err := d.lookup(msg.Key, msg.Block)
	if err != nil {
		return nil, err
	}
	if arr.mode == wire.ReadOnly {
		return d.getReadOnly(msg, arr, b)
	}
	return d.getReadWrite(msg, arr, b)
}

func (d *Directory) getReadOnly(msg wire.Message, arr *array, b *block) ([]Outbound, error) {
	r := msg.From
	if b.epoch != arr.epoch {
		if b.owner.Holder == wire.None {
			return nil, fmt.Errorf("key %d block %d read before any write: %w", msg.Key, msg.Block, ErrUninitializedBlock)
		}
		if !b.owner.Ready {
			return nil, violation("key %d block %d still in flight to rank %d at mode switch", msg.Key, msg.Block, b.owner.Holder)
		}
		b.replicas = []int{b.owner.Holder}
		b.epoch = arr.epoch
		b.validIn = wire.ReadOnly
		if b.owner.Holder == r {
			return []Outbound{{To: r, Msg: wire.Source(msg.Key, msg.Block, r, msg.RequestID)}}, nil
		}
	}

	src, ok := d.contacts.LeastRecent(b.replicas, r)
	if !ok {
		return nil, fmt.Errorf("key %d block %d has no replica: %w", msg.Key, msg.Block, ErrUninitializedBlock)
	}
	d.contacts.Touch(src, r)

	out := []Outbound{{To: r, Msg: wire.Source(msg.Key, msg.Block, src, msg.RequestID)}}
	if src != r {
		out = append(out, Outbound{To: src, Msg: wire.Push(wire.ReadOnly, msg.Key, msg.Block, r, msg.RequestID)})
	}
	return out, nil
}

func (d *Directory) getReadWrite(msg wire.Message, arr *array, b *block) ([]Outbound, error) {
	r := msg.From
	if b.epoch != arr.epoch {
		var candidates []int
		if b.validIn == wire.ReadOnly {
			candidates = b.replicas
		} else if b.owner.Holder != wire.None {
			candidates = []int{b.owner.Holder}
		}
		src, ok := d.contacts.LeastRecent(candidates, r)

		b.epoch = arr.epoch
		b.validIn = wire.ReadWrite
		b.owner = Owner{Ready: false, Holder: r}
		b.replicas = nil

		if !ok || src == r {
			return []Outbound{{To: r, Msg: wire.Source(msg.Key, msg.Block, r, msg.RequestID)}}, nil
		}
		return transfer(msg.Key, msg.Block, src, r, msg.RequestID), nil
	}

	switch {
	case b.owner.Holder == r:
		return nil, violation("rank %d requested key %d block %d it already holds", r, msg.Key, msg.Block)
	case b.owner.Holder == wire.None:
		b.owner = Owner{Ready: false, Holder: r}
		return []Outbound{{To: r, Msg: wire.Source(msg.Key, msg.Block, r, msg.RequestID)}}, nil
	case b.owner.Ready:
		prev := b.owner.Holder
		b.owner = Owner{Ready: false, Holder: r}
		return transfer(msg.Key, msg.Block, prev, r, msg.RequestID), nil
	default:
		if slices.IndexFunc(b.pending, func(w waiter) bool { return w.rank == r }) >= 0 {
			return nil, violation("rank %d queued twice on key %d block %d", r, msg.Key, msg.Block)
		}
		b.pending = append(b.pending, waiter{rank: r, requestID: msg.RequestID})
		return nil, nil
	}
}

// transfer tells dst where the block comes from and asks src to push it.
func transfer(key, blk, src, dst int, requestID string) []Outbound {
	return []Outbound{
		{To: dst, Msg: wire.Source(key, blk, src, requestID)},
		{To: src, Msg: wire.Push(wire.ReadWrite, key, blk, dst, requestID)},
	}
}

func (d *Directory) setInfo(msg wire.Message) ([]Outbound, error) {
	arr, b, err := d.lookup(msg.Key, msg.Block)
	if err != nil {
		return nil, err
	}
	r := msg.From

	if arr.mode == wire.ReadOnly {
		if b.epoch != arr.epoch {
			return nil, violation("SET_INFO for stale key %d block %d from rank %d", msg.Key, msg.Block, r)
		}
		if !slices.Contains(b.replicas, r) {
			b.replicas = append(b.replicas, r)
		}
		return nil, nil
	}

	if b.owner.Holder != r || b.owner.Ready {
		return nil, violation("SET_INFO for key %d block %d from rank %d, owner is %+v", msg.Key, msg.Block, r, b.owner)
	}
	b.owner.Ready = true
	if len(b.pending) == 0 {
		return nil, nil
	}

	next := b.pending[0]
	b.pending = slices.Delete(b.pending, 0, 1)
	b.owner = Owner{Ready: false, Holder: next.rank}
	return transfer(msg.Key, msg.Block, r, next.rank, next.requestID), nil
}

func (d *Directory) lock(msg wire.Message) ([]Outbound, error) {
	_, b, err := d.lookup(msg.Key, msg.Block)
	if err != nil {
		return nil, err
	}
	if b.lockHolder == wire.None {
		b.lockHolder = msg.From
		return []Outbound{{To: msg.From, Msg: wire.LockGranted(msg.Key, msg.Block)}}, nil
	}
	b.lockQueue = append(b.lockQueue, msg.From)
	return nil, nil
}

func (d *Directory) unlock(msg wire.Message) ([]Outbound, error) {
	_, b, err := d.lookup(msg.Key, msg.Block)
	if err != nil {
		return nil, err
	}
	if b.lockHolder != msg.From {
		log.Printf("[rank %d] Ignoring unlock of key=%d block=%d from=%d holder=%d",
			Coordinator, msg.Key, msg.Block, msg.From, b.lockHolder)
		return nil, nil
	}
	b.lockHolder = wire.None
	if len(b.lockQueue) == 0 {
		return nil, nil
	}
	next := b.lockQueue[0]
	b.lockQueue = slices.Delete(b.lockQueue, 0, 1)
	b.lockHolder = next
	return []Outbound{{To: next, Msg: wire.LockGranted(msg.Key, msg.Block)}}, nil
}

func (d *Directory) changeMode(msg wire.Message) ([]Outbound, error) {
	if msg.From == Coordinator {
		return nil, violation("CHANGE_MODE from the coordinator")
	}
	if msg.Key < 0 || msg.Key >= len(d.arrays) {
		return nil, violation("CHANGE_MODE for unknown key %d", msg.Key)
	}
	arr := d.arrays[msg.Key]
	if msg.Mode == arr.mode {
		return nil, violation("rank %d switching key %d to its current mode %s", msg.From, msg.Key, msg.Mode)
	}
	if len(arr.switching) > 0 && msg.Mode != arr.target {
		return nil, violation("rank %d switching key %d to %s while others switch to %s", msg.From, msg.Key, msg.Mode, arr.target)
	}
	if slices.Contains(arr.switching, msg.From) {
		return nil, violation("rank %d entered the mode switch of key %d twice", msg.From, msg.Key)
	}
	arr.target = msg.Mode
	arr.switching = append(arr.switching, msg.From)
	if len(arr.switching) < d.size-1 {
		return nil, nil
	}

	arr.mode = arr.target
	arr.epoch++
	arr.switching = nil
	d.contacts.Reset()

	out := make([]Outbound, 0, d.size-1)
	for rank := 1; rank < d.size; rank++ {
		out = append(out, Outbound{To: rank, Msg: wire.ModeChanged(msg.Key, arr.mode)})
	}
	return out, nil
}

func (d *Directory) create(msg wire.Message) ([]Outbound, error) {
	elements := int(msg.Target)
	switch {
	case elements <= 0:
		return nil, violation("rank %d created key %d with %d elements", msg.From, msg.Key, elements)
	case msg.Key == len(d.arrays):
		d.register(elements)
	case msg.Key > len(d.arrays) || msg.Key < 0:
		return nil, violation("rank %d created key %d, next key is %d", msg.From, msg.Key, len(d.arrays))
	case d.arrays[msg.Key].elements != elements:
		return nil, violation("rank %d created key %d with %d elements, others with %d",
			msg.From, msg.Key, elements, d.arrays[msg.Key].elements)
	}

	arrived := d.creating[msg.Key]
	if slices.Contains(arrived, msg.From) {
		return nil, violation("rank %d created key %d twice", msg.From, msg.Key)
	}
	arrived = append(arrived, msg.From)
	if len(arrived) < d.size {
		d.creating[msg.Key] = arrived
		return nil, nil
	}
	delete(d.creating, msg.Key)
	return d.releaseAll(wire.Released(msg.Key)), nil
}

// register adds an array in ReadWrite mode with no block ever written.
func (d *Directory) register(elements int) {
	arr := &array{
		elements: elements,
		blocks:   make([]*block, (elements+d.quantumSize-1)/d.quantumSize),
	}
	for i := range arr.blocks {
		arr.blocks[i] = &block{
			owner:      Owner{Holder: wire.None},
			lockHolder: wire.None,
		}
	}
	d.arrays = append(d.arrays, arr)
}

func (d *Directory) enterBarrier(msg wire.Message) ([]Outbound, error) {
	if slices.Contains(d.barrier, msg.From) {
		return nil, violation("rank %d entered the barrier twice", msg.From)
	}
	d.barrier = append(d.barrier, msg.From)
	if len(d.barrier) < d.size {
		return nil, nil
	}
	d.barrier = nil
	return d.releaseAll(wire.Released(wire.None)), nil
}

func (d *Directory) releaseAll(msg wire.Message) []Outbound {
	out := make([]Outbound, 0, d.size)
	for rank := 0; rank < d.size; rank++ {
		out = append(out, Outbound{To: rank, Msg: msg})
	}
	return out
}

// CheckClosed verifies the closing invariants once every worker is done:
// no request is left waiting and in ReadWrite mode every written block
// rests with a ready holder.
func (d *Directory) CheckClosed() error {
	var errs []error
	for key, arr := range d.arrays {
		if len(arr.switching) > 0 {
			errs = append(errs, violation("key %d mode switch left with %d arrivals", key, len(arr.switching)))
		}
		for i, b := range arr.blocks {
			if len(b.pending) > 0 {
				errs = append(errs, violation("key %d block %d has %d waiters", key, i, len(b.pending)))
			}
			if len(b.lockQueue) > 0 {
				errs = append(errs, violation("key %d block %d has lock waiters %v", key, i, b.lockQueue))
			}
			if arr.mode == wire.ReadWrite && b.epoch == arr.epoch && b.owner.Holder != wire.None && !b.owner.Ready {
				errs = append(errs, violation("key %d block %d still in flight to rank %d", key, i, b.owner.Holder))
			}
		}
	}
	if len(d.creating) > 0 || len(d.barrier) > 0 {
		errs = append(errs, violation("barrier left open"))
	}
	return errors.Join(errs...)
}

// Mode returns the access mode and mode epoch of key.
func (d *Directory) Mode(key int) (wire.Mode, int64, error) {
	if key < 0 || key >= len(d.arrays) {
		return 0, 0, violation("unknown key %d", key)
	}
	return d.arrays[key].mode, d.arrays[key].epoch, nil
}

// Owner returns the exclusive-mode ownership record of a block.
func (d *Directory) Owner(key, blk int) (Owner, error) {
	_, b, err := d.lookup(key, blk)
	if err != nil {
		return Owner{}, err
	}
	return b.owner, nil
}

// Replicas returns the ranks known to hold a read-only copy of a block.
func (d *Directory) Replicas(key, blk int) ([]int, error) {
	_, b, err := d.lookup(key, blk)
	if err != nil {
		return nil, err
	}
	return slices.Clone(b.replicas), nil
}

// Waiting returns the ranks queued on an in-flight transfer of a block.
func (d *Directory) Waiting(key, blk int) ([]int, error) {
	_, b, err := d.lookup(key, blk)
	if err != nil {
		return nil, err
	}
	ranks := make([]int, 0, len(b.pending))
	for _, w := range b.pending {
		ranks = append(ranks, w.rank)
	}
	return ranks, nil
}

// LockHolder returns the rank holding the advisory lock of a block and the
// ranks queued behind it.
func (d *Directory) LockHolder(key, blk int) (int, []int, error) {
	_, b, err := d.lookup(key, blk)
	if err != nil {
		return wire.None, nil, err
	}
	return b.lockHolder, slices.Clone(b.lockQueue), nil
}

// Contacts returns a copy of the contact clock.
func (d *Directory) Contacts() *clock.Contacts {
	return d.contacts.Copy()
}
