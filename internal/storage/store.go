package storage

import (
	"errors"
	"fmt"
	"sync"

	"dsm/internal/wire"
)

var (
	// ErrUnknownKey is returned for a key no array was created under.
	ErrUnknownKey = errors.New("unknown array key")
	// ErrOutOfRange is returned for an element index outside the array.
	ErrOutOfRange = errors.New("index out of range")
	// ErrAbsent is returned when a block is asked to serve data it does not hold.
	ErrAbsent = errors.New("block not resident")
)

// Quantum is a worker's cached copy of one block. data is nil while the
// block is absent. epoch is the mode epoch at which the copy was last
// validated by the coordinator.
type Quantum struct {
	mu    sync.RWMutex
	fetch sync.Mutex
	pool  *Pool
	data  []int64
	epoch int64
}

// Load reads data[off] if the block is resident and validated at epoch.
// shared takes the read side of the block lock (ReadOnly mode).
func (q *Quantum) Load(off int, epoch int64, shared bool) (int64, bool) {
	if shared {
		q.mu.RLock()
		defer q.mu.RUnlock()
	} else {
		q.mu.Lock()
		defer q.mu.Unlock()
	}
	if q.data == nil || q.epoch != epoch {
		return 0, false
	}
	return q.data[off], true
}

// Store writes data[off] if the block is resident and validated at epoch.
func (q *Quantum) Store(off int, v, epoch int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.data == nil || q.epoch != epoch {
		return false
	}
	q.data[off] = v
	return true
}

// BeginFetch serialises slow paths of the main computation on this block.
// The Protocol Task never takes it, so a push can be served while a fetch
// waits on the coordinator.
func (q *Quantum) BeginFetch() { q.fetch.Lock() }

// EndFetch releases the fetch lock.
func (q *Quantum) EndFetch() { q.fetch.Unlock() }

// Fill validates the block at epoch. values, when non-nil, replace the
// contents; an absent block gets a zeroed buffer first.
func (q *Quantum) Fill(values []int64, epoch int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.data == nil {
		q.data = q.pool.Get()
	}
	if values != nil {
		if len(values) != len(q.data) {
			return fmt.Errorf("block payload of %d elements, want %d", len(values), len(q.data))
		}
		copy(q.data, values)
	}
	q.epoch = epoch
	return nil
}

// Serve hands the block to send while holding the block lock. With
// invalidate the local copy is dropped after a successful send.
func (q *Quantum) Serve(invalidate bool, send func(values []int64) error) error {
	if invalidate {
		q.mu.Lock()
		defer q.mu.Unlock()
	} else {
		q.mu.RLock()
		defer q.mu.RUnlock()
	}
	if q.data == nil {
		return ErrAbsent
	}
	if err := send(q.data); err != nil {
		return err
	}
	if invalidate {
		q.pool.Put(q.data)
		q.data = nil
	}
	return nil
}

// Present reports whether the block holds a local buffer.
func (q *Quantum) Present() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.data != nil
}

// Release frees the local buffer. It reports whether one was held.
func (q *Quantum) Release() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.data == nil {
		return false
	}
	q.pool.Put(q.data)
	q.data = nil
	return true
}

// Line is the worker-side view of one shared array: its access mode, the
// mode epoch and the cached blocks.
type Line struct {
	Key      int
	Elements int

	quantumSize int
	mu          sync.RWMutex
	mode        wire.Mode
	epoch       int64
	quanta      []*Quantum
}

// Blocks returns the number of blocks of the array.
func (l *Line) Blocks() int {
	return len(l.quanta)
}

// Mode returns the current access mode and mode epoch.
func (l *Line) Mode() (wire.Mode, int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mode, l.epoch
}

// SwitchMode moves the array to mode and advances the epoch, staling every
// cached block.
func (l *Line) SwitchMode(mode wire.Mode) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = mode
	l.epoch++
	return l.epoch
}

// Locate maps a logical index to its block and offset inside the block.
func (l *Line) Locate(index int) (block, offset int, err error) {
	if index < 0 || index >= l.Elements {
		return 0, 0, fmt.Errorf("key %d index %d of %d: %w", l.Key, index, l.Elements, ErrOutOfRange)
	}
	return index / l.quantumSize, index % l.quantumSize, nil
}

// Quantum returns the cached block at index block.
func (l *Line) Quantum(block int) (*Quantum, error) {
	if block < 0 || block >= len(l.quanta) {
		return nil, fmt.Errorf("key %d block %d of %d: %w", l.Key, block, len(l.quanta), ErrOutOfRange)
	}
	return l.quanta[block], nil
}

// Store is the Quantum Store of a worker process. It is safe for
// concurrent use by the main computation and the Protocol Task.
type Store struct {
	quantumSize int
	pool        *Pool

	mu    sync.RWMutex
	lines []*Line
}

// New creates an empty store with blocks of quantumSize elements.
func New(quantumSize int) *Store {
	return &Store{
		quantumSize: quantumSize,
		pool:        NewPool(quantumSize, DefaultSlab),
	}
}

// QuantumSize returns the number of elements per block.
func (s *Store) QuantumSize() int {
	return s.quantumSize
}

// Pool returns the buffer pool backing the store.
func (s *Store) Pool() *Pool {
	return s.pool
}

// Add registers the array created under key. Keys are handed out in
// creation order, so key must be the next unused one.
func (s *Store) Add(key, elements int) (*Line, error) {
	if elements <= 0 {
		return nil, fmt.Errorf("array of %d elements", elements)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if key != len(s.lines) {
		return nil, fmt.Errorf("array key %d out of order, next is %d", key, len(s.lines))
	}
	blocks := (elements + s.quantumSize - 1) / s.quantumSize
	line := &Line{
		Key:         key,
		Elements:    elements,
		quantumSize: s.quantumSize,
		quanta:      make([]*Quantum, blocks),
	}
	for i := range line.quanta {
		line.quanta[i] = &Quantum{pool: s.pool}
	}
	s.lines = append(s.lines, line)
	return line, nil
}

// Line returns the array registered under key.
func (s *Store) Line(key int) (*Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key < 0 || key >= len(s.lines) {
		return nil, fmt.Errorf("key %d: %w", key, ErrUnknownKey)
	}
	return s.lines[key], nil
}

// Lines returns the number of registered arrays.
func (s *Store) Lines() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

// Resident returns the number of blocks currently holding a buffer.
func (s *Store) Resident() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, line := range s.lines {
		for _, q := range line.quanta {
			if q.Present() {
				n++
			}
		}
	}
	return n
}

// ReleaseAll frees every cached block and returns how many were held.
func (s *Store) ReleaseAll() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, line := range s.lines {
		for _, q := range line.quanta {
			if q.Release() {
				n++
			}
		}
	}
	return n
}
