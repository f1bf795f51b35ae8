// Package array wraps a shared array key in a typed handle.
package array

import (
	"context"
	"fmt"

	"dsm/internal/wire"
)

// Memory is the subset of a node a Vector needs.
type Memory interface {
	CreateObject(ctx context.Context, elements int) (int, error)
	Get(ctx context.Context, key, index int) (int64, error)
	Set(ctx context.Context, key, index int, value int64) error
	Lock(ctx context.Context, key, blk int) error
	Unlock(ctx context.Context, key, blk int) error
	ChangeMode(ctx context.Context, key int, mode wire.Mode) error
	QuantumSize() int
}

// Vector is a shared array of n int64 elements.
type Vector struct {
	mem     Memory
	key     int
	n       int
	quantum int
}

// New collectively creates a Vector of n elements. Every process must call
// it in the same order.
func New(ctx context.Context, mem Memory, n int) (*Vector, error) {
	key, err := mem.CreateObject(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("create vector of %d: %w", n, err)
	}
	return &Vector{mem: mem, key: key, n: n, quantum: mem.QuantumSize()}, nil
}

// Key returns the array key backing v.
func (v *Vector) Key() int { return v.key }

// Len returns the number of elements.
func (v *Vector) Len() int { return v.n }

// Blocks returns the number of blocks v spans.
func (v *Vector) Blocks() int { return (v.n + v.quantum - 1) / v.quantum }

// QuantumOf returns the block holding element i.
func (v *Vector) QuantumOf(i int) int { return i / v.quantum }

// Get returns element i.
func (v *Vector) Get(ctx context.Context, i int) (int64, error) {
	return v.mem.Get(ctx, v.key, i)
}

// Set writes element i.
func (v *Vector) Set(ctx context.Context, i int, value int64) error {
	return v.mem.Set(ctx, v.key, i, value)
}

// Lock acquires the lock of the block holding element i.
func (v *Vector) Lock(ctx context.Context, i int) error {
	return v.mem.Lock(ctx, v.key, v.QuantumOf(i))
}

// Unlock releases the lock of the block holding element i.
func (v *Vector) Unlock(ctx context.Context, i int) error {
	return v.mem.Unlock(ctx, v.key, v.QuantumOf(i))
}

// ChangeMode collectively switches the access mode of the whole vector.
func (v *Vector) ChangeMode(ctx context.Context, mode wire.Mode) error {
	return v.mem.ChangeMode(ctx, v.key, mode)
}

// Add adds delta to element i under the block lock and returns the new
// value.
func (v *Vector) Add(ctx context.Context, i int, delta int64) (int64, error) {
	if err := v.Lock(ctx, i); err != nil {
		return 0, err
	}
	cur, err := v.Get(ctx, i)
	if err == nil {
		cur += delta
		err = v.Set(ctx, i, cur)
	}
	if uerr := v.Unlock(ctx, i); err == nil {
		err = uerr
	}
	return cur, err
}
