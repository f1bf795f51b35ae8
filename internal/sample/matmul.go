// Package sample holds the demonstration programs shipped with the dsm
// binary: a blocked matrix multiply over a worker grid, the same product
// dispatched as a task queue, and a priority queue kept as one heap per
// worker.
package sample

import (
	"context"
	"fmt"
	"log"
	"math"

	"dsm/internal/array"
	"dsm/internal/node"
	"dsm/internal/reduce"
	"dsm/internal/wire"
)

// MatMulConfig describes one product C = A * B of Size x Size matrices.
// B is stored transposed.
type MatMulConfig struct {
	Size int
	// Parts is the number of block rows and columns the task queue splits
	// the matrices into. The grid variant derives it from the worker count.
	Parts int
	Seed  int64
}

// matrices are the three shared operands, created collectively.
type matrices struct {
	a, bt, c *array.Vector
	n        int
}

// Element returns the generated value of element i of operand which (0 for
// A, 1 for the transposed B).
func Element(i int, seed int64, which int) int64 {
	return (int64(i)*31+seed*17+int64(which)*7)%10 + 1
}

// Checksum returns the sum of all elements of A * B computed locally.
func Checksum(n int, seed int64) int64 {
	var sum int64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				sum += Element(i*n+k, seed, 0) * Element(j*n+k, seed, 1)
			}
		}
	}
	return sum
}

// portion returns the contiguous share [lo, hi) of total elements owned by
// worker w out of workers.
func portion(total, w, workers int) (int, int) {
	base, extra := total/workers, total%workers
	if w < extra {
		lo := w * (base + 1)
		return lo, lo + base + 1
	}
	lo := extra*(base+1) + (w-extra)*base
	return lo, lo + base
}

func workerIndex(n *node.Node) int { return n.Rank() - 1 }

func workerCount(n *node.Node) int { return n.Size() - 1 }

// setup creates the operands, fills each worker's portion of A and B and
// switches both to ReadOnly.
func setup(ctx context.Context, n *node.Node, cfg MatMulConfig) (*matrices, error) {
	total := cfg.Size * cfg.Size
	m := &matrices{n: cfg.Size}
	var err error
	if m.a, err = array.New(ctx, n, total); err != nil {
		return nil, err
	}
	if m.bt, err = array.New(ctx, n, total); err != nil {
		return nil, err
	}
	if m.c, err = array.New(ctx, n, total); err != nil {
		return nil, err
	}

	if !n.IsCoordinator() {
		lo, hi := portion(total, workerIndex(n), workerCount(n))
		for i := lo; i < hi; i++ {
			if err := m.a.Set(ctx, i, Element(i, cfg.Seed, 0)); err != nil {
				return nil, err
			}
			if err := m.bt.Set(ctx, i, Element(i, cfg.Seed, 1)); err != nil {
				return nil, err
			}
		}
	}
	if err := n.WaitAll(ctx); err != nil {
		return nil, err
	}
	if err := m.a.ChangeMode(ctx, wire.ReadOnly); err != nil {
		return nil, err
	}
	if err := m.bt.ChangeMode(ctx, wire.ReadOnly); err != nil {
		return nil, err
	}
	return m, nil
}

// multiplyBlock adds A(bi, bk) * B(bj, bk)^T into C(bi, bj) for blocks of
// side p, one locked accumulation per element of C.
func (m *matrices) multiplyBlock(ctx context.Context, bi, bj, bk, p int) error {
	n := m.n
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			var temp int64
			for k := 0; k < p; k++ {
				x, err := m.a.Get(ctx, (bi*p+i)*n+bk*p+k)
				if err != nil {
					return err
				}
				y, err := m.bt.Get(ctx, (bj*p+j)*n+bk*p+k)
				if err != nil {
					return err
				}
				temp += x * y
			}
			if _, err := m.c.Add(ctx, (bi*p+i)*n+bj*p+j, temp); err != nil {
				return err
			}
		}
	}
	return nil
}

// verify sums C over every worker's portion, reduces the partial sums to
// rank 1 and compares them with the locally computed checksum there.
func (m *matrices) verify(ctx context.Context, n *node.Node, msg reduce.Messenger, cfg MatMulConfig) (int64, error) {
	if err := n.WaitAll(ctx); err != nil {
		return 0, err
	}
	if n.IsCoordinator() {
		return 0, nil
	}

	lo, hi := portion(m.c.Len(), workerIndex(n), workerCount(n))
	partial, err := reduce.Range(ctx, m.c, lo, hi, 0, reduce.Sum)
	if err != nil {
		return 0, err
	}
	sum, err := reduce.Tree(ctx, msg, partial, reduce.Sum, 1, n.Size()-1, 1)
	if err != nil {
		return 0, err
	}
	if n.Rank() != 1 {
		return sum, nil
	}
	if want := Checksum(cfg.Size, cfg.Seed); sum != want {
		return sum, fmt.Errorf("checksum %d, want %d", sum, want)
	}
	log.Printf("[rank %d] Product of %dx%d matrices verified: checksum=%d", n.Rank(), cfg.Size, cfg.Size, sum)
	return sum, nil
}

// GridMatMul multiplies over a q x q grid of workers; worker (gi, gj)
// accumulates block (gi, gj) of C over q steps. The run needs q*q+1
// processes and Size divisible by q. It returns the checksum of C on rank
// 1.
func GridMatMul(ctx context.Context, n *node.Node, msg reduce.Messenger, cfg MatMulConfig) (int64, error) {
	workers := workerCount(n)
	q := int(math.Sqrt(float64(workers)))
	if q*q != workers {
		return 0, fmt.Errorf("grid needs a square number of workers, got %d", workers)
	}
	if cfg.Size <= 0 || cfg.Size%q != 0 {
		return 0, fmt.Errorf("matrix size %d not divisible by grid side %d", cfg.Size, q)
	}

	m, err := setup(ctx, n, cfg)
	if err != nil {
		return 0, err
	}
	if !n.IsCoordinator() {
		p := cfg.Size / q
		gi, gj := workerIndex(n)/q, workerIndex(n)%q
		for step := 0; step < q; step++ {
			bk := (gi + step) % q
			if err := m.multiplyBlock(ctx, gi, gj, bk, p); err != nil {
				return 0, err
			}
		}
	}
	return m.verify(ctx, n, msg, cfg)
}
