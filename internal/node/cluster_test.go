package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dsm/internal/transport"
	"dsm/internal/wire"
)

// startCluster runs size nodes over an in-process network.
func startCluster(t *testing.T, size int) []*Node {
	t.Helper()
	net := transport.NewNetwork(size)
	nodes := make([]*Node, size)
	for r := range nodes {
		n, err := Init(net.Endpoint(r), Options{QuantumSize: testQuantum})
		if err != nil {
			t.Fatalf("Init rank %d failed: %v", r, err)
		}
		nodes[r] = n
	}
	return nodes
}

// each runs fn on every node concurrently and fails on the first error.
func each(t *testing.T, nodes []*Node, fn func(ctx context.Context, n *Node) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(nodes))
	for i, n := range nodes {
		wg.Add(1)
		go func(i int, n *Node) {
			defer wg.Done()
			errs[i] = fn(ctx, n)
		}(i, n)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		t.Fatalf("cluster step failed: %v", err)
	}
}

func TestCluster_CreateWriteReadFinalize(t *testing.T) {
	nodes := startCluster(t, 3)

	each(t, nodes, func(ctx context.Context, n *Node) error {
		key, err := n.CreateObject(ctx, 10)
		if err != nil {
			return err
		}
		if key != 0 {
			t.Errorf("rank %d: expected key 0, got %d", n.Rank(), key)
		}
		if n.Rank() == 1 {
			for i := 0; i < 10; i++ {
				if err := n.Set(ctx, key, i, int64(i*i)); err != nil {
					return err
				}
			}
		}
		if err := n.WaitAll(ctx); err != nil {
			return err
		}
		if n.Rank() == 2 {
			for i := 0; i < 10; i++ {
				v, err := n.Get(ctx, key, i)
				if err != nil {
					return err
				}
				if v != int64(i*i) {
					t.Errorf("Get(%d) = %d, want %d", i, v, i*i)
				}
			}
		}
		return n.Finalize(ctx)
	})

	for _, n := range nodes[1:] {
		if _, err := n.Get(context.Background(), 0, 0); !errors.Is(err, ErrFinalized) {
			t.Errorf("rank %d: expected ErrFinalized, got %v", n.Rank(), err)
		}
	}
}

func TestCluster_NotifyWait(t *testing.T) {
	nodes := startCluster(t, 3)

	each(t, nodes, func(ctx context.Context, n *Node) error {
		switch n.Rank() {
		case 1:
			if err := n.Notify(ctx, 2); err != nil {
				return err
			}
		case 2:
			from, err := n.Wait(ctx, wire.None)
			if err != nil {
				return err
			}
			if from != 1 {
				t.Errorf("Expected signal from rank 1, got %d", from)
			}
		}
		return n.Finalize(ctx)
	})
}

func TestCluster_ModeSwitchAndReplicas(t *testing.T) {
	nodes := startCluster(t, 4)

	each(t, nodes, func(ctx context.Context, n *Node) error {
		key, err := n.CreateObject(ctx, 8)
		if err != nil {
			return err
		}
		if n.Rank() == 1 {
			for i := 0; i < 8; i++ {
				if err := n.Set(ctx, key, i, int64(100+i)); err != nil {
					return err
				}
			}
		}
		if err := n.WaitAll(ctx); err != nil {
			return err
		}
		if err := n.ChangeMode(ctx, key, wire.ReadOnly); err != nil {
			return err
		}
		if !n.IsCoordinator() {
			for i := 0; i < 8; i++ {
				v, err := n.Get(ctx, key, i)
				if err != nil {
					return err
				}
				if v != int64(100+i) {
					t.Errorf("rank %d: Get(%d) = %d, want %d", n.Rank(), i, v, 100+i)
				}
			}
			if err := n.Set(ctx, key, 0, 1); !errors.Is(err, ErrWriteInReadOnlyMode) {
				t.Errorf("rank %d: expected ErrWriteInReadOnlyMode, got %v", n.Rank(), err)
			}
		}
		if err := n.WaitAll(ctx); err != nil {
			return err
		}
		if err := n.ChangeMode(ctx, key, wire.ReadWrite); err != nil {
			return err
		}
		if n.Rank() == 3 {
			if err := n.Set(ctx, key, 5, -1); err != nil {
				return err
			}
		}
		if err := n.WaitAll(ctx); err != nil {
			return err
		}
		if n.Rank() == 2 {
			v, err := n.Get(ctx, key, 5)
			if err != nil {
				return err
			}
			if v != -1 {
				t.Errorf("Expected -1 after the read-write switch, got %d", v)
			}
		}
		return n.Finalize(ctx)
	})
}

func TestFinalize_Twice(t *testing.T) {
	nodes := startCluster(t, 2)
	each(t, nodes, func(ctx context.Context, n *Node) error {
		return n.Finalize(ctx)
	})
	for _, n := range nodes {
		if err := n.Finalize(context.Background()); !errors.Is(err, ErrFinalized) {
			t.Errorf("rank %d: expected ErrFinalized, got %v", n.Rank(), err)
		}
	}
}
