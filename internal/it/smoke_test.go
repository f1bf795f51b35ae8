package it

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsm/internal/node"
	"dsm/internal/sample"
)

func TestSmoke_GridMatMulOverGRPC(t *testing.T) {
	c, err := NewGRPCCluster(5, 8)
	require.NoError(t, err, "Failed to start cluster")
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg := sample.MatMulConfig{Size: 8, Seed: 3}
	var checksum int64
	err = c.Run(ctx, func(ctx context.Context, n *node.Node) error {
		sum, err := sample.GridMatMul(ctx, n, c.Transport(n.Rank()), cfg)
		if n.Rank() == 1 {
			checksum = sum
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, sample.Checksum(cfg.Size, cfg.Seed), checksum)
}

func TestSmoke_QueueMatMul(t *testing.T) {
	tests := []struct {
		name   string
		procs  int
		matrix int
		parts  int
	}{
		{"single worker", 2, 8, 2},
		{"two executors", 4, 8, 2},
		{"more executors than tasks", 6, 6, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCluster(t, tt.procs, 4)
			ctx := testContext(t)

			cfg := sample.MatMulConfig{Size: tt.matrix, Parts: tt.parts, Seed: 11}
			var checksum int64
			err := c.Run(ctx, func(ctx context.Context, n *node.Node) error {
				sum, err := sample.QueueMatMul(ctx, n, c.Transport(n.Rank()), cfg)
				if n.Rank() == 1 {
					checksum = sum
				}
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, sample.Checksum(cfg.Size, cfg.Seed), checksum)
		})
	}
}

func TestSmoke_Binary(t *testing.T) {
	binaryPath := "./dsm"
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skip("Binary not found, skipping integration test. Build with: go build -o internal/it/dsm ./cmd/dsm")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	procs, err := NewProcesses(binaryPath)
	require.NoError(t, err)
	defer procs.Stop()

	require.NoError(t, procs.Start(ctx, 5, 61051, "matmul", "--size", "8", "--quantum-size", "16"))
	require.NoError(t, procs.Wait())

	out, err := procs.Log(1)
	require.NoError(t, err)
	assert.Contains(t, out, "verified")

	require.NoError(t, procs.Start(ctx, 3, 61071, "pqueue", "--per-worker", "6", "--quantum-size", "4"))
	require.NoError(t, procs.Wait())

	out, err = procs.Log(1)
	require.NoError(t, err)
	assert.Contains(t, out, "Priority queue of 12 inserts verified")
}

func TestSmoke_PQueue(t *testing.T) {
	tests := []struct {
		name      string
		procs     int
		perWorker int
	}{
		{"single worker", 2, 12},
		{"three workers", 4, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCluster(t, tt.procs, 4)
			ctx := testContext(t)

			cfg := sample.PQueueConfig{PerWorker: tt.perWorker}
			var top int64
			err := c.Run(ctx, func(ctx context.Context, n *node.Node) error {
				v, err := sample.RunPQueue(ctx, n, c.Transport(n.Rank()), cfg)
				if n.Rank() == 1 {
					top = v
				}
				return err
			})
			require.NoError(t, err)
			// neither run ends on a removal step
			total := tt.perWorker * (tt.procs - 1)
			assert.Equal(t, int64(total), top)
		})
	}
}
