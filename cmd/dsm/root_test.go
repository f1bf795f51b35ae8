package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	cmd := taskqueueCmd
	require.NoError(t, cmd.ParseFlags([]string{
		"--rank", "2",
		"--peers", "1=127.0.0.1:7001,0=127.0.0.1:7000,2=127.0.0.1:7002",
		"--quantum-size", "32",
		"--trace",
		"--size", "12",
		"--parts", "3",
	}))

	cfg, _, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Rank)
	assert.Equal(t, 3, cfg.Size())
	assert.Equal(t, []string{"127.0.0.1:7000", "127.0.0.1:7001", "127.0.0.1:7002"}, cfg.Addrs())
	assert.Equal(t, 32, cfg.QuantumSize)
	assert.True(t, cfg.Trace)
	assert.False(t, cfg.IsCoordinator())

	mm := queueConfig(cmd)
	assert.Equal(t, 12, mm.Size)
	assert.Equal(t, 3, mm.Parts)
}

func TestMatMulConfig_GridHasNoParts(t *testing.T) {
	assert.Nil(t, matmulCmd.Flags().Lookup("parts"))

	cmd := matmulCmd
	require.NoError(t, cmd.ParseFlags([]string{"--size", "9", "--seed", "4"}))
	mm := matMulConfig(cmd)
	assert.Equal(t, 9, mm.Size)
	assert.Equal(t, int64(4), mm.Seed)
	assert.Zero(t, mm.Parts)
}

func TestLoadConfig_RejectsSingleProcess(t *testing.T) {
	cmd := matmulCmd
	require.NoError(t, cmd.ParseFlags([]string{"--rank", "0", "--peers", "0=127.0.0.1:7000"}))

	_, _, err := loadConfig(cmd)
	assert.Error(t, err)
}

func TestPQueueCmd_Registered(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"pqueue"})
	require.NoError(t, err)
	assert.Equal(t, pqueueCmd, cmd)

	require.NoError(t, cmd.ParseFlags([]string{"--per-worker", "6"}))
	perWorker, err := cmd.Flags().GetInt("per-worker")
	require.NoError(t, err)
	assert.Equal(t, 6, perWorker)
}
