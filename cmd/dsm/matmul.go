package main

import (
	"context"

	"github.com/spf13/cobra"

	"dsm/internal/node"
	"dsm/internal/sample"
	"dsm/internal/transport"
)

var matmulCmd = &cobra.Command{
	Use:   "matmul",
	Short: "Multiply two generated matrices over a square grid of workers.",
	Long: "`matmul --size N` multiplies two generated N x N matrices. " +
		"The run needs q*q+1 processes with N divisible by q.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := matMulConfig(cmd)
		return run(cmd, func(ctx context.Context, n *node.Node, tr transport.Transport) error {
			_, err := sample.GridMatMul(ctx, n, tr, cfg)
			return err
		})
	},
}

var taskqueueCmd = &cobra.Command{
	Use:   "taskqueue",
	Short: "Multiply two generated matrices with blocks dispatched from a task queue.",
	Long: "`taskqueue --size N --parts D` cuts the product into D*D*D block " +
		"tasks that rank 1 hands out to the other workers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := queueConfig(cmd)
		return run(cmd, func(ctx context.Context, n *node.Node, tr transport.Transport) error {
			_, err := sample.QueueMatMul(ctx, n, tr, cfg)
			return err
		})
	},
}

// matMulConfig reads the product flags shared by both subcommands. The grid
// derives its parts from the worker count.
func matMulConfig(cmd *cobra.Command) sample.MatMulConfig {
	size, _ := cmd.Flags().GetInt("size")
	seed, _ := cmd.Flags().GetInt64("seed")
	return sample.MatMulConfig{Size: size, Seed: seed}
}

func queueConfig(cmd *cobra.Command) sample.MatMulConfig {
	cfg := matMulConfig(cmd)
	cfg.Parts, _ = cmd.Flags().GetInt("parts")
	return cfg
}

func init() {
	for _, c := range []*cobra.Command{matmulCmd, taskqueueCmd} {
		c.Flags().Int("size", 16, "Matrix side")
		c.Flags().Int64("seed", 0, "Generator seed")
		rootCmd.AddCommand(c)
	}
	taskqueueCmd.Flags().Int("parts", 2, "Number of block rows and columns")
}
