package main

import (
	"context"

	"github.com/spf13/cobra"

	"dsm/internal/node"
	"dsm/internal/sample"
	"dsm/internal/transport"
)

var pqueueCmd = &cobra.Command{
	Use:   "pqueue",
	Short: "Fill a distributed priority queue and check its maximum after every step.",
	Long: "`pqueue --per-worker K` inserts K elements per worker into a max " +
		"priority queue kept as one heap per worker, removing the maximum " +
		"every ten inserts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		perWorker, _ := cmd.Flags().GetInt("per-worker")
		cfg := sample.PQueueConfig{PerWorker: perWorker}
		return run(cmd, func(ctx context.Context, n *node.Node, tr transport.Transport) error {
			_, err := sample.RunPQueue(ctx, n, tr, cfg)
			return err
		})
	},
}

func init() {
	pqueueCmd.Flags().Int("per-worker", 16, "Heap capacity of each worker")
	rootCmd.AddCommand(pqueueCmd)
}
