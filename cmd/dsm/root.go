package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"dsm/internal/config"
	"dsm/internal/node"
	"dsm/internal/trace"
	"dsm/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "dsm",
	Short: "Run one process of a distributed shared memory program.",
	Long: `dsm runs one process of a distributed shared memory program. ` +
		`Start one process per entry of --peers, each with its own --rank. ` +
		`Rank 0 is the coordinator; every other rank is a worker.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits through atexit so registered
// trace flushes run.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Int("rank", 0, "Rank of this process")
	flags.String("peers", "", "Comma-separated peer table (format: rank=host:port,...)")
	flags.Int("quantum-size", config.DefaultQuantumSize, "Elements per block, identical on every process")
	flags.Bool("trace", false, "Record coordinator decisions into a SQLite database")
	flags.String("trace-file", "", "Trace database path (default: generated name)")
	flags.Duration("timeout", 10*time.Minute, "Abort the run after this long")
}

func loadConfig(cmd *cobra.Command) (*config.Config, time.Duration, error) {
	flags := cmd.Flags()
	rank, _ := flags.GetInt("rank")
	peersStr, _ := flags.GetString("peers")
	quantum, _ := flags.GetInt("quantum-size")
	enabled, _ := flags.GetBool("trace")
	tracePath, _ := flags.GetString("trace-file")
	timeout, _ := flags.GetDuration("timeout")

	peers, err := config.ParsePeers(peersStr)
	if err != nil {
		return nil, 0, err
	}
	cfg := &config.Config{
		Rank:        rank,
		Peers:       peers,
		QuantumSize: quantum,
		Trace:       enabled,
		TracePath:   tracePath,
	}
	if err := cfg.Validate(); err != nil {
		return nil, 0, err
	}
	return cfg, timeout, nil
}

// program is the main computation of a subcommand. tr is the process
// transport, usable for reductions.
type program func(ctx context.Context, n *node.Node, tr transport.Transport) error

// run starts the transport and the node described by the flags, runs prog
// and finalizes.
func run(cmd *cobra.Command, prog program) error {
	cfg, timeout, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var rec trace.Recorder = trace.Nop{}
	if cfg.Trace && cfg.IsCoordinator() {
		db, err := trace.NewSQLite(cfg.TracePath)
		if err != nil {
			return err
		}
		atexit.Register(func() {
			if err := db.Close(); err != nil {
				log.Printf("[rank %d] Failed to close trace: %v", cfg.Rank, err)
			}
		})
		rec = db
	}

	tr, err := transport.NewGRPC(cfg.Rank, cfg.Addrs())
	if err != nil {
		return err
	}
	if err := tr.Listen(); err != nil {
		return err
	}
	defer tr.Close()

	n, err := node.Init(tr, node.Options{QuantumSize: cfg.QuantumSize, Recorder: rec})
	if err != nil {
		return err
	}
	log.Printf("[rank %d] Started %s with %d processes, quantum size %d",
		cfg.Rank, cmd.Name(), cfg.Size(), cfg.QuantumSize)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	start := time.Now()
	if err := prog(ctx, n, tr); err != nil {
		n.Close()
		return fmt.Errorf("rank %d: %w", cfg.Rank, err)
	}
	if err := n.Finalize(ctx); err != nil {
		return fmt.Errorf("rank %d finalize: %w", cfg.Rank, err)
	}
	log.Printf("[rank %d] Done in %v", cfg.Rank, time.Since(start))
	return nil
}
