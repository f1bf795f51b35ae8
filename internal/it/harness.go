package it

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"dsm/internal/node"
	"dsm/internal/transport"
)

// Program is the main computation one process runs between Init and
// Finalize.
type Program func(ctx context.Context, n *node.Node) error

// Cluster is a whole run hosted in the test binary.
type Cluster struct {
	Nodes      []*node.Node
	transports []transport.Transport
	mu         sync.Mutex
}

// NewLocalCluster starts size processes over an in-process network.
func NewLocalCluster(size, quantumSize int) (*Cluster, error) {
	nw := transport.NewNetwork(size)
	transports := make([]transport.Transport, size)
	for r := range transports {
		transports[r] = nw.Endpoint(r)
	}
	return start(transports, quantumSize)
}

// NewGRPCCluster starts size processes talking gRPC over loopback.
func NewGRPCCluster(size, quantumSize int) (*Cluster, error) {
	listeners := make([]net.Listener, size)
	addrs := make([]string, size)
	for i := range listeners {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			for _, l := range listeners[:i] {
				l.Close()
			}
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
		listeners[i] = lis
		addrs[i] = lis.Addr().String()
	}

	transports := make([]transport.Transport, size)
	for r := range transports {
		tr, err := transport.NewGRPC(r, addrs)
		if err != nil {
			return nil, err
		}
		tr.Serve(listeners[r])
		transports[r] = tr
	}
	return start(transports, quantumSize)
}

func start(transports []transport.Transport, quantumSize int) (*Cluster, error) {
	c := &Cluster{transports: transports}
	for _, tr := range transports {
		n, err := node.Init(tr, node.Options{QuantumSize: quantumSize})
		if err != nil {
			c.Stop()
			return nil, fmt.Errorf("failed to start rank %d: %w", tr.Rank(), err)
		}
		c.Nodes = append(c.Nodes, n)
	}
	return c, nil
}

// Run executes program on every process concurrently and finalizes each one
// afterwards. It returns every error, per rank.
func (c *Cluster) Run(ctx context.Context, program Program) error {
	errs := make([]error, len(c.Nodes))
	var wg sync.WaitGroup
	for i, n := range c.Nodes {
		wg.Add(1)
		go func(i int, n *node.Node) {
			defer wg.Done()
			if err := program(ctx, n); err != nil {
				errs[i] = fmt.Errorf("rank %d: %w", n.Rank(), err)
				return
			}
			if err := n.Finalize(ctx); err != nil {
				errs[i] = fmt.Errorf("rank %d finalize: %w", n.Rank(), err)
			}
		}(i, n)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Node returns the process of rank.
func (c *Cluster) Node(rank int) *node.Node {
	return c.Nodes[rank]
}

// Transport returns the transport of rank.
func (c *Cluster) Transport(rank int) transport.Transport {
	return c.transports[rank]
}

// Stop aborts every Protocol Task and closes the transports.
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.Nodes {
		n.Close()
	}
	for _, tr := range c.transports {
		tr.Close()
	}
	c.Nodes = nil
	c.transports = nil
}

// Processes runs a whole run as separate dsm binaries.
type Processes struct {
	binaryPath string
	logDir     string
	cmds       []*exec.Cmd
	logs       []*os.File
}

// NewProcesses prepares a run of the binary at binaryPath.
func NewProcesses(binaryPath string) (*Processes, error) {
	logDir := filepath.Join(".local", "it-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Processes{binaryPath: binaryPath, logDir: logDir}, nil
}

// Start launches size processes on consecutive ports from basePort, each
// running the named sample program with extra arguments.
func (p *Processes) Start(ctx context.Context, size, basePort int, program string, args ...string) error {
	peers := make([]string, size)
	for r := range peers {
		peers[r] = fmt.Sprintf("%d=127.0.0.1:%d", r, basePort+r)
	}
	peerStr := strings.Join(peers, ",")

	for r := 0; r < size; r++ {
		logPath := filepath.Join(p.logDir, fmt.Sprintf("rank%d.log", r))
		logFile, err := os.Create(logPath)
		if err != nil {
			p.Stop()
			return fmt.Errorf("failed to create log file: %w", err)
		}

		cmdArgs := append([]string{program,
			"--rank", fmt.Sprintf("%d", r),
			"--peers", peerStr,
		}, args...)
		cmd := exec.CommandContext(ctx, p.binaryPath, cmdArgs...)
		cmd.Stdout = logFile
		cmd.Stderr = logFile

		if err := cmd.Start(); err != nil {
			logFile.Close()
			p.Stop()
			return fmt.Errorf("failed to start rank %d: %w", r, err)
		}
		p.cmds = append(p.cmds, cmd)
		p.logs = append(p.logs, logFile)
	}
	return nil
}

// Wait waits for every process to exit and returns their failures.
func (p *Processes) Wait() error {
	var errs []error
	for r, cmd := range p.cmds {
		if err := cmd.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("rank %d: %w", r, err))
		}
	}
	for _, f := range p.logs {
		f.Close()
	}
	p.cmds, p.logs = nil, nil
	return errors.Join(errs...)
}

// Log returns the output of rank so far.
func (p *Processes) Log(rank int) (string, error) {
	b, err := os.ReadFile(filepath.Join(p.logDir, fmt.Sprintf("rank%d.log", rank)))
	return string(b), err
}

// Stop kills every process still running.
func (p *Processes) Stop() {
	for _, cmd := range p.cmds {
		if cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
	}
	for _, f := range p.logs {
		f.Close()
	}
	p.cmds, p.logs = nil, nil
}
