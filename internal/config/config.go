package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultQuantumSize is the default number of elements per block.
const DefaultQuantumSize = 4096

// Peer represents one process of the run.
type Peer struct {
	Rank int
	Addr string
}

// Config holds the process configuration.
type Config struct {
	Rank        int
	Peers       []Peer
	QuantumSize int
	// Trace enables the SQLite protocol trace on the coordinator, written
	// to TracePath or to a generated file name when TracePath is empty.
	Trace     bool
	TracePath string
}

// ParsePeers parses a comma-separated list of peers in the format:
// "0=addr0,1=addr1,2=addr2". The result is sorted by rank.
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected rank=addr)", part)
		}

		rankStr := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if rankStr == "" || addr == "" {
			return nil, fmt.Errorf("peer rank and address cannot be empty: %s", part)
		}
		rank, err := strconv.Atoi(rankStr)
		if err != nil {
			return nil, fmt.Errorf("invalid peer rank %q: %w", rankStr, err)
		}

		peers = append(peers, Peer{
			Rank: rank,
			Addr: addr,
		})
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].Rank < peers[j].Rank })
	return peers, nil
}

// Validate checks that the peer table covers ranks 0..N-1 exactly once, that
// the run has a coordinator and at least one worker, and that the local rank
// is part of it. A zero QuantumSize is replaced by the default.
func (c *Config) Validate() error {
	if len(c.Peers) < 2 {
		return fmt.Errorf("need at least 2 processes (1 coordinator + 1 worker), got %d", len(c.Peers))
	}
	for i, p := range c.Peers {
		if p.Rank != i {
			return fmt.Errorf("peer ranks must be 0..%d without gaps or duplicates, found %d at position %d",
				len(c.Peers)-1, p.Rank, i)
		}
	}
	if c.Rank < 0 || c.Rank >= len(c.Peers) {
		return fmt.Errorf("rank %d not in peer table of %d processes", c.Rank, len(c.Peers))
	}
	if c.QuantumSize == 0 {
		c.QuantumSize = DefaultQuantumSize
	}
	if c.QuantumSize < 0 {
		return fmt.Errorf("quantum size must be positive, got %d", c.QuantumSize)
	}
	return nil
}

// Size returns the number of processes in the run.
func (c *Config) Size() int {
	return len(c.Peers)
}

// Addrs returns the listen address of every rank, indexed by rank.
func (c *Config) Addrs() []string {
	addrs := make([]string, len(c.Peers))
	for _, p := range c.Peers {
		if p.Rank >= 0 && p.Rank < len(addrs) {
			addrs[p.Rank] = p.Addr
		}
	}
	return addrs
}

// IsCoordinator reports whether the local process is rank 0.
func (c *Config) IsCoordinator() bool {
	return c.Rank == 0
}
