package transport

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ClientManager manages gRPC connections to peer processes.
type ClientManager struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

// NewClientManager creates a new client manager.
func NewClientManager() *ClientManager {
	return &ClientManager{
		conns: make(map[string]*grpc.ClientConn),
	}
}

// GetConn returns a connection to the given address.
// Creates a new connection if one doesn't exist. Connections are established
// lazily, so peers may still be starting when this is called.
func (cm *ClientManager) GetConn(addr string) (*grpc.ClientConn, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return conn, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}

	cm.conns[addr] = conn
	return conn, nil
}

// Deliver sends one encoded message to the process listening on addr. It
// waits for the peer to become reachable instead of failing fast.
func (cm *ClientManager) Deliver(ctx context.Context, addr string, payload []byte) error {
	conn, err := cm.GetConn(addr)
	if err != nil {
		return err
	}

	in := &wrapperspb.BytesValue{Value: payload}
	out := new(emptypb.Empty)
	if err := conn.Invoke(ctx, deliverMethod, in, out, grpc.WaitForReady(true)); err != nil {
		return fmt.Errorf("deliver to %s: %w", addr, err)
	}
	return nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var firstErr error
	for addr, conn := range cm.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", addr, err)
		}
	}
	cm.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
