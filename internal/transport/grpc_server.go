package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"dsm/internal/wire"
)

const (
	serviceName   = "dsm.Transport"
	deliverMethod = "/dsm.Transport/Deliver"
)

// deliverServer is the server API of the Transport service.
type deliverServer interface {
	Deliver(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(deliverServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(deliverServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*deliverServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dsm/transport.proto",
}

// GRPC is a Transport where every process runs a gRPC server and peers
// deliver messages with a unary Deliver call. A call returns once the
// message sits in the receiver's mailbox, so sequential sends from one
// goroutine stay ordered.
type GRPC struct {
	rank    int
	addrs   []string
	box     *Mailbox
	clients *ClientManager

	mu     sync.Mutex
	server *grpc.Server
	done   chan struct{}
}

// NewGRPC creates the transport of process rank; addrs[i] is the listen
// address of rank i.
func NewGRPC(rank int, addrs []string) (*GRPC, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("rank %d outside peer table of %d processes", rank, len(addrs))
	}
	return &GRPC{
		rank:    rank,
		addrs:   append([]string(nil), addrs...),
		box:     NewMailbox(),
		clients: NewClientManager(),
	}, nil
}

// Listen starts serving on this rank's address from the peer table.
func (g *GRPC) Listen() error {
	lis, err := net.Listen("tcp", g.addrs[g.rank])
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.addrs[g.rank], err)
	}
	g.Serve(lis)
	return nil
}

// Serve starts the gRPC server on an existing listener in the background.
func (g *GRPC) Serve(lis net.Listener) {
	g.mu.Lock()
	g.server = grpc.NewServer()
	g.server.RegisterService(&transportServiceDesc, g)
	g.done = make(chan struct{})
	server, done := g.server, g.done
	g.mu.Unlock()

	log.Printf("[rank %d] Transport listening on %s", g.rank, lis.Addr())
	go func() {
		defer close(done)
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Printf("[rank %d] Transport server stopped: %v", g.rank, err)
		}
	}()
}

// Deliver handles an incoming message from a peer.
func (g *GRPC) Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	msg, err := wire.Decode(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := g.box.Put(msg); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Rank returns the local rank.
func (g *GRPC) Rank() int { return g.rank }

// Size returns the number of processes in the peer table.
func (g *GRPC) Size() int { return len(g.addrs) }

// Send delivers msg to rank `to`. Messages to self bypass the network.
func (g *GRPC) Send(ctx context.Context, to int, msg wire.Message) error {
	if to < 0 || to >= len(g.addrs) {
		return fmt.Errorf("send %s to rank %d: no such rank", msg.Kind, to)
	}
	msg.From = g.rank
	if to == g.rank {
		if msg.Values != nil {
			msg.Values = append([]int64(nil), msg.Values...)
		}
		return g.box.Put(msg)
	}
	if err := g.clients.Deliver(ctx, g.addrs[to], wire.Encode(msg)); err != nil {
		return fmt.Errorf("send %s to rank %d: %w", msg.Kind, to, err)
	}
	return nil
}

// Recv takes the next matching message on ch.
func (g *GRPC) Recv(ctx context.Context, ch wire.Channel, match Match) (wire.Message, error) {
	return g.box.Take(ctx, ch, match)
}

// Close stops the server, closes the mailbox and drops peer connections.
func (g *GRPC) Close() error {
	g.mu.Lock()
	server, done := g.server, g.done
	g.server = nil
	g.mu.Unlock()

	if server != nil {
		log.Printf("[rank %d] Stopping transport", g.rank)
		server.GracefulStop()
		<-done
	}
	g.box.Close()
	return g.clients.Close()
}
