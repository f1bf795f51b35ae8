package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsm/internal/wire"
)

func TestMailbox_FIFOPerChannel(t *testing.T) {
	mb := NewMailbox()
	for i := 0; i < 3; i++ {
		msg := wire.Partial(int64(i))
		require.NoError(t, mb.Put(msg))
	}
	require.NoError(t, mb.Put(wire.Signal()))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		msg, err := mb.Take(ctx, wire.ChannelReduce, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(i), msg.Target)
	}
	assert.Equal(t, 1, mb.Pending(wire.ChannelSignal))
}

func TestMailbox_TakeWithMatchSkipsOthers(t *testing.T) {
	mb := NewMailbox()
	first := wire.Source(0, 1, 5, "")
	first.From = 0
	second := wire.Source(0, 2, 6, "")
	second.From = 0
	require.NoError(t, mb.Put(first))
	require.NoError(t, mb.Put(second))

	msg, err := mb.Take(context.Background(), wire.ChannelInfo, ForBlock(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(6), msg.Target)

	msg, err = mb.Take(context.Background(), wire.ChannelInfo, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), msg.Target, "the skipped message must stay queued")
}

func TestMailbox_TakeBlocksUntilPut(t *testing.T) {
	mb := NewMailbox()
	got := make(chan wire.Message, 1)
	go func() {
		msg, err := mb.Take(context.Background(), wire.ChannelSignal, nil)
		if err == nil {
			got <- msg
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, mb.Put(wire.Signal()))

	select {
	case msg := <-got:
		assert.Equal(t, wire.KindSignal, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake up after Put")
	}
}

func TestMailbox_ContextAndClose(t *testing.T) {
	mb := NewMailbox()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := mb.Take(ctx, wire.ChannelSignal, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	mb.Close()
	_, err = mb.Take(context.Background(), wire.ChannelSignal, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, mb.Put(wire.Signal()), ErrClosed)
}

func TestLocal_SendStampsSenderAndCopiesValues(t *testing.T) {
	nw := NewNetwork(3)
	values := []int64{1, 2, 3}

	require.NoError(t, nw.Endpoint(2).Send(context.Background(), 1, wire.Block(0, 0, values, "")))
	values[0] = 99

	msg, err := nw.Endpoint(1).Recv(context.Background(), wire.ChannelData, FromRank(2))
	require.NoError(t, err)
	assert.Equal(t, 2, msg.From)
	assert.Equal(t, []int64{1, 2, 3}, msg.Values)

	assert.Error(t, nw.Endpoint(0).Send(context.Background(), 3, wire.Signal()))
}

func TestGRPC_LoopbackPreservesOrder(t *testing.T) {
	listeners := make([]net.Listener, 2)
	addrs := make([]string, 2)
	for i := range listeners {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners[i] = lis
		addrs[i] = lis.Addr().String()
	}

	transports := make([]*GRPC, 2)
	for i := range transports {
		tr, err := NewGRPC(i, addrs)
		require.NoError(t, err)
		tr.Serve(listeners[i])
		transports[i] = tr
	}
	defer func() {
		for _, tr := range transports {
			_ = tr.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, transports[1].Send(ctx, 0, wire.Partial(int64(i))))
	}
	require.NoError(t, transports[1].Send(ctx, 0, wire.Block(4, 2, []int64{7, -7}, "req")))

	for i := 0; i < n; i++ {
		msg, err := transports[0].Recv(ctx, wire.ChannelReduce, FromRank(1))
		require.NoError(t, err)
		assert.Equal(t, int64(i), msg.Target)
	}
	msg, err := transports[0].Recv(ctx, wire.ChannelData, ForBlock(1, 4, 2))
	require.NoError(t, err)
	assert.Equal(t, []int64{7, -7}, msg.Values)
	assert.Equal(t, "req", msg.RequestID)

	// self delivery does not touch the network
	require.NoError(t, transports[0].Send(ctx, 0, wire.Signal()))
	msg, err = transports[0].Recv(ctx, wire.ChannelSignal, FromRank(0))
	require.NoError(t, err)
	assert.Equal(t, wire.KindSignal, msg.Kind)
}
