package paxos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumdb/vellum/codec"
)

func TestTCPTransportPrepareAndCommitRoundTrip(t *testing.T) {
	acceptor := NewAcceptor(2)
	server, err := NewPeerServer("127.0.0.1:0", acceptor, codec.Default, nil)
	require.NoError(t, err)
	defer server.Close()
	go server.Serve()

	transport := NewTCPTransport(codec.Default)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	prepare := PrepareMessage{Ballot: Ballot{Epoch: 1, NodeID: 1}, Key: "k", NewValue: []byte("v1")}
	promise, ok, err := transport.SendPrepare(ctx, server.Addr(), prepare)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, prepare.Ballot, promise.Ballot)

	commit := CommitMessage{Ballot: Ballot{Epoch: 1, NodeID: 1}, Key: "k", Value: []byte("v1")}
	ack, err := transport.SendCommit(ctx, server.Addr(), commit)
	require.NoError(t, err)
	assert.True(t, ack.Success)

	v, ok := acceptor.GetValue("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v.Value)
}

func TestTCPTransportUnreachablePeerReturnsError(t *testing.T) {
	transport := NewTCPTransport(codec.Default)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, ok, err := transport.SendPrepare(ctx, "127.0.0.1:1", PrepareMessage{Key: "k"})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestPeerServerRejectsStaleBallotOverWire(t *testing.T) {
	acceptor := NewAcceptor(2)
	server, err := NewPeerServer("127.0.0.1:0", acceptor, codec.Default, nil)
	require.NoError(t, err)
	defer server.Close()
	go server.Serve()

	transport := NewTCPTransport(codec.Default)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, ok, err := transport.SendPrepare(ctx, server.Addr(), PrepareMessage{Ballot: Ballot{Epoch: 5, NodeID: 1}, Key: "k", NewValue: []byte("v")})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = transport.SendPrepare(ctx, server.Addr(), PrepareMessage{Ballot: Ballot{Epoch: 3, NodeID: 1}, Key: "k", NewValue: []byte("stale")})
	require.NoError(t, err)
	assert.False(t, ok)
}
