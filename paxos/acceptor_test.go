package paxos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlePrepareRejectsStaleBallot(t *testing.T) {
	a := NewAcceptor(1)

	_, ok := a.HandlePrepare(PrepareMessage{Ballot: Ballot{Epoch: 5, NodeID: 9}, Key: "k", NewValue: []byte("v")})
	require.True(t, ok)

	_, ok = a.HandlePrepare(PrepareMessage{Ballot: Ballot{Epoch: 3, NodeID: 9}, Key: "k", NewValue: []byte("v2")})
	assert.False(t, ok, "a ballot lower than one already promised must be rejected")
}

func TestHandlePrepareEnforcesCasPrecondition(t *testing.T) {
	a := NewAcceptor(1)

	_, ok := a.HandlePrepare(PrepareMessage{Ballot: Ballot{Epoch: 1, NodeID: 9}, Key: "k", NewValue: []byte("v1")})
	require.True(t, ok)
	ack := a.HandleCommit(CommitMessage{Ballot: Ballot{Epoch: 1, NodeID: 9}, Key: "k", Value: []byte("v1")})
	require.True(t, ack.Success)

	wrong := []byte("not-v1")
	_, ok = a.HandlePrepare(PrepareMessage{Ballot: Ballot{Epoch: 2, NodeID: 9}, Key: "k", OldValue: &wrong, NewValue: []byte("v2")})
	assert.False(t, ok, "precondition mismatch must reject the prepare")

	right := []byte("v1")
	resp, ok := a.HandlePrepare(PrepareMessage{Ballot: Ballot{Epoch: 3, NodeID: 9}, Key: "k", OldValue: &right, NewValue: []byte("v2")})
	assert.True(t, ok)
	require.NotNil(t, resp.CurrentValue)
	assert.Equal(t, []byte("v1"), resp.CurrentValue.Value)
}

func TestHandleCommitRejectsStaleBallot(t *testing.T) {
	a := NewAcceptor(1)

	_, ok := a.HandlePrepare(PrepareMessage{Ballot: Ballot{Epoch: 5, NodeID: 9}, Key: "k", NewValue: []byte("v")})
	require.True(t, ok)

	ack := a.HandleCommit(CommitMessage{Ballot: Ballot{Epoch: 2, NodeID: 9}, Key: "k", Value: []byte("stale")})
	assert.False(t, ack.Success)

	_, ok = a.GetValue("k")
	assert.False(t, ok)
}

func TestGetValueOnlyReturnsCommitted(t *testing.T) {
	a := NewAcceptor(1)

	_, ok := a.HandlePrepare(PrepareMessage{Ballot: Ballot{Epoch: 1, NodeID: 9}, Key: "k", NewValue: []byte("v")})
	require.True(t, ok)

	_, ok = a.GetValue("k")
	assert.False(t, ok, "a promised-but-uncommitted key must not be visible")

	ack := a.HandleCommit(CommitMessage{Ballot: Ballot{Epoch: 1, NodeID: 9}, Key: "k", Value: []byte("v")})
	require.True(t, ack.Success)

	v, ok := a.GetValue("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v.Value)
}
