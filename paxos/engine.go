// Package paxos implements single-decree CAS-Paxos over one key at a time:
// each key has its own independent consensus round, with no cross-key
// atomicity. An Engine is both a proposer (for cas/set/del issued locally)
// and an acceptor (answering PREPARE/COMMIT from peers, including its own
// local round).
package paxos

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"
)

// tombstone is the sentinel value Del commits instead of an empty string,
// so a deleted key is distinguishable from one explicitly set to "". Set
// and Cas reject any new_value equal to this sentinel.
var tombstone = []byte("\x00vellum:tombstone\x00")

// ErrReservedValue is returned by Cas/Set when the caller's new value
// collides with the internal tombstone sentinel.
var ErrReservedValue = fmt.Errorf("paxos: value collides with the reserved tombstone sentinel")

// Engine runs CAS-Paxos for one node against a fixed set of peers.
type Engine struct {
	nodeID    uint32
	peers     []string
	proposer  *Proposer
	acceptor  *Acceptor
	transport Transport
	logger    *slog.Logger

	// RPCTimeout bounds each individual PREPARE/COMMIT round trip to one
	// peer; RetryTimeout bounds a single retry attempt after the first
	// one times out or errors.
	RPCTimeout   time.Duration
	RetryTimeout time.Duration
}

// NewEngine creates an Engine for nodeID with the given remote peer
// addresses (host:port). The local node's own vote always counts toward
// quorum in addition to these peers.
func NewEngine(nodeID uint32, peers []string, transport Transport, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		nodeID:       nodeID,
		peers:        peers,
		proposer:     NewProposer(nodeID),
		acceptor:     NewAcceptor(nodeID),
		transport:    transport,
		logger:       logger.With("component", "paxos", "node_id", nodeID),
		RPCTimeout:   500 * time.Millisecond,
		RetryTimeout: 200 * time.Millisecond,
	}
}

// Acceptor exposes the engine's local acceptor, for wiring into a
// PeerServer.
func (e *Engine) Acceptor() *Acceptor { return e.acceptor }

// QuorumSize returns the number of affirmative responses (including this
// node's own) required to commit: ceil((len(peers)+1)/2).
func (e *Engine) QuorumSize() int {
	total := len(e.peers) + 1
	return total/2 + 1
}

// Get returns the locally-known committed value for key. A value equal to
// the tombstone sentinel is reported as not-found.
func (e *Engine) Get(key string) ([]byte, bool) {
	v, ok := e.acceptor.GetValue(key)
	if !ok || bytes.Equal(v.Value, tombstone) {
		return nil, false
	}
	return v.Value, true
}

// Set unconditionally writes value for key (a CAS with no precondition).
func (e *Engine) Set(ctx context.Context, key string, value []byte) (bool, error) {
	return e.Cas(ctx, key, nil, value)
}

// Del deletes key, requiring its current value to equal oldValue if
// oldValue is non-nil.
func (e *Engine) Del(ctx context.Context, key string, oldValue *[]byte) (bool, error) {
	return e.cas(ctx, key, oldValue, tombstone)
}

// Cas attempts to set key to newValue, contingent on the key's current
// value equaling *oldValue; a nil oldValue means "no precondition",
// matching the original's optional<string>. It runs a full two-phase
// PREPARE/COMMIT round and returns true only once a quorum of acceptors
// (including this node) has acknowledged the commit.
func (e *Engine) Cas(ctx context.Context, key string, oldValue *[]byte, newValue []byte) (bool, error) {
	if bytes.Equal(newValue, tombstone) {
		return false, ErrReservedValue
	}
	return e.cas(ctx, key, oldValue, newValue)
}

// cas runs one CAS round without the reserved-value check, so Del can
// commit the tombstone sentinel.
func (e *Engine) cas(ctx context.Context, key string, oldValue *[]byte, newValue []byte) (bool, error) {
	ballot := e.proposer.NextBallot()
	prepare := PrepareMessage{Ballot: ballot, Key: key, OldValue: oldValue, NewValue: newValue}

	localPromise, ok := e.acceptor.HandlePrepare(prepare)
	if !ok {
		return false, nil
	}

	promises := []PromiseMessage{localPromise}
	for _, peer := range e.peers {
		promise, ok, err := e.sendPrepareWithRetry(ctx, peer, prepare)
		if err != nil {
			e.logger.Debug("prepare unreachable", "peer", peer, "error", err)
			continue
		}
		if ok {
			promises = append(promises, promise)
		}
	}

	quorum := e.QuorumSize()
	if len(promises) < quorum {
		e.logger.Warn("prepare quorum not reached", "key", key, "got", len(promises), "need", quorum)
		return false, ErrNoQuorum
	}

	for _, p := range promises {
		if p.HighestBallot.Greater(ballot) {
			e.proposer.UpdateBallot(p.HighestBallot)
			return false, nil
		}
	}

	commit := CommitMessage{Ballot: ballot, Key: key, Value: newValue}
	localAck := e.acceptor.HandleCommit(commit)
	if !localAck.Success {
		return false, nil
	}

	acks := []AckMessage{localAck}
	for _, peer := range e.peers {
		ack, err := e.sendCommitWithRetry(ctx, peer, commit)
		if err != nil {
			e.logger.Debug("commit unreachable", "peer", peer, "error", err)
			continue
		}
		acks = append(acks, ack)
	}

	successes := 0
	for _, a := range acks {
		if a.Success {
			successes++
		}
	}

	if successes < quorum {
		e.logger.Warn("commit quorum not reached", "key", key, "got", successes, "need", quorum)
		return false, ErrNoQuorum
	}

	return true, nil
}

// sendPrepareWithRetry tries once with RPCTimeout and, if that attempt
// fails (dial/write/read/decode error), once more with the shorter
// RetryTimeout. Only a failure of the retry is reported to the caller as an
// error, which it treats as "this replica did not respond" rather than
// aborting the round.
func (e *Engine) sendPrepareWithRetry(ctx context.Context, peer string, msg PrepareMessage) (PromiseMessage, bool, error) {
	c1, cancel1 := context.WithTimeout(ctx, e.RPCTimeout)
	promise, ok, err := e.transport.SendPrepare(c1, peer, msg)
	cancel1()
	if err == nil {
		return promise, ok, nil
	}

	c2, cancel2 := context.WithTimeout(ctx, e.RetryTimeout)
	defer cancel2()
	return e.transport.SendPrepare(c2, peer, msg)
}

func (e *Engine) sendCommitWithRetry(ctx context.Context, peer string, msg CommitMessage) (AckMessage, error) {
	c1, cancel1 := context.WithTimeout(ctx, e.RPCTimeout)
	ack, err := e.transport.SendCommit(c1, peer, msg)
	cancel1()
	if err == nil {
		return ack, nil
	}

	c2, cancel2 := context.WithTimeout(ctx, e.RetryTimeout)
	defer cancel2()
	return e.transport.SendCommit(c2, peer, msg)
}
