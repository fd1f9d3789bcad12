package paxos

import (
	"bytes"
	"sync"
)

// Acceptor holds one node's replica state: the highest ballot it has
// promised, and a versioned value per key.
type Acceptor struct {
	mu            sync.Mutex
	nodeID        uint32
	highestBallot Ballot
	values        map[string]VersionedValue
}

// NewAcceptor creates an Acceptor that has not yet promised any ballot
// above (0, nodeID).
func NewAcceptor(nodeID uint32) *Acceptor {
	return &Acceptor{
		nodeID:        nodeID,
		highestBallot: Ballot{Epoch: 0, NodeID: nodeID},
		values:        make(map[string]VersionedValue),
	}
}

// HandlePrepare processes a PREPARE message. It returns ok == false if the
// proposed ballot is stale or the CAS precondition in msg fails to match
// the acceptor's current value.
func (a *Acceptor) HandlePrepare(msg PrepareMessage) (resp PromiseMessage, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if msg.Ballot.Less(a.highestBallot) {
		return PromiseMessage{}, false
	}

	a.highestBallot = msg.Ballot

	current, has := a.values[msg.Key]

	if msg.OldValue != nil {
		if !has || !bytes.Equal(current.Value, *msg.OldValue) {
			return PromiseMessage{}, false
		}
	}

	var currentPtr *VersionedValue
	if has {
		v := current
		currentPtr = &v
	}

	return PromiseMessage{
		Ballot:        msg.Ballot,
		Key:           msg.Key,
		CurrentValue:  currentPtr,
		HighestBallot: a.highestBallot,
	}, true
}

// HandleCommit processes a COMMIT message, overwriting the key's slot if
// the ballot is still valid (not superseded by a PREPARE this acceptor has
// since promised a higher ballot to).
func (a *Acceptor) HandleCommit(msg CommitMessage) AckMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	if msg.Ballot.Less(a.highestBallot) {
		return AckMessage{Ballot: msg.Ballot, Key: msg.Key, Success: false}
	}

	a.values[msg.Key] = VersionedValue{Ballot: msg.Ballot, Value: msg.Value, Committed: true}
	return AckMessage{Ballot: msg.Ballot, Key: msg.Key, Success: true}
}

// GetValue returns the committed value for key, if any.
func (a *Acceptor) GetValue(key string) (VersionedValue, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.values[key]
	if !ok || !v.Committed {
		return VersionedValue{}, false
	}
	return v, true
}
