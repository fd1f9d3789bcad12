package paxos

import "sync"

// Proposer issues strictly increasing ballots for one node.
type Proposer struct {
	mu     sync.Mutex
	nodeID uint32
	epoch  uint64
}

// NewProposer creates a Proposer starting at epoch 1, matching the
// original's convention that epoch 0 is never proposed (it is reserved as
// the "no ballot seen yet" sentinel).
func NewProposer(nodeID uint32) *Proposer {
	return &Proposer{nodeID: nodeID, epoch: 1}
}

// NextBallot returns the next ballot this proposer should use and advances
// its epoch counter.
func (p *Proposer) NextBallot() Ballot {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := Ballot{Epoch: p.epoch, NodeID: p.nodeID}
	p.epoch++
	return b
}

// UpdateBallot bumps the proposer's epoch past ballot if ballot's epoch is
// at or beyond the proposer's current epoch, so the next NextBallot call
// strictly exceeds any ballot this node has observed.
func (p *Proposer) UpdateBallot(ballot Ballot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ballot.Epoch >= p.epoch {
		p.epoch = ballot.Epoch + 1
	}
}
