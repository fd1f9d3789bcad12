package paxos

// Ballot is a (epoch, node_id) pair, totally ordered lexicographically by
// epoch then node id. A node only ever issues ballots carrying its own
// node id, so two distinct nodes never produce equal ballots, and a single
// node's successive ballots strictly increase in epoch.
type Ballot struct {
	Epoch  uint64 `json:"epoch"`
	NodeID uint32 `json:"node_id"`
}

// Less reports whether b sorts before o.
func (b Ballot) Less(o Ballot) bool {
	if b.Epoch != o.Epoch {
		return b.Epoch < o.Epoch
	}
	return b.NodeID < o.NodeID
}

// Greater reports whether b sorts after o.
func (b Ballot) Greater(o Ballot) bool { return o.Less(b) }

// LessEq reports whether b sorts before or equal to o.
func (b Ballot) LessEq(o Ballot) bool { return b == o || b.Less(o) }

// GreaterEq reports whether b sorts after or equal to o.
func (b Ballot) GreaterEq(o Ballot) bool { return b == o || b.Greater(o) }
