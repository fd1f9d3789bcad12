package paxos

import "testing"

func TestBallotOrderingByEpochThenNode(t *testing.T) {
	low := Ballot{Epoch: 1, NodeID: 5}
	high := Ballot{Epoch: 2, NodeID: 1}

	if !low.Less(high) {
		t.Fatalf("expected %+v to be less than %+v", low, high)
	}

	a := Ballot{Epoch: 3, NodeID: 1}
	b := Ballot{Epoch: 3, NodeID: 2}
	if !a.Less(b) {
		t.Fatalf("expected tie-break on NodeID: %+v should be less than %+v", a, b)
	}

	if !a.LessEq(a) {
		t.Fatalf("a ballot must be LessEq to itself")
	}
	if a.Greater(a) {
		t.Fatalf("a ballot must not be Greater than itself")
	}
}
