package paxos

import "errors"

// ErrNoQuorum is returned by Cas (together with false) when fewer than a
// quorum of acceptors promised in phase 1 or acknowledged in phase 2.
var ErrNoQuorum = errors.New("paxos: quorum not reached")
