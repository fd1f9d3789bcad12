package hnsw

import "github.com/vellumdb/vellum/metric"

// DistanceFunc computes the distance between two equal-length vectors.
type DistanceFunc func(v1, v2 []float32) (float32, error)

// Metric names the supported distance metrics.
type Metric int

const (
	// Euclidean is plain (non-squared) L2 distance.
	Euclidean Metric = iota
	// Cosine is 1 - cosine similarity; a zero-magnitude vector is
	// maximally distant (1.0) from anything.
	Cosine
)

// distanceFuncFor resolves a Metric to its DistanceFunc.
func distanceFuncFor(m Metric) DistanceFunc {
	switch m {
	case Cosine:
		return metric.Cosine
	default:
		return metric.Euclidean
	}
}

// Options configures a new Index.
type Options struct {
	// M is the target number of bidirectional connections per node at
	// levels above 0.
	M int
	// EFConstruction is the dynamic candidate list size used while
	// inserting.
	EFConstruction int
	// EFSearch is accepted here but not read by Index: Search always uses
	// the efSearch argument it is given, raised to k when smaller.
	EFSearch int
	// Heuristic selects the diversity-aware neighbor-selection heuristic
	// instead of plain nearest-M when pruning a node's neighbor set.
	Heuristic bool
	// DistanceMetric selects Euclidean or Cosine distance.
	DistanceMetric Metric
}

// DefaultOptions mirrors the original store's defaults (M=16,
// ef_construction=200, Euclidean distance), plus an ef_search default.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EFSearch:       50,
	Heuristic:      false,
	DistanceMetric: Euclidean,
}
