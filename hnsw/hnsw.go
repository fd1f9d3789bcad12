// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate k-nearest-neighbor search over fixed-dimension float32
// vectors. Every public method that reads or changes the graph takes the
// index's single mutex: there is no
// per-shard or lock-free fast path, trading peak concurrency for a simple,
// obviously-correct implementation.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/vellumdb/vellum/queue"
)

// Node is one vector in the graph, addressed externally by Key.
type Node struct {
	Key        string
	Vector     []float32
	Offset     int64
	Level      int
	Neighbors  [][]uint32 // Neighbors[l] = internal ids of neighbors at level l
	Tombstoned bool
}

// SearchResult is one hit returned by Search.
type SearchResult struct {
	Key      string
	Distance float32
}

// Index is a single HNSW graph.
type Index struct {
	mu sync.Mutex

	dimension      int
	m              int
	mMax0          int
	efConstruction int
	ml             float64
	heuristic      bool
	distFunc       DistanceFunc

	nodes    []*Node
	keyToID  map[string]uint32
	entry    uint32
	hasEntry bool
}

// New creates an empty Index for vectors of the given dimension.
func New(dimension int, optFns ...func(*Options)) *Index {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < 1 {
		opts.M = 1
	}

	return &Index{
		dimension:      dimension,
		m:              opts.M,
		mMax0:          opts.M * 2,
		efConstruction: opts.EFConstruction,
		ml:             1.0 / math.Log(2.0),
		heuristic:      opts.Heuristic,
		distFunc:       distanceFuncFor(opts.DistanceMetric),
		keyToID:        make(map[string]uint32),
	}
}

// Dimension returns the vector dimension this index was created with.
func (idx *Index) Dimension() int {
	return idx.dimension
}

// Size returns the number of live (non-tombstoned) vectors.
func (idx *Index) Size() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := 0
	for _, node := range idx.nodes {
		if !node.Tombstoned {
			n++
		}
	}
	return n
}

func (idx *Index) randomLevel() int {
	r := rand.Float64()
	for r == 0 {
		r = rand.Float64()
	}
	return int(-math.Log(r) * idx.ml)
}

// Insert adds a new vector under key. It returns ErrDimensionMismatch if
// len(vector) != idx.Dimension(), and ErrKeyExists if key is already present
// (including tombstoned — Remove does not free a key for re-Insert; Upsert
// revives a tombstoned key in place).
func (idx *Index) Insert(key string, vector []float32, offset int64) error {
	if len(vector) != idx.dimension {
		return &ErrDimensionMismatch{Want: idx.dimension, Got: len(vector)}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.keyToID[key]; exists {
		return ErrKeyExists
	}

	level := idx.randomLevel()
	vec := make([]float32, len(vector))
	copy(vec, vector)

	id := uint32(len(idx.nodes))
	node := &Node{
		Key:       key,
		Vector:    vec,
		Offset:    offset,
		Level:     level,
		Neighbors: make([][]uint32, level+1),
	}
	idx.nodes = append(idx.nodes, node)
	idx.keyToID[key] = id

	if !idx.hasEntry {
		idx.entry = id
		idx.hasEntry = true
		return nil
	}

	entryNode := idx.nodes[idx.entry]
	curr := idx.entry

	for lc := entryNode.Level; lc > level; lc-- {
		curr = idx.greedyNearest(vec, curr, lc)
	}

	for lc := minInt(level, entryNode.Level); lc >= 0; lc-- {
		candidates := idx.searchLayer(vec, curr, idx.efConstruction, lc)
		maxConns := idx.m
		if lc == 0 {
			maxConns = idx.mMax0
		}
		neighbors := idx.selectNeighbors(candidates, vec, maxConns)

		node.Neighbors[lc] = neighbors
		for _, nbID := range neighbors {
			idx.link(nbID, id, lc, maxConns)
		}

		if len(candidates) > 0 {
			curr = candidates[0].Node
		}
	}

	if level > entryNode.Level {
		idx.entry = id
	}

	return nil
}

// link adds id as a neighbor of node nbID at level lc, pruning nbID's
// neighbor set back down to maxConns if it grows past capacity.
func (idx *Index) link(nbID, id uint32, lc, maxConns int) {
	nb := idx.nodes[nbID]
	if lc >= len(nb.Neighbors) {
		return
	}
	nb.Neighbors[lc] = append(nb.Neighbors[lc], id)

	if len(nb.Neighbors[lc]) > maxConns {
		candidates := make([]*queue.PriorityQueueItem, 0, len(nb.Neighbors[lc]))
		for _, n := range nb.Neighbors[lc] {
			d, _ := idx.distFunc(nb.Vector, idx.nodes[n].Vector)
			candidates = append(candidates, &queue.PriorityQueueItem{Node: n, Distance: d})
		}
		pruned := idx.selectNeighbors(candidates, nb.Vector, maxConns)
		nb.Neighbors[lc] = pruned
	}
}

// greedyNearest performs a single-path greedy descent from curr toward
// query at level lc (ef=1), used above the target insertion/search level.
func (idx *Index) greedyNearest(query []float32, curr uint32, lc int) uint32 {
	best := curr
	bestDist, _ := idx.distFunc(query, idx.nodes[best].Vector)

	changed := true
	for changed {
		changed = false
		node := idx.nodes[best]
		if lc >= len(node.Neighbors) {
			continue
		}
		for _, nbID := range node.Neighbors[lc] {
			d, _ := idx.distFunc(query, idx.nodes[nbID].Vector)
			if d < bestDist {
				bestDist = d
				best = nbID
				changed = true
			}
		}
	}
	return best
}

// searchLayer performs the HNSW best-first search at a single layer: a
// min-heap of candidates to explore and a max-heap of the best ef results
// seen so far, stopping once the nearest unexplored candidate is farther
// than the worst current result.
func (idx *Index) searchLayer(query []float32, entry uint32, ef int, lc int) []*queue.PriorityQueueItem {
	visited := bitset.New(uint(len(idx.nodes)))
	visited.Set(uint(entry))

	entryDist, _ := idx.distFunc(query, idx.nodes[entry].Vector)

	candidates := &queue.PriorityQueue{Order: false}
	results := &queue.PriorityQueue{Order: true}
	heap.Init(candidates)
	heap.Init(results)

	heap.Push(candidates, &queue.PriorityQueueItem{Node: entry, Distance: entryDist})
	if !idx.nodes[entry].Tombstoned {
		heap.Push(results, &queue.PriorityQueueItem{Node: entry, Distance: entryDist})
	}

	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(*queue.PriorityQueueItem)

		if results.Len() >= ef {
			worst := results.Top().(*queue.PriorityQueueItem)
			if current.Distance > worst.Distance {
				break
			}
		}

		node := idx.nodes[current.Node]
		if lc >= len(node.Neighbors) {
			continue
		}

		for _, nbID := range node.Neighbors[lc] {
			if visited.Test(uint(nbID)) {
				continue
			}
			visited.Set(uint(nbID))

			nb := idx.nodes[nbID]
			d, _ := idx.distFunc(query, nb.Vector)

			worstOK := results.Len() < ef
			if !worstOK {
				worst := results.Top().(*queue.PriorityQueueItem)
				worstOK = d < worst.Distance
			}
			if !worstOK {
				continue
			}

			heap.Push(candidates, &queue.PriorityQueueItem{Node: nbID, Distance: d})
			if !nb.Tombstoned {
				heap.Push(results, &queue.PriorityQueueItem{Node: nbID, Distance: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]*queue.PriorityQueueItem, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(*queue.PriorityQueueItem)
	}
	return out
}

// selectNeighbors reduces candidates to at most maxConns entries, either by
// plain nearest-M or, when the index was created with Heuristic enabled, by
// the diversity-preserving heuristic that also compares candidates against
// each other, not just against the query.
func (idx *Index) selectNeighbors(candidates []*queue.PriorityQueueItem, query []float32, maxConns int) []uint32 {
	live := make([]*queue.PriorityQueueItem, 0, len(candidates))
	for _, c := range candidates {
		if !idx.nodes[c.Node].Tombstoned {
			live = append(live, c)
		}
	}

	if idx.heuristic {
		return idx.selectNeighborsHeuristic(live, query, maxConns)
	}
	return idx.selectNeighborsSimple(live, maxConns)
}

func (idx *Index) selectNeighborsSimple(candidates []*queue.PriorityQueueItem, maxConns int) []uint32 {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
	if len(candidates) > maxConns {
		candidates = candidates[:maxConns]
	}
	out := make([]uint32, len(candidates))
	for i, c := range candidates {
		out[i] = c.Node
	}
	return out
}

// selectNeighborsHeuristic admits a candidate only if it is closer to the
// query than to every neighbor already selected, preserving directional
// diversity instead of always taking the M closest points. If fewer than
// maxConns candidates pass that test, the remaining slots are filled with
// the closest rejected candidates.
func (idx *Index) selectNeighborsHeuristic(candidates []*queue.PriorityQueueItem, query []float32, maxConns int) []uint32 {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })

	var selected []uint32
	for _, c := range candidates {
		if len(selected) >= maxConns {
			break
		}
		admit := true
		for _, s := range selected {
			d, _ := idx.distFunc(idx.nodes[c.Node].Vector, idx.nodes[s].Vector)
			if d < c.Distance {
				admit = false
				break
			}
		}
		if admit {
			selected = append(selected, c.Node)
		}
	}

	if len(selected) < maxConns {
		for _, c := range candidates {
			if len(selected) >= maxConns {
				break
			}
			if !containsID(selected, c.Node) {
				selected = append(selected, c.Node)
			}
		}
	}

	return selected
}

func containsID(ids []uint32, id uint32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Search returns up to k nearest neighbors of query, using efSearch as the
// layer-0 candidate list size (efSearch is raised to k if smaller).
func (idx *Index) Search(query []float32, k int, efSearch int) ([]SearchResult, error) {
	if len(query) != idx.dimension {
		return nil, &ErrDimensionMismatch{Want: idx.dimension, Got: len(query)}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.hasEntry {
		return nil, nil
	}
	if efSearch < k {
		efSearch = k
	}

	entryNode := idx.nodes[idx.entry]
	curr := idx.entry

	for lc := entryNode.Level; lc > 0; lc-- {
		curr = idx.greedyNearest(query, curr, lc)
	}

	candidates := idx.searchLayer(query, curr, efSearch, 0)

	results := make([]SearchResult, 0, k)
	for i := 0; i < len(candidates) && len(results) < k; i++ {
		node := idx.nodes[candidates[i].Node]
		if node.Tombstoned {
			continue
		}
		results = append(results, SearchResult{Key: node.Key, Distance: candidates[i].Distance})
	}
	return results, nil
}

// Get returns the vector and log offset stored for key.
func (idx *Index) Get(key string) (vector []float32, offset int64, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	id, exists := idx.keyToID[key]
	if !exists {
		return nil, 0, false
	}
	node := idx.nodes[id]
	if node.Tombstoned {
		return nil, 0, false
	}
	return node.Vector, node.Offset, true
}

// Remove tombstones key. The node is never physically removed, so existing
// neighbor lists referencing it remain structurally valid; search and
// selection both skip tombstoned nodes.
func (idx *Index) Remove(key string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	id, exists := idx.keyToID[key]
	if !exists {
		return false
	}
	idx.nodes[id].Tombstoned = true
	return true
}

// Upsert inserts a fresh key, or, if key already has an entry (live or
// tombstoned), updates its vector and offset and clears any tombstone in
// place. An in-place update does not re-run neighbor selection — the node
// keeps whatever edges it had, which can leave them a poorer fit for the
// new vector until the node is naturally revisited by later inserts. Fresh
// keys get the full insertion algorithm and gain properly selected edges.
func (idx *Index) Upsert(key string, vector []float32, offset int64) error {
	if len(vector) != idx.dimension {
		return &ErrDimensionMismatch{Want: idx.dimension, Got: len(vector)}
	}

	idx.mu.Lock()
	id, exists := idx.keyToID[key]
	if !exists {
		idx.mu.Unlock()
		return idx.Insert(key, vector, offset)
	}
	defer idx.mu.Unlock()

	node := idx.nodes[id]
	vec := make([]float32, len(vector))
	copy(vec, vector)
	node.Vector = vec
	node.Offset = offset
	node.Tombstoned = false
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
