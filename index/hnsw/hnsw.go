// Package hnsw implements the Hierarchical Navigable Small World graph for
// approximate nearest neighbor search over cosine similarity.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/tiermem/index"
	"github.com/hupe1980/tiermem/metric"
	"github.com/hupe1980/tiermem/queue"
)

// Compile-time check
var _ index.Index = (*HNSW)(nil)

// Options represents the options for configuring HNSW.
type Options struct {
	// M specifies the number of established connections for every new
	// element during construction. The range M=12-48 works for most use
	// cases; small dimensionality tolerates smaller M.
	M int

	// EF specifies the size of the dynamic candidate list during search.
	// Larger EF improves recall at the cost of search time.
	EF int

	// Heuristic selects the neighbour-selection heuristic from the HNSW
	// paper instead of naive nearest-M.
	Heuristic bool

	// RandomSeed fixes the level generator for deterministic graphs.
	// Nil seeds from entropy.
	RandomSeed *int64
}

// DefaultOptions holds the default HNSW parameters.
var DefaultOptions = Options{
	M:         16,
	EF:        200,
	Heuristic: true,
}

type node struct {
	connections [][]uint32
	vector      []float32 // normalized
	level       int
}

// HNSW represents the Hierarchical Navigable Small World graph.
//
// Vectors are normalized on insert, so the graph distance is the cosine
// distance 1 - dot(a, b). Callers may therefore submit unnormalized vectors.
//
// Concurrency: unlimited concurrent readers (Search/Contains/Len) or one
// exclusive writer (Insert/Remove/Clear).
type HNSW struct {
	mu sync.RWMutex

	dimension int
	mmax      int     // max connections per element per layer
	mmax0     int     // max for layer 0
	ml        float64 // normalization factor for level generation
	ep        uint32  // entry point
	maxLevel  int

	nodes []*node

	byID  map[string]uint32
	extID []string        // internal id -> external id
	dead  *roaring.Bitmap // tombstoned internal ids
	rng   *rand.Rand
	opts  Options
}

// New creates a new HNSW index for vectors of the given dimension.
func New(dimension int, optFns ...func(o *Options)) *HNSW {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would make the level multiplier divide by zero
		opts.M = 2
	}
	if opts.EF < 1 {
		opts.EF = DefaultOptions.EF
	}

	var rng *rand.Rand
	if opts.RandomSeed != nil {
		rng = rand.New(rand.NewSource(*opts.RandomSeed)) //nolint:gosec // graph layout, not crypto
	} else {
		rng = rand.New(rand.NewSource(int64(rand.Uint64()))) //nolint:gosec
	}

	h := &HNSW{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(float64(opts.M)),
		opts:      opts,
		rng:       rng,
	}
	h.reset()

	return h
}

// reset re-creates the sentinel entry node. Caller must hold the write lock
// (or be the constructor).
func (h *HNSW) reset() {
	h.ep = 0
	h.maxLevel = 0
	h.nodes = []*node{{
		vector:      make([]float32, h.dimension),
		level:       0,
		connections: make([][]uint32, 1),
	}}
	h.byID = make(map[string]uint32)
	h.extID = []string{""}
	h.dead = roaring.New()
	h.dead.Add(0) // sentinel never surfaces in results
}

func dist(a, b []float32) float32 {
	return 1 - metric.Dot(a, b)
}

// Dimension returns the configured vector dimension.
func (h *HNSW) Dimension() int { return h.dimension }

// Len returns the number of live entries.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.byID)
}

// Contains reports whether the id is present and live.
func (h *HNSW) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.byID[id]
	return ok
}

// Clear removes all entries.
func (h *HNSW) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reset()
}

// Insert adds a vector under the given id. Inserting an existing id replaces
// its vector (remove + re-insert).
func (h *HNSW) Insert(id string, vector []float32) error {
	if len(vector) != h.dimension {
		return &index.ErrDimensionMismatch{Expected: h.dimension, Actual: len(vector)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.insertLocked(id, vector)
}

// InsertBatch adds many entries under a single writer lock.
func (h *HNSW) InsertBatch(entries []index.Entry) error {
	for _, e := range entries {
		if len(e.Vector) != h.dimension {
			return &index.ErrDimensionMismatch{Expected: h.dimension, Actual: len(e.Vector)}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range entries {
		if err := h.insertLocked(e.ID, e.Vector); err != nil {
			return err
		}
	}

	return nil
}

func (h *HNSW) insertLocked(id string, vector []float32) error {
	if prev, ok := h.byID[id]; ok {
		h.tombstoneLocked(prev)
	}

	v := metric.Normalize(vector)

	internal := uint32(len(h.nodes))
	level := int(math.Floor(-math.Log(h.rng.Float64()) * h.ml))

	n := &node{
		vector:      v,
		level:       level,
		connections: make([][]uint32, level+1),
	}

	// Greedy descent from the entry point down to the node's top level.
	currObj := h.nodes[h.ep]
	currID := h.ep
	currDist := dist(currObj.vector, v)

	for lvl := currObj.level; lvl > level; lvl-- {
		changed := true
		for changed {
			changed = false
			if lvl < len(currObj.connections) {
				for _, cand := range currObj.connections[lvl] {
					d := dist(h.nodes[cand].vector, v)
					if d < currDist {
						currObj = h.nodes[cand]
						currID = cand
						currDist = d
						changed = true
					}
				}
			}
		}
	}

	// For all levels at and below the node's level, link the closest candidates.
	for lvl := min(level, h.maxLevel); lvl >= 0; lvl-- {
		topCandidates := &queue.PriorityQueue{}
		h.searchLayer(v, &queue.Item{Node: currID, Distance: currDist}, topCandidates, h.opts.EF, lvl)

		if h.opts.Heuristic {
			h.selectNeighboursHeuristic(topCandidates, h.opts.M, false)
		} else {
			h.selectNeighboursSimple(topCandidates, h.opts.M)
		}

		n.connections[lvl] = make([]uint32, topCandidates.Len())
		for i := topCandidates.Len() - 1; i >= 0; i-- {
			item, _ := heap.Pop(topCandidates).(*queue.Item)
			n.connections[lvl][i] = item.Node
		}
	}

	h.nodes = append(h.nodes, n)
	h.byID[id] = internal
	h.extID = append(h.extID, id)

	// Backlink neighbours so the node becomes reachable.
	for lvl := min(level, h.maxLevel); lvl >= 0; lvl-- {
		for _, neighbour := range n.connections[lvl] {
			h.link(neighbour, internal, lvl)
		}
	}

	if level > h.maxLevel {
		h.ep = internal
		h.maxLevel = level
	}

	return nil
}

// Remove deletes an id from the index. The node stays in the graph as a
// traversal waypoint but is excluded from results and counts.
func (h *HNSW) Remove(id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	internal, ok := h.byID[id]
	if !ok {
		return false, nil
	}
	h.tombstoneLocked(internal)

	return true, nil
}

func (h *HNSW) tombstoneLocked(internal uint32) {
	h.dead.Add(internal)
	delete(h.byID, h.extID[internal])
	h.extID[internal] = ""
}

// Search returns up to k entries ordered by descending cosine similarity.
func (h *HNSW) Search(query []float32, k int) ([]index.SearchResult, error) {
	if k < 1 {
		return nil, index.ErrInvalidK
	}
	if len(query) != h.dimension {
		return nil, &index.ErrDimensionMismatch{Expected: h.dimension, Actual: len(query)}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.byID) == 0 {
		return []index.SearchResult{}, nil
	}

	q := metric.Normalize(query)

	// Greedy descent through the upper layers.
	currID := h.ep
	currDist := dist(h.nodes[currID].vector, q)

	for lvl := h.maxLevel; lvl > 0; lvl-- {
		changed := true
		for changed {
			changed = false
			currObj := h.nodes[currID]
			if lvl < len(currObj.connections) {
				for _, cand := range currObj.connections[lvl] {
					d := dist(h.nodes[cand].vector, q)
					if d < currDist {
						currID = cand
						currDist = d
						changed = true
					}
				}
			}
		}
	}

	ef := max(h.opts.EF, k+int(h.dead.GetCardinality()))

	topCandidates := &queue.PriorityQueue{}
	h.searchLayer(q, &queue.Item{Node: currID, Distance: currDist}, topCandidates, ef, 0)

	// Drain max-heap: farthest pops first, so fill results back to front,
	// skipping tombstones.
	ordered := make([]*queue.Item, 0, topCandidates.Len())
	for topCandidates.Len() > 0 {
		item, _ := heap.Pop(topCandidates).(*queue.Item)
		ordered = append(ordered, item)
	}

	results := make([]index.SearchResult, 0, k)
	for i := len(ordered) - 1; i >= 0 && len(results) < k; i-- {
		item := ordered[i]
		if h.dead.Contains(item.Node) {
			continue
		}
		results = append(results, index.SearchResult{
			ID:         h.extID[item.Node],
			Similarity: 1 - item.Distance,
		})
	}

	return results, nil
}

// link adds a connection first -> second at the given level, pruning back to
// the connection budget when exceeded.
func (h *HNSW) link(first, second uint32, level int) {
	maxConnections := h.mmax
	// HNSW allows double the connections on the bottom layer
	if level == 0 {
		maxConnections = h.mmax0
	}

	n := h.nodes[first]
	if level >= len(n.connections) {
		return
	}
	n.connections[level] = append(n.connections[level], second)

	if len(n.connections[level]) <= maxConnections {
		return
	}

	topCandidates := &queue.PriorityQueue{}
	heap.Init(topCandidates)

	for _, id := range n.connections[level] {
		heap.Push(topCandidates, &queue.Item{Node: id, Distance: dist(n.vector, h.nodes[id].vector)})
	}

	if h.opts.Heuristic {
		h.selectNeighboursHeuristic(topCandidates, maxConnections, true)
	} else {
		h.selectNeighboursSimple(topCandidates, maxConnections)
	}

	n.connections[level] = make([]uint32, maxConnections)
	for i := maxConnections - 1; i >= 0; i-- {
		item, _ := heap.Pop(topCandidates).(*queue.Item)
		n.connections[level][i] = item.Node
	}
}

// searchLayer performs a best-first search in one layer of the graph.
func (h *HNSW) searchLayer(q []float32, ep *queue.Item, topCandidates *queue.PriorityQueue, ef, level int) {
	visited := roaring.New()
	visited.Add(ep.Node)

	candidates := &queue.PriorityQueue{}
	heap.Init(candidates)
	heap.Push(candidates, ep)

	topCandidates.Order = true // max-heap
	heap.Init(topCandidates)
	heap.Push(topCandidates, &queue.Item{Node: ep.Node, Distance: ep.Distance})

	for candidates.Len() > 0 {
		lowerBound := topCandidates.Top().(*queue.Item).Distance

		candidate, _ := heap.Pop(candidates).(*queue.Item)
		if candidate.Distance > lowerBound {
			break
		}

		n := h.nodes[candidate.Node]
		if level >= len(n.connections) {
			continue
		}

		for _, neighbour := range n.connections[level] {
			if visited.Contains(neighbour) {
				continue
			}
			visited.Add(neighbour)

			d := dist(q, h.nodes[neighbour].vector)
			topDistance := topCandidates.Top().(*queue.Item).Distance

			item := &queue.Item{Node: neighbour, Distance: d}

			if topCandidates.Len() < ef {
				heap.Push(topCandidates, item)
				heap.Push(candidates, &queue.Item{Node: neighbour, Distance: d})
			} else if topDistance > d {
				heap.Pop(topCandidates)
				heap.Push(topCandidates, item)
				heap.Push(candidates, &queue.Item{Node: neighbour, Distance: d})
			}
		}
	}
}

// selectNeighboursSimple keeps the M nearest candidates.
func (h *HNSW) selectNeighboursSimple(topCandidates *queue.PriorityQueue, m int) {
	for topCandidates.Len() > m {
		_ = heap.Pop(topCandidates)
	}
}

// selectNeighboursHeuristic keeps candidates that are closer to the base
// point than to any already selected candidate, which preserves graph
// connectivity across clusters.
func (h *HNSW) selectNeighboursHeuristic(topCandidates *queue.PriorityQueue, m int, order bool) {
	if topCandidates.Len() < m {
		return
	}

	newCandidates := &queue.PriorityQueue{}
	tmpCandidates := &queue.PriorityQueue{Order: order}
	heap.Init(tmpCandidates)

	items := make([]*queue.Item, 0, m)

	if !order {
		newCandidates.Order = order
		heap.Init(newCandidates)

		for topCandidates.Len() > 0 {
			item, _ := heap.Pop(topCandidates).(*queue.Item)
			heap.Push(newCandidates, item)
		}
	} else {
		newCandidates = topCandidates
	}

	for newCandidates.Len() > 0 {
		if len(items) >= m {
			break
		}

		item, _ := heap.Pop(newCandidates).(*queue.Item)
		hit := true

		for _, v := range items {
			if dist(h.nodes[v.Node].vector, h.nodes[item.Node].vector) < item.Distance {
				hit = false
				break
			}
		}

		if hit {
			items = append(items, item)
		} else {
			heap.Push(tmpCandidates, item)
		}
	}

	for len(items) < m && tmpCandidates.Len() > 0 {
		item, _ := heap.Pop(tmpCandidates).(*queue.Item)
		items = append(items, item)
	}

	for _, item := range items {
		heap.Push(topCandidates, item)
	}
}
