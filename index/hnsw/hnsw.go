// Package hnsw implements a Hierarchical Navigable Small World graph keyed by
// stable document keys.
//
// Entries are addressed by model.Key rather than by insertion order, so
// re-adding a key upserts: the old graph position is tombstoned and the new
// vector gets a fresh position. Tombstoned positions stay in the graph as
// routing waypoints but never appear in results.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/tesseradb/tessera/metric"
	"github.com/tesseradb/tessera/model"
)

// node represents a node in the HNSW graph.
type node struct {
	Connections [][]uint32 // Links to other node positions
	Vector      []float32  // Vector (X dimensions)
	Layer       int        // Layer the node exists in the HNSW tree
}

// Options represents the options for configuring the graph.
type Options struct {
	// M specifies the number of established connections for every new element
	// during construction. The range M=12-48 works for most use cases.
	M int

	// EFConstruction specifies the size of the dynamic candidate list during
	// construction. Larger values improve graph quality at build cost.
	EFConstruction int

	// EFSearch specifies the size of the dynamic candidate list during search.
	// Larger values improve recall at the cost of increased search time.
	EFSearch int

	// Heuristic indicates whether to use the heuristic neighbour selection
	// (true) or the naive nearest-M selection (false).
	Heuristic bool

	// Metric names the distance function ("l2" or "cosine").
	// The name is persisted with the graph.
	Metric string

	// MaxElements caps the number of live elements. Zero means unlimited.
	MaxElements int
}

// DefaultOptions mirror the construction parameters the ingest path was tuned
// with.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EFSearch:       50,
	Heuristic:      true,
	Metric:         "l2",
	MaxElements:    0,
}

// SearchResult is a single nearest-neighbour hit.
type SearchResult struct {
	Key      model.Key
	Distance float32
}

// Index is a keyed HNSW graph. It is safe for concurrent use: searches take a
// read lock, mutations take the write lock.
type Index struct {
	dimension int
	mmax      int     // Max number of connections per element/per layer
	mmax0     int     // Max for the 0 layer
	ml        float64 // Normalization factor for level generation
	ep        uint32  // Entry point position
	maxLevel  int     // Current max level in use

	nodes []*node
	keys  []model.Key // parallel to nodes; keys[0] is the sentinel
	byKey map[model.Key]uint32
	dead  *roaring.Bitmap // tombstoned positions, including the sentinel

	distFn metric.DistanceFunc
	opts   Options

	mutex sync.RWMutex
}

// New creates a new Index with the given dimension and options.
func New(dimension int, optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M <= 1 {
		// M == 1 would result in division by zero in the level normalizer
		opts.M = 2
	}

	distFn, ok := metric.ByName(opts.Metric)
	if !ok {
		return nil, &ErrUnknownMetric{Metric: opts.Metric}
	}

	dead := roaring.New()
	dead.Add(0) // position 0 is a routing sentinel, never a result

	return &Index{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ep:        0,
		maxLevel:  0,
		ml:        1 / math.Log(1.0*float64(opts.M)),
		nodes:     []*node{{Layer: 0, Vector: make([]float32, dimension), Connections: make([][]uint32, 2*opts.M+1)}},
		keys:      []model.Key{0},
		byKey:     make(map[model.Key]uint32),
		dead:      dead,
		distFn:    distFn,
		opts:      opts,
	}, nil
}

// Dimension returns the configured vector dimension.
func (h *Index) Dimension() int {
	return h.dimension
}

// Metric returns the name of the configured distance metric.
func (h *Index) Metric() string {
	return h.opts.Metric
}

// Len returns the number of live elements.
func (h *Index) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.lenLocked()
}

func (h *Index) lenLocked() int {
	return len(h.nodes) - int(h.dead.GetCardinality())
}

// Contains reports whether key has a live entry.
func (h *Index) Contains(key model.Key) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	pos, ok := h.byKey[key]
	return ok && !h.dead.Contains(pos)
}

// Keys returns all live keys in no particular order.
func (h *Index) Keys() []model.Key {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	keys := make([]model.Key, 0, h.lenLocked())
	for pos, key := range h.keys {
		if !h.dead.Contains(uint32(pos)) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Add inserts or replaces the vector for key.
//
// Replacing tombstones the old position; the graph only ever grows. Returns
// *ErrCapacityExceeded when a configured element limit would be crossed by a
// genuinely new key.
func (h *Index) Add(key model.Key, v []float32) error {
	if len(v) != h.dimension {
		return &ErrDimensionMismatch{Expected: h.dimension, Actual: len(v)}
	}

	// Make a copy of the vector to ensure changes outside this function don't
	// affect the node
	vectorCopy := make([]float32, len(v))
	copy(vectorCopy, v)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	old, replacing := h.byKey[key]
	replacing = replacing && !h.dead.Contains(old)

	if !replacing && h.opts.MaxElements > 0 && h.lenLocked() >= h.opts.MaxElements {
		return &ErrCapacityExceeded{Capacity: h.opts.MaxElements}
	}

	pos, err := h.insertLocked(vectorCopy)
	if err != nil {
		return err
	}

	if replacing {
		h.dead.Add(old)
	}
	h.byKey[key] = pos
	h.keys = append(h.keys, key)

	return nil
}

// Delete tombstones the entry for key. It reports whether a live entry was
// removed. The vector stays in the graph as a routing waypoint; space is only
// reclaimed by rebuilding the graph.
func (h *Index) Delete(key model.Key) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	pos, ok := h.byKey[key]
	if !ok || h.dead.Contains(pos) {
		return false
	}
	h.dead.Add(pos)
	delete(h.byKey, key)
	return true
}

// insertLocked appends a new graph node and wires its connections.
func (h *Index) insertLocked(vector []float32) (uint32, error) {
	pos := uint32(len(h.nodes))

	newNode := &node{
		Vector:      vector,
		Layer:       int(math.Floor(-math.Log(rand.Float64()) * h.ml)), //nolint:gosec
		Connections: make([][]uint32, h.mmax+1),
	}

	// Find single shortest path from top layers above our new node, which will
	// be our starting-point
	currPos, currDist, err := h.findShortestPath(newNode)
	if err != nil {
		return 0, err
	}

	topCandidates := &priorityQueue{
		Order: false,
	}

	// For all levels equal and below our new node, find the top (closest)
	// candidates and create a link
	for level := min(newNode.Layer, h.maxLevel); level >= 0; level-- {
		err = h.searchLayer(vector, &queueItem{Distance: currDist, Position: currPos}, topCandidates, h.opts.EFConstruction, level)
		if err != nil {
			return 0, err
		}

		// Naive k-NN or heuristic selection for linking nearest neighbours
		if h.opts.Heuristic {
			if err := h.selectNeighboursHeuristic(topCandidates, h.opts.M, false); err != nil {
				return 0, err
			}
		} else {
			h.selectNeighboursSimple(topCandidates, h.opts.M)
		}

		newNode.Connections[level] = make([]uint32, topCandidates.Len())

		for i := topCandidates.Len() - 1; i >= 0; i-- {
			candidate, _ := heap.Pop(topCandidates).(*queueItem)
			newNode.Connections[level][i] = candidate.Position
		}
	}

	h.nodes = append(h.nodes, newNode)

	// Next link the neighbour nodes to our new node, making it visible
	for level := min(newNode.Layer, h.maxLevel); level >= 0; level-- {
		for _, neighbour := range newNode.Connections[level] {
			if err := h.link(neighbour, pos, level); err != nil {
				return 0, err
			}
		}
	}

	if newNode.Layer > h.maxLevel {
		h.ep = pos
		h.maxLevel = newNode.Layer
	}

	return pos, nil
}

func (h *Index) findShortestPath(n *node) (uint32, float32, error) {
	currPos := h.ep
	currObj := h.nodes[currPos]

	currDist, err := h.distFn(currObj.Vector, n.Vector)
	if err != nil {
		return 0, 0, err
	}

	for level := currObj.Layer; level > n.Layer; level-- {
		changed := true
		for changed {
			changed = false

			for _, candidate := range currObj.Connections[level] {
				newObj := h.nodes[candidate]

				newDist, err := h.distFn(newObj.Vector, n.Vector)
				if err != nil {
					return 0, 0, err
				}

				if newDist < currDist {
					// Update the starting point to our new node
					currPos = candidate
					currObj = newObj
					currDist = newDist
					changed = true
				}
			}
		}
	}

	return currPos, currDist, nil
}

// Search performs a k-nearest neighbour search and returns up to k live hits
// ordered by ascending distance. Searching an empty graph returns no hits and
// no error.
func (h *Index) Search(q []float32, k int) ([]SearchResult, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.lenLocked() == 0 || k <= 0 {
		return nil, nil
	}

	// Tombstones are filtered after the fact, so search wider than k.
	ef := h.opts.EFSearch
	if ef < 2*k {
		ef = 2 * k
	}

	currObj := h.nodes[h.ep]

	epPos, currDist, err := h.findEp(q, currObj)
	if err != nil {
		return nil, err
	}

	topCandidates := &priorityQueue{
		Order: true,
	}
	heap.Init(topCandidates)

	if err := h.searchLayer(q, &queueItem{Distance: currDist, Position: epPos}, topCandidates, ef, 0); err != nil {
		return nil, err
	}

	// Max-heap pops worst first; collect and reverse into ascending order.
	ordered := make([]*queueItem, 0, topCandidates.Len())
	for topCandidates.Len() > 0 {
		item, _ := heap.Pop(topCandidates).(*queueItem)
		if h.dead.Contains(item.Position) {
			continue
		}
		ordered = append(ordered, item)
	}

	results := make([]SearchResult, 0, min(k, len(ordered)))
	for i := len(ordered) - 1; i >= 0 && len(results) < k; i-- {
		item := ordered[i]
		results = append(results, SearchResult{
			Key:      h.keys[item.Position],
			Distance: item.Distance,
		})
	}

	return results, nil
}

// BruteSearch performs an exact search over all live elements.
func (h *Index) BruteSearch(q []float32, k int) ([]SearchResult, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	topCandidates := &priorityQueue{
		Order: true,
	}
	heap.Init(topCandidates)

	for pos, n := range h.nodes {
		if h.dead.Contains(uint32(pos)) {
			continue
		}

		nodeDist, err := h.distFn(q, n.Vector)
		if err != nil {
			return nil, err
		}

		if topCandidates.Len() < k {
			heap.Push(topCandidates, &queueItem{Position: uint32(pos), Distance: nodeDist})
			continue
		}

		largestDist, _ := topCandidates.Top().(*queueItem)
		if nodeDist < largestDist.Distance {
			heap.Pop(topCandidates)
			heap.Push(topCandidates, &queueItem{Position: uint32(pos), Distance: nodeDist})
		}
	}

	results := make([]SearchResult, topCandidates.Len())
	for i := topCandidates.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(topCandidates).(*queueItem)
		results[i] = SearchResult{Key: h.keys[item.Position], Distance: item.Distance}
	}
	return results, nil
}

// link adds a connection between nodes, pruning back to the per-level budget.
func (h *Index) link(first, second uint32, level int) error {
	maxConnections := h.mmax
	// HNSW allows double the connections for the bottom level (0)
	if level == 0 {
		maxConnections = h.mmax0
	}

	n := h.nodes[first]
	n.Connections[level] = append(n.Connections[level], second)

	if len(n.Connections[level]) > maxConnections {
		topCandidates := &priorityQueue{
			Order: false,
		}
		heap.Init(topCandidates)

		for _, pos := range n.Connections[level] {
			distance, err := h.distFn(n.Vector, h.nodes[pos].Vector)
			if err != nil {
				return err
			}
			heap.Push(topCandidates, &queueItem{Position: pos, Distance: distance})
		}

		if h.opts.Heuristic {
			if err := h.selectNeighboursHeuristic(topCandidates, maxConnections, true); err != nil {
				return err
			}
		} else {
			h.selectNeighboursSimple(topCandidates, maxConnections)
		}

		// Reorder our connected nodes with the improved lower distances
		n.Connections[level] = make([]uint32, maxConnections)

		// Order by best performing match (index 0) .. lowest
		for i := maxConnections - 1; i >= 0; i-- {
			item, _ := heap.Pop(topCandidates).(*queueItem)
			n.Connections[level][i] = item.Position
		}
	}

	return nil
}

// searchLayer performs a search in a specified layer of the graph.
func (h *Index) searchLayer(q []float32, ep *queueItem, topCandidates *priorityQueue, ef int, level int) error {
	var visited bitset.BitSet

	visited.Set(uint(ep.Position))

	candidates := &priorityQueue{
		Order: false,
	}
	heap.Init(candidates)
	heap.Push(candidates, ep)

	topCandidates.Order = true // max-heap
	heap.Init(topCandidates)
	heap.Push(topCandidates, ep)

	for candidates.Len() > 0 {
		lowerBound := topCandidates.Top().(*queueItem).Distance

		candidate, _ := heap.Pop(candidates).(*queueItem)
		if candidate.Distance > lowerBound {
			break
		}

		n := h.nodes[candidate.Position]

		if len(n.Connections) > level {
			for _, neighbour := range n.Connections[level] {
				if visited.Test(uint(neighbour)) {
					continue
				}
				visited.Set(uint(neighbour))

				distance, err := h.distFn(q, h.nodes[neighbour].Vector)
				if err != nil {
					return err
				}

				topDistance := topCandidates.Top().(*queueItem).Distance

				item := &queueItem{
					Distance: distance,
					Position: neighbour,
				}

				// Add the element to topCandidates if size < ef
				if topCandidates.Len() < ef {
					heap.Push(topCandidates, item)
					heap.Push(candidates, item)
				} else if topDistance > distance {
					heap.Pop(topCandidates)
					heap.Push(topCandidates, item)
					heap.Push(candidates, item)
				}
			}
		}
	}

	return nil
}

// selectNeighboursSimple keeps the nearest M candidates.
func (h *Index) selectNeighboursSimple(topCandidates *priorityQueue, M int) {
	for topCandidates.Len() > M {
		_ = heap.Pop(topCandidates)
	}
}

// selectNeighboursHeuristic selects diverse neighbours, preferring candidates
// that are closer to the new node than to any already selected neighbour.
func (h *Index) selectNeighboursHeuristic(topCandidates *priorityQueue, M int, order bool) error {
	if topCandidates.Len() < M {
		return nil
	}

	newCandidates := &priorityQueue{}

	tmpCandidates := &priorityQueue{Order: order}
	heap.Init(tmpCandidates)

	items := make([]*queueItem, 0, M)

	if !order {
		newCandidates.Order = order
		heap.Init(newCandidates)

		for topCandidates.Len() > 0 {
			item, _ := heap.Pop(topCandidates).(*queueItem)
			heap.Push(newCandidates, item)
		}
	} else {
		newCandidates = topCandidates
	}

	for newCandidates.Len() > 0 {
		if len(items) >= M {
			break
		}

		item, _ := heap.Pop(newCandidates).(*queueItem)
		hit := true

		// Keep the candidate only if it is closer to the new node than to every
		// already selected neighbour
		for _, v := range items {
			distance, err := h.distFn(h.nodes[v.Position].Vector, h.nodes[item.Position].Vector)
			if err != nil {
				return err
			}
			if distance < item.Distance {
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

	// Backfill from the rejected candidates if selection fell short of M
	for len(items) < M && tmpCandidates.Len() > 0 {
		item, _ := heap.Pop(tmpCandidates).(*queueItem)
		items = append(items, item)
	}

	for _, item := range items {
		heap.Push(topCandidates, item)
	}

	return nil
}

// findEp finds the entry-point for a layer-0 search.
func (h *Index) findEp(q []float32, currObj *node) (uint32, float32, error) {
	currDist, err := h.distFn(q, currObj.Vector)
	if err != nil {
		return 0, 0, err
	}

	match := h.ep

	// Walk down from the top layer, greedily moving to the closest neighbour
	for level := h.maxLevel; level > 0; level-- {
		scan := true

		for scan {
			scan = false

			for _, candidate := range currObj.Connections[level] {
				nodeDist, err := h.distFn(h.nodes[candidate].Vector, q)
				if err != nil {
					return 0, 0, err
				}

				if nodeDist < currDist {
					match = candidate
					currObj = h.nodes[candidate]
					currDist = nodeDist
					scan = true
				}
			}
		}
	}

	return match, currDist, nil
}
