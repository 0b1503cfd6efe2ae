// Package hnsw implements an in-process Hierarchical Navigable Small World
// graph for approximate k-nearest-neighbor search over engram embeddings
// (spec.md §4.2). No library in the example corpus ships an importable HNSW
// implementation — only configuration knobs referencing the algorithm by
// name (other_examples' liliang-cn-sqvect HNSWConfig) — so the graph itself
// is built from scratch on the standard library.
package hnsw

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/scrypster/engramind/internal/quantize"
)

// Config holds the build/query parameters spec.md §4.2 names.
type Config struct {
	M              int // neighbors per layer (default 16)
	EfConstruction int // candidate list size while building (default 200)
	EfSearch       int // candidate list size while querying (default 64)

	// TombstoneRebuildRatio triggers RebuildIfNeeded once the fraction of
	// tombstoned nodes exceeds this value (default 0.10).
	TombstoneRebuildRatio float64
}

// DefaultConfig returns spec.md's named defaults.
func DefaultConfig() Config {
	return Config{
		M:                     16,
		EfConstruction:        200,
		EfSearch:              64,
		TombstoneRebuildRatio: 0.10,
	}
}

// levelMultiplier is the standard HNSW normalization constant 1/ln(M).
func (c Config) levelMultiplier() float64 {
	if c.M <= 1 {
		return 1
	}
	return 1 / math.Log(float64(c.M))
}

// RebuildOutcome is the result of RebuildIfNeeded.
type RebuildOutcome struct {
	Rebuilt bool
	Count   int
}

// Stats summarizes the index's current shape.
type Stats struct {
	Nodes       int
	Tombstoned  int
	MaxLevel    int
	Dimension   int
}

// Candidate returns a search hit: the engram id and its similarity.
type Candidate struct {
	ID         int64
	Similarity float32
}

type node struct {
	id         int64
	vectorF32  []float32
	vectorI8   []int8
	quantParam quantize.Params
	neighbors  [][]int64 // neighbors[level] = neighbor ids at that level
	tombstoned bool
}

// Index is a concurrent-safe HNSW graph. Reads take a read lock against the
// current snapshot; Rebuild constructs a fresh graph off to the side and
// swaps it in atomically, per spec.md's "rebuild may run concurrently with
// reads of the previous index" guarantee.
type Index struct {
	cfg Config

	mu        sync.RWMutex
	nodes     map[int64]*node
	entryID   int64
	entryOK   bool
	maxLevel  int
	dimension int
	rng       *rand.Rand
}

// New creates an empty index with cfg (DefaultConfig() if zero-valued).
func New(cfg Config) *Index {
	if cfg.M == 0 {
		cfg = DefaultConfig()
	}
	return &Index{
		cfg:   cfg,
		nodes: make(map[int64]*node),
		rng:   rand.New(rand.NewSource(1)),
	}
}

func (idx *Index) randomLevel() int {
	level := 0
	mult := idx.cfg.levelMultiplier()
	for idx.rng.Float64() < 1/math.E*mult && level < 32 {
		level++
	}
	return level
}

// Insert adds or replaces the vector for id.
func (idx *Index) Insert(id int64, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("hnsw: insert id=%d: empty vector", id)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dimension == 0 {
		idx.dimension = len(vec)
	} else if len(vec) != idx.dimension {
		return fmt.Errorf("hnsw: insert id=%d: dimension %d does not match index dimension %d", id, len(vec), idx.dimension)
	}

	q8, params := quantize.Quantize(vec)
	level := idx.randomLevel()

	n := &node{
		id:         id,
		vectorF32:  append([]float32(nil), vec...),
		vectorI8:   q8,
		quantParam: params,
		neighbors:  make([][]int64, level+1),
	}

	if !idx.entryOK {
		idx.nodes[id] = n
		idx.entryID = id
		idx.entryOK = true
		idx.maxLevel = level
		return nil
	}

	// Replace: the old node is tombstoned and its map entry overwritten by n;
	// neighbors' existing links to id are kept and now lead to the new node.
	if _, exists := idx.nodes[id]; exists {
		idx.removeLocked(id)
	}

	idx.nodes[id] = n
	idx.connectLocked(n, level)

	if level > idx.maxLevel {
		idx.maxLevel = level
		idx.entryID = id
	}
	return nil
}

// connectLocked wires n into the graph at every level up to level, greedily
// descending from the current entry point, the standard HNSW insertion walk.
func (idx *Index) connectLocked(n *node, level int) {
	entry := idx.nodes[idx.entryID]
	if entry == nil {
		return
	}

	cur := entry
	for l := idx.maxLevel; l > level; l-- {
		cur = idx.greedyDescendLocked(cur, n.vectorI8, l)
	}

	for l := min(level, idx.maxLevel); l >= 0; l-- {
		candidates := idx.searchLayerLocked(n.vectorI8, cur, idx.cfg.EfConstruction, l)
		selected := selectNeighbors(candidates, idx.cfg.M)
		if l < len(n.neighbors) {
			n.neighbors[l] = idsOf(selected)
		}
		for _, c := range selected {
			neighbor := idx.nodes[c.id]
			if neighbor == nil || l >= len(neighbor.neighbors) {
				continue
			}
			neighbor.neighbors[l] = appendUnique(neighbor.neighbors[l], n.id)
			if len(neighbor.neighbors[l]) > idx.cfg.M {
				trimmed := idx.trimNeighborsLocked(neighbor, l)
				neighbor.neighbors[l] = trimmed
			}
		}
		if len(candidates) > 0 {
			cur = idx.nodes[candidates[0].id]
		}
	}
}

func (idx *Index) trimNeighborsLocked(n *node, level int) []int64 {
	scored := make([]Candidate, 0, len(n.neighbors[level]))
	for _, nid := range n.neighbors[level] {
		other := idx.nodes[nid]
		if other == nil {
			continue
		}
		sim, _ := quantize.CosineI8(n.vectorI8, other.vectorI8)
		scored = append(scored, Candidate{ID: nid, Similarity: sim})
	}
	selected := selectNeighbors(scored, idx.cfg.M)
	return idsOf(selected)
}

// greedyDescendLocked walks from cur towards the nearest node to target at
// level, used to find an entry point for the next level down. Traversal
// ranks on the int8 form per spec.md §4.2's coarse first-pass scan; only
// the final Search result set is rescored against the exact float32
// vectors.
func (idx *Index) greedyDescendLocked(cur *node, target []int8, level int) *node {
	improved := true
	for improved {
		improved = false
		if level >= len(cur.neighbors) {
			continue
		}
		best := cur
		bestSim, _ := quantize.CosineI8(cur.vectorI8, target)
		for _, nid := range cur.neighbors[level] {
			n := idx.nodes[nid]
			if n == nil || n.tombstoned {
				continue
			}
			sim, _ := quantize.CosineI8(n.vectorI8, target)
			if sim > bestSim {
				best, bestSim, improved = n, sim, true
			}
		}
		cur = best
	}
	return cur
}

// searchLayerLocked performs a best-first search at level starting from
// entry, returning up to ef candidates ordered by descending int8 cosine
// similarity (the coarse ranking form; Search rescores survivors in
// float32).
func (idx *Index) searchLayerLocked(target []int8, entry *node, ef, level int) []Candidate {
	visited := map[int64]bool{entry.id: true}
	sim0, _ := quantize.CosineI8(entry.vectorI8, target)
	candidates := []Candidate{{ID: entry.id, Similarity: sim0}}
	results := []Candidate{{ID: entry.id, Similarity: sim0}}

	for len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })
		c := candidates[0]
		candidates = candidates[1:]

		worstResult := results[len(results)-1].Similarity
		if len(results) >= ef && c.Similarity < worstResult {
			break
		}

		node := idx.nodes[c.ID]
		if node == nil || level >= len(node.neighbors) {
			continue
		}
		for _, nid := range node.neighbors[level] {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			n := idx.nodes[nid]
			if n == nil || n.tombstoned {
				continue
			}
			sim, _ := quantize.CosineI8(n.vectorI8, target)
			candidates = append(candidates, Candidate{ID: nid, Similarity: sim})
			results = append(results, Candidate{ID: nid, Similarity: sim})
			sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
			if len(results) > ef {
				results = results[:ef]
			}
		}
	}
	return results
}

func selectNeighbors(candidates []Candidate, m int) []Candidate {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	return candidates
}

func idsOf(cands []Candidate) []int64 {
	out := make([]int64, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

func appendUnique(s []int64, v int64) []int64 {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Remove tombstones id: it is excluded from search results immediately but
// its graph edges are left in place until the next rebuild, per spec.md
// §4.2's "rebuild reconstructs from scratch" model.
func (idx *Index) Remove(id int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *Index) removeLocked(id int64) {
	if n, ok := idx.nodes[id]; ok {
		n.tombstoned = true
	}
}

// Search returns up to k candidates nearest to vec, ordered by descending
// similarity. efSearch of 0 uses the index's configured default.
func (idx *Index) Search(vec []float32, k, efSearch int) ([]Candidate, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.entryOK {
		return nil, nil
	}
	if len(vec) != idx.dimension {
		return nil, fmt.Errorf("hnsw: search: dimension %d does not match index dimension %d", len(vec), idx.dimension)
	}
	if efSearch <= 0 {
		efSearch = idx.cfg.EfSearch
	}
	if efSearch < k {
		efSearch = k
	}

	queryI8, _ := quantize.Quantize(vec)

	entry := idx.nodes[idx.entryID]
	cur := entry
	for l := idx.maxLevel; l > 0; l-- {
		cur = idx.greedyDescendLocked(cur, queryI8, l)
	}

	results := idx.searchLayerLocked(queryI8, cur, efSearch, 0)

	// The graph traversal above ranks on the coarse int8 form (spec.md
	// §4.2); rescore the surviving candidates against the exact float32
	// embeddings before truncating to k.
	for i, r := range results {
		n := idx.nodes[r.ID]
		if n == nil {
			continue
		}
		sim, _ := quantize.CosineF32(n.vectorF32, vec)
		results[i].Similarity = sim
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })

	out := make([]Candidate, 0, k)
	for _, r := range results {
		n := idx.nodes[r.ID]
		if n == nil || n.tombstoned {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Stats reports the index's current shape.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var tombstoned int
	for _, n := range idx.nodes {
		if n.tombstoned {
			tombstoned++
		}
	}
	return Stats{
		Nodes:      len(idx.nodes),
		Tombstoned: tombstoned,
		MaxLevel:   idx.maxLevel,
		Dimension:  idx.dimension,
	}
}

// TombstoneRatio reports the fraction of nodes currently tombstoned, used by
// RebuildIfNeeded and exposed for telemetry.
func (idx *Index) TombstoneRatio() float64 {
	s := idx.Stats()
	if s.Nodes == 0 {
		return 0
	}
	return float64(s.Tombstoned) / float64(s.Nodes)
}

// RebuildIfNeeded rebuilds the graph from scratch when the tombstone ratio
// exceeds cfg.TombstoneRebuildRatio, swapping the new graph in atomically.
// source supplies the authoritative (id, vector) pairs, e.g. from
// store.EngramStore's embedding scan.
func (idx *Index) RebuildIfNeeded(source func(func(id int64, vec []float32) error) error) (RebuildOutcome, error) {
	if idx.TombstoneRatio() <= idx.cfg.TombstoneRebuildRatio {
		return RebuildOutcome{}, nil
	}
	return idx.Rebuild(source)
}

// Rebuild unconditionally reconstructs the graph from source. The previous
// graph keeps serving reads until the new one is fully built and swapped in.
func (idx *Index) Rebuild(source func(func(id int64, vec []float32) error) error) (RebuildOutcome, error) {
	fresh := New(idx.cfg)
	count := 0
	err := source(func(id int64, vec []float32) error {
		if err := fresh.Insert(id, vec); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return RebuildOutcome{}, fmt.Errorf("hnsw: rebuild: %w", err)
	}

	idx.mu.Lock()
	idx.nodes = fresh.nodes
	idx.entryID = fresh.entryID
	idx.entryOK = fresh.entryOK
	idx.maxLevel = fresh.maxLevel
	idx.dimension = fresh.dimension
	idx.mu.Unlock()

	return RebuildOutcome{Rebuilt: true, Count: count}, nil
}
