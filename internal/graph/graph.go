// Package graph supplies a bounded in-process Knowledge Graph adapter.
// spec.md §4.3/§4.6 name graph signals and edges as first-class retrieval
// and consolidation inputs but treat the backing store as an opaque
// external system ("zero if unavailable"). This package provides a real
// bounded default instead of always zeroing the signal, generalized from
// the teacher's GraphBounds/TraversalResult types
// (internal/storage/types.go) from an entity/relationship store into a
// simple directed edge index keyed by engram id.
package graph

import (
	"context"
	"strings"
	"time"

	"github.com/scrypster/engramind/pkg/engram"
)

// Bounds limits traversal cost, mirroring the teacher's GraphBounds.
type Bounds struct {
	MaxHops  int
	MaxNodes int
	MaxEdges int
	Timeout  time.Duration
}

// Normalize applies defaults and caps, matching the teacher's
// GraphBounds.Normalize.
func (b *Bounds) Normalize() {
	if b.MaxHops < 1 {
		b.MaxHops = 3
	}
	if b.MaxHops > 10 {
		b.MaxHops = 10
	}
	if b.MaxNodes < 1 {
		b.MaxNodes = 100
	}
	if b.MaxNodes > 1000 {
		b.MaxNodes = 1000
	}
	if b.MaxEdges < 1 {
		b.MaxEdges = 500
	}
	if b.MaxEdges > 5000 {
		b.MaxEdges = 5000
	}
	if b.Timeout == 0 {
		b.Timeout = 30 * time.Second
	}
	if b.Timeout > 5*time.Minute {
		b.Timeout = 5 * time.Minute
	}
}

// Edge is a directed, weighted connection from one engram to another,
// mirroring the teacher's GraphEdge but keyed by int64 engram id instead of
// string memory id. Content carries the From engram's text at prediction
// time, so Score can seed traversal from nodes the query text actually
// mentions instead of every recorded edge source.
type Edge struct {
	From         int64
	To           int64
	RelationType string
	Weight       float64
	Content      string
}

// Adapter is a bounded, in-process directed graph over engram ids. Edges
// are supplied by the decay engine's edge-prediction stage
// (spec.md §4.6 stage 5) and consumed by the Hybrid Retriever's graph
// signal.
type Adapter struct {
	bounds Bounds
	edges  map[int64][]Edge
}

// New constructs an Adapter with the given bounds (Normalize()'d).
func New(bounds Bounds) *Adapter {
	bounds.Normalize()
	return &Adapter{bounds: bounds, edges: make(map[int64][]Edge)}
}

// AddEdge records a directed edge from -> to. Exceeding MaxEdges for the
// From node silently stops accepting further edges from it, matching the
// teacher's "BoundsReached" soft-cap posture rather than erroring.
func (a *Adapter) AddEdge(e Edge) {
	if len(a.edges[e.From]) >= a.bounds.MaxEdges {
		return
	}
	a.edges[e.From] = append(a.edges[e.From], e)
}

// Neighbors returns the out-edges from id.
func (a *Adapter) Neighbors(id int64) []Edge {
	return a.edges[id]
}

// Score computes the graph signal g for the Hybrid Retriever: the
// normalized count of outgoing edges from entities mentioned in queryText
// to the candidate engram, per spec.md §4.3. This adapter has no separate
// entity layer, so it approximates "entities in the query" by token overlap
// between queryText and the From-side content the edge was recorded
// against, seeding the BFS only from nodes whose recorded content actually
// shares a token with the query, and normalizes by MaxEdges so the signal
// stays in [0,1].
func (a *Adapter) Score(ctx context.Context, queryText string, target *engram.Engram) float64 {
	tokens := tokenize(queryText)
	if len(tokens) == 0 || target == nil {
		return 0
	}
	targetID := target.ID
	queryTokens := toSet(tokens)

	var matches int
	ctx, cancel := context.WithTimeout(ctx, a.bounds.Timeout)
	defer cancel()

	visited := map[int64]bool{}
	frontier := []int64{}
	for id, edges := range a.edges {
		if sourceMentionsQuery(edges, queryTokens) {
			frontier = append(frontier, id)
		}
	}
	if len(frontier) == 0 {
		return 0
	}

	hops := 0
	for len(frontier) > 0 && hops < a.bounds.MaxHops {
		select {
		case <-ctx.Done():
			return normalize(matches, a.bounds.MaxEdges)
		default:
		}
		var next []int64
		for _, id := range frontier {
			if visited[id] {
				continue
			}
			visited[id] = true
			for _, e := range a.Neighbors(id) {
				if e.To == targetID {
					matches++
				}
				next = append(next, e.To)
			}
			if len(visited) >= a.bounds.MaxNodes {
				return normalize(matches, a.bounds.MaxEdges)
			}
		}
		frontier = next
		hops++
	}
	return normalize(matches, a.bounds.MaxEdges)
}

func normalize(matches, maxEdges int) float64 {
	if matches == 0 {
		return 0
	}
	v := float64(matches) / float64(maxEdges)
	if v > 1 {
		return 1
	}
	return v
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// sourceMentionsQuery reports whether any edge recorded against a node
// carries content sharing at least one token with queryTokens. A node with
// no recorded content (the zero value, e.g. from older callers or tests)
// never seeds traversal.
func sourceMentionsQuery(edges []Edge, queryTokens map[string]bool) bool {
	for _, e := range edges {
		for _, t := range tokenize(e.Content) {
			if queryTokens[t] {
				return true
			}
		}
	}
	return false
}
