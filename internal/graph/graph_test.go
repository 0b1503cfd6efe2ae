package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/engramind/pkg/engram"
)

func TestScoreZeroWithNoEdges(t *testing.T) {
	a := New(Bounds{})
	target := &engram.Engram{ID: 1}
	assert.Equal(t, 0.0, a.Score(context.Background(), "alice bicycle", target))
}

func TestScorePositiveWithMatchingEdge(t *testing.T) {
	a := New(Bounds{})
	a.AddEdge(Edge{From: 100, To: 1, RelationType: "owns", Weight: 1, Content: "alice owns a bicycle"})

	target := &engram.Engram{ID: 1}
	score := a.Score(context.Background(), "alice bicycle", target)
	assert.Greater(t, score, 0.0)
}

func TestScoreZeroWhenQueryMentionsNoSourceEntity(t *testing.T) {
	a := New(Bounds{})
	a.AddEdge(Edge{From: 100, To: 1, RelationType: "owns", Weight: 1, Content: "alice owns a bicycle"})

	target := &engram.Engram{ID: 1}
	score := a.Score(context.Background(), "unrelated trains and planes", target)
	assert.Equal(t, 0.0, score)
}

func TestScoreZeroForEmptyQuery(t *testing.T) {
	a := New(Bounds{})
	a.AddEdge(Edge{From: 100, To: 1})
	target := &engram.Engram{ID: 1}
	assert.Equal(t, 0.0, a.Score(context.Background(), "", target))
}

func TestAddEdgeRespectsMaxEdges(t *testing.T) {
	a := New(Bounds{MaxEdges: 2})
	a.AddEdge(Edge{From: 1, To: 2})
	a.AddEdge(Edge{From: 1, To: 3})
	a.AddEdge(Edge{From: 1, To: 4})

	assert.Len(t, a.Neighbors(1), 2)
}

func TestBoundsNormalizeDefaults(t *testing.T) {
	b := Bounds{}
	b.Normalize()
	assert.Equal(t, 3, b.MaxHops)
	assert.Equal(t, 100, b.MaxNodes)
	assert.Equal(t, 500, b.MaxEdges)
}

func TestBoundsNormalizeCaps(t *testing.T) {
	b := Bounds{MaxHops: 999, MaxNodes: 999999, MaxEdges: 999999}
	b.Normalize()
	assert.Equal(t, 10, b.MaxHops)
	assert.Equal(t, 1000, b.MaxNodes)
	assert.Equal(t, 5000, b.MaxEdges)
}
