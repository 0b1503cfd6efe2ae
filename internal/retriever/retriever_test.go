package retriever_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engramind/internal/feedback"
	"github.com/scrypster/engramind/internal/retriever"
	"github.com/scrypster/engramind/internal/store/sqlite"
	"github.com/scrypster/engramind/pkg/engram"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "engramind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRetrieveLexicalOnlyFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, engram.Draft{Content: "Alice owns a red bicycle", Category: "fact", Importance: 0.7})
	require.NoError(t, err)
	_, err = s.Insert(ctx, engram.Draft{Content: "The weather today is sunny", Category: "fact", Importance: 0.5})
	require.NoError(t, err)

	r := &retriever.Retriever{Store: s, Lexical: s}

	hits, err := r.Retrieve(ctx, "Alice bicycle", 5, retriever.Weights{}, retriever.Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Engram.Content, "Alice")
}

func TestRetrieveEmptyWhenNoSignalsMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, engram.Draft{Content: "unrelated content entirely", Importance: 0.5})
	require.NoError(t, err)

	r := &retriever.Retriever{Store: s, Lexical: s}

	hits, err := r.Retrieve(ctx, "zzzznomatchqqqq", 5, retriever.Weights{}, retriever.Filters{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRetrieveExcludesSupersededByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	oldID, err := s.Insert(ctx, engram.Draft{Content: "Bob works at Acme", Importance: 0.5})
	require.NoError(t, err)
	newID, err := s.Insert(ctx, engram.Draft{Content: "Bob works at Globex", Importance: 0.5})
	require.NoError(t, err)

	require.NoError(t, s.MarkSuperseded(ctx, oldID, time.Now()))
	require.NoError(t, s.SetSupersedes(ctx, newID, oldID, engram.SupersessionUpdate))

	r := &retriever.Retriever{Store: s, Lexical: s}
	hits, err := r.Retrieve(ctx, "Bob employer", 5, retriever.Weights{}, retriever.Filters{ExcludeSuperseded: true})
	require.NoError(t, err)

	for _, h := range hits {
		assert.NotEqual(t, oldID, h.Engram.ID)
	}
}

func TestRetrieveAppliesHelpfulnessFeedback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.Insert(ctx, engram.Draft{Content: "timeout in connection pool detected", Importance: 0.5})
	require.NoError(t, err)
	id2, err := s.Insert(ctx, engram.Draft{Content: "timeout in connection pool detected again", Importance: 0.5})
	require.NoError(t, err)

	tr := feedback.New(feedback.DefaultConfig())
	tr.SignalUseful("s1", []int64{id1})
	tr.SignalNoise("s1", []int64{id2})
	tr.Flush()

	r := &retriever.Retriever{Store: s, Lexical: s, Feedback: tr}
	hits, err := r.Retrieve(ctx, "timeout connection pool", 5, retriever.Weights{}, retriever.Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	var score1, score2 float64
	for _, h := range hits {
		switch h.Engram.ID {
		case id1:
			score1 = h.Score
		case id2:
			score2 = h.Score
		}
	}
	assert.Greater(t, score1, score2)
}
