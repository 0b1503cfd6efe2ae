package engram_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engramind/pkg/engram"
)

func TestEngram_IsActiveAndIsSuperseded(t *testing.T) {
	e := &engram.Engram{}
	assert.True(t, e.IsActive())
	assert.False(t, e.IsSuperseded())

	now := time.Now()
	e.SupersededAt = &now
	assert.False(t, e.IsActive())
	assert.True(t, e.IsSuperseded())
}

func TestEngram_HasEmbedding(t *testing.T) {
	e := &engram.Engram{}
	assert.False(t, e.HasEmbedding())
	e.EmbeddingF32 = []float32{1, 2, 3}
	assert.True(t, e.HasEmbedding())
}

func TestEngram_ValidAt(t *testing.T) {
	now := time.Now()
	from := now.Add(-time.Hour)
	until := now.Add(time.Hour)

	unbounded := &engram.Engram{}
	assert.True(t, unbounded.ValidAt(now))

	bounded := &engram.Engram{ValidFrom: &from, ValidUntil: &until}
	assert.True(t, bounded.ValidAt(now))
	assert.False(t, bounded.ValidAt(now.Add(-2*time.Hour)))
	assert.False(t, bounded.ValidAt(now.Add(2*time.Hour)))
	assert.False(t, bounded.ValidAt(until), "valid_until is an exclusive upper bound")
}

func TestDecayRateForImportance_Buckets(t *testing.T) {
	assert.Equal(t, 0.0001, engram.DecayRateForImportance(0.95))
	assert.Equal(t, 0.001, engram.DecayRateForImportance(0.7))
	assert.Equal(t, 0.005, engram.DecayRateForImportance(0.5))
	assert.Equal(t, 0.02, engram.DecayRateForImportance(0.3))
	assert.Equal(t, 0.1, engram.DecayRateForImportance(0.1))
}

func TestValidateDraft(t *testing.T) {
	require.NoError(t, engram.ValidateDraft(engram.Draft{Content: "hello", Importance: 0.5}))

	err := engram.ValidateDraft(engram.Draft{Content: "", Importance: 0.5})
	require.Error(t, err)
	assert.ErrorIs(t, err, engram.ErrInvalidField)

	err = engram.ValidateDraft(engram.Draft{Content: "hi", Importance: 1.5})
	assert.ErrorIs(t, err, engram.ErrInvalidField)

	from := time.Now()
	until := from.Add(-time.Hour)
	err = engram.ValidateDraft(engram.Draft{Content: "hi", ValidFrom: &from, ValidUntil: &until})
	assert.ErrorIs(t, err, engram.ErrInvalidField)
}

func TestValidateEmbeddingPair(t *testing.T) {
	require.NoError(t, engram.ValidateEmbeddingPair(nil, nil))
	require.NoError(t, engram.ValidateEmbeddingPair([]float32{1, 2}, []int8{1, 2}))

	err := engram.ValidateEmbeddingPair([]float32{1, 2}, nil)
	assert.ErrorIs(t, err, engram.ErrInvalidField)

	err = engram.ValidateEmbeddingPair([]float32{1, 2, 3}, []int8{1, 2})
	assert.ErrorIs(t, err, engram.ErrInvalidField)
}
