package quantize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantizeDequantizeRoundTrip(t *testing.T) {
	v := []float32{0.5, -0.25, 1.0, -1.0, 0.0}
	q, params := Quantize(v)
	require.Len(t, q, len(v))

	back := Dequantize(q, params)
	for i := range v {
		assert.InDelta(t, v[i], back[i], 0.02)
	}
}

func TestQuantizeZeroVector(t *testing.T) {
	q, params := Quantize([]float32{0, 0, 0})
	assert.Equal(t, []int8{0, 0, 0}, q)
	assert.Greater(t, params.Scale, float32(0))
}

func TestCosineF32IdenticalVectors(t *testing.T) {
	v := []float32{1, 2, 3}
	sim, err := CosineF32(v, v)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestCosineF32OrthogonalVectors(t *testing.T) {
	sim, err := CosineF32([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-6)
}

func TestCosineF32DimensionMismatch(t *testing.T) {
	_, err := CosineF32([]float32{1, 2}, []float32{1})
	assert.Error(t, err)
}

func TestCosineI8TracksCosineF32(t *testing.T) {
	a := []float32{0.9, 0.1, -0.3, 0.4}
	b := []float32{0.8, 0.2, -0.1, 0.5}

	exact, err := CosineF32(a, b)
	require.NoError(t, err)

	qa, _ := Quantize(a)
	qb, _ := Quantize(b)
	approx, err := CosineI8(qa, qb)
	require.NoError(t, err)

	assert.InDelta(t, exact, approx, 0.05)
}
