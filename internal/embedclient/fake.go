package embedclient

import (
	"context"
	"hash/fnv"
	"math"
)

// Fake is a deterministic hash-based embedder for tests: same text always
// produces the same vector, and textually similar strings tend to land
// near each other because the hash is seeded per-token rather than
// per-string. Not a real embedding model — only good enough to exercise the
// vector index and retriever signal composition without a network call.
type Fake struct {
	Dims int
}

// NewFake constructs a Fake with the given embedding dimensionality.
func NewFake(dims int) *Fake {
	if dims <= 0 {
		dims = 32
	}
	return &Fake{Dims: dims}
}

// Embed hashes each whitespace-run in text into one dimension bucket and
// accumulates a signed contribution, then L2-normalizes the result.
func (f *Fake) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.Dims)
	token := make([]byte, 0, 16)
	flush := func() {
		if len(token) == 0 {
			return
		}
		h := fnv.New32a()
		_, _ = h.Write(token)
		sum := h.Sum32()
		idx := int(sum) % f.Dims
		if idx < 0 {
			idx += f.Dims
		}
		sign := float32(1)
		if sum%2 == 0 {
			sign = -1
		}
		vec[idx] += sign
		token = token[:0]
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '\t' || c == '\n' {
			flush()
			continue
		}
		token = append(token, c)
	}
	flush()

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
