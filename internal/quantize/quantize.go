// Package quantize implements the scalar int8 quantization described in
// spec.md §4.2: a cheap, cache-friendly ranking form of an embedding used by
// the HNSW index's first-pass candidate scan, with float32 reserved for the
// exact rescoring pass over surviving candidates.
//
// The example corpus only carries quantization as unimplemented
// configuration (QuantizationConfig{Enabled, Type, NBits} with no backing
// logic), so this package is written from scratch against the standard
// library rather than adapted from a pack implementation.
package quantize

import (
	"fmt"
	"math"
)

// Params is the per-vector scale needed to invert a quantized vector back
// to an approximate float32 one. There is no zero-point: symmetric linear
// quantization around zero is used, since embedding components from
// normalized vectors cluster near [-1, 1].
type Params struct {
	Scale float32
}

// defaultAbsMax bounds the quantization range when a vector is all zeros,
// avoiding a division by zero while keeping the scale stable.
const defaultAbsMax = 1e-6

// Quantize converts a float32 embedding into its int8 ranking form, scaled
// so the largest-magnitude component maps to ±127.
func Quantize(v []float32) ([]int8, Params) {
	if len(v) == 0 {
		return nil, Params{}
	}

	var absMax float32
	for _, x := range v {
		a := x
		if a < 0 {
			a = -a
		}
		if a > absMax {
			absMax = a
		}
	}
	if absMax < defaultAbsMax {
		absMax = defaultAbsMax
	}

	scale := absMax / 127
	out := make([]int8, len(v))
	for i, x := range v {
		q := x / scale
		switch {
		case q > 127:
			q = 127
		case q < -127:
			q = -127
		}
		out[i] = int8(q)
	}
	return out, Params{Scale: scale}
}

// Dequantize recovers an approximate float32 vector from its int8 form and
// the Params produced by Quantize.
func Dequantize(q []int8, p Params) []float32 {
	out := make([]float32, len(q))
	for i, x := range q {
		out[i] = float32(x) * p.Scale
	}
	return out
}

// CosineI8 computes cosine similarity directly over two int8 vectors. It is
// used for the index's coarse first pass, trading a small amount of
// precision for cache density; callers rescore the surviving candidates
// with CosineF32 over the exact embedding.
func CosineI8(a, b []int8) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("quantize: dimension mismatch (%d vs %d)", len(a), len(b))
	}
	var dot, magA, magB int64
	for i := range a {
		dot += int64(a[i]) * int64(b[i])
		magA += int64(a[i]) * int64(a[i])
		magB += int64(b[i]) * int64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return float32(float64(dot) / (math.Sqrt(float64(magA)) * math.Sqrt(float64(magB)))), nil
}

// CosineF32 computes exact cosine similarity over float32 vectors, used for
// the rescoring pass over the HNSW index's surviving candidates.
func CosineF32(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("quantize: dimension mismatch (%d vs %d)", len(a), len(b))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB))), nil
}
