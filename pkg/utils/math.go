package utils

import "math"

// NormalizeL2 scales the vector in place to unit L2 norm. Zero vectors are
// left unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= inv
	}
}

// InnerProduct returns the dot product of two vectors. For unit vectors this
// equals cosine similarity. Mismatched lengths yield 0.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// ClampSimilarity clamps a similarity score into [0,1].
func ClampSimilarity(s float64) float64 {
	return math.Max(0, math.Min(1, s))
}
