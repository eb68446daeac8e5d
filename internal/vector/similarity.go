package vector

import "math"

// NormTolerance is how far from 1 a stored vector's L2 norm may drift.
const NormTolerance = 1e-6

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
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

// CosineSimilarity returns the inner product of two unit vectors clamped to [-1, 1],
// absorbing float rounding at the extremes.
func CosineSimilarity(a, b []float32) float64 {
	return math.Max(-1, math.Min(1, InnerProduct(a, b)))
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// IsUnit reports whether x has L2 norm within NormTolerance of 1.
func IsUnit(x []float32) bool {
	return math.Abs(L2Norm(x)-1) <= NormTolerance
}
