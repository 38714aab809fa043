package vectorindex

import "math"

// zeroNorm is the L2 norm below which a vector is treated as degenerate.
const zeroNorm = 1e-12

// Normalize returns a unit-length copy of v and false if v has ~zero norm.
// The input slice is never modified.
func Normalize(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm <= zeroNorm || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return out, false
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, true
}

// Dot returns the dot product of a and b, or 0 when their lengths differ.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// EuclideanDistance is the native distance of both index backends.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// DistanceToCosine converts a Euclidean distance between two unit vectors
// into their cosine similarity: |a-b|² = 2 - 2cos.
func DistanceToCosine(distance float64) float64 {
	cos := 1 - distance*distance/2
	if cos > 1 {
		return 1
	}
	if cos < -1 {
		return -1
	}
	return cos
}
