// Package semantic ranks transcript segments by embedding similarity to a
// spoken phrase. It is the last stage of the phrase-location chain, invoked
// only after literal and fuzzy search both miss.
package semantic

import "math"

// Cosine returns the cosine similarity of a and b in [-1, 1]. A zero-norm
// input yields 0 rather than NaN. Mismatched lengths compare the common
// prefix, which only happens when an index was built by a different model
// and slipped past the staleness check.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
