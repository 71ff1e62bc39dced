package index

import "math"

// CosineSimilarity returns 1 - cosine distance of a and b. Zero vectors and
// mismatched lengths yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// normalize returns a unit-length copy. A zero vector stays zero.
func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// normalize64 is normalize without the float32 round trip.
func normalize64(v []float32) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float64(x) / norm
	}
	return out
}

// similarityPrecision is the grid scores are snapped to. Inputs are float32,
// so anything finer is rounding noise, and collinear vectors of different
// magnitude must land on the same score to tie.
const similarityPrecision = 1e9

func roundSimilarity(s float64) float64 {
	return math.Round(s*similarityPrecision) / similarityPrecision
}

func dot64(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return roundSimilarity(sum)
}
