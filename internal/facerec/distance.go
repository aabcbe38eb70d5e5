package facerec

import "math"

// EuclideanDistance computes the euclidean distance between two embeddings.
// Lower distance means more similar faces. Mismatched or empty vectors get
// the maximum distance so they can never match.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.MaxFloat64
	}

	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// FaceDistances computes the distance between each known embedding and the
// probe. The result is index-aligned with known.
func FaceDistances(known [][]float32, probe []float32) []float64 {
	distances := make([]float64, len(known))
	for i, emb := range known {
		distances[i] = EuclideanDistance(emb, probe)
	}
	return distances
}

// CompareFaces compares the probe embedding against each known embedding and
// reports, index-for-index, whether the distance is within tolerance.
// A non-positive tolerance falls back to the 0.6 default.
func CompareFaces(known [][]float32, probe []float32, tolerance float64) []bool {
	if tolerance <= 0 {
		tolerance = 0.6
	}

	distances := FaceDistances(known, probe)
	matches := make([]bool, len(distances))
	for i, distance := range distances {
		matches[i] = distance <= tolerance
	}
	return matches
}
