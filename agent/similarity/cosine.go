package similarity

import "math"

// Cosine returns dot(a,b)/(|a||b|) clamped to [-1, 1]. It is 0 when either
// vector has zero norm or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}

	score := dot / (math.Sqrt(na) * math.Sqrt(nb))
	switch {
	case math.IsNaN(score):
		return 0
	case score > 1:
		return 1
	case score < -1:
		return -1
	}
	return score
}
