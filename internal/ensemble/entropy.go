package ensemble

import (
	"math"
	"sort"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// Entropy returns the Shannon entropy (bits) of the vote distribution.
// Agreement scores of voted categories are normalised to sum to 1. No votes yields 0,
// a single voted category yields 0, and k equally voted categories yield log2(k).
func Entropy(agreement map[model.Category]float64) float64 {
	keys := make([]model.Category, 0, len(agreement))
	var total float64
	for c, a := range agreement {
		if a <= 0 {
			continue
		}
		keys = append(keys, c)
		total += a
	}
	if total == 0 || len(keys) < 2 {
		return 0
	}

	// Fixed summation order keeps results bit-identical across runs.
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var h float64
	for _, c := range keys {
		p := agreement[c] / total
		h -= p * math.Log2(p)
	}

	if h < 0 {
		return 0
	}
	if maxH := math.Log2(float64(len(keys))); h > maxH {
		return maxH
	}
	return h
}
