package memory

import (
	"math"
	"time"
)

// RecencyHalfLife is the time for recency weight to halve in cross-type
// search relevance scoring.
const RecencyHalfLife = 24 * time.Hour

// Relevance scores a memory for search ranking: stored importance weighted
// by exponential recency decay from creation time.
func Relevance(importance float64, createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	decay := math.Exp2(-age.Hours() / RecencyHalfLife.Hours())
	return importance * decay
}
