// Package vote turns a neighbor set into the probability of class 1.
package vote

import (
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/searcher/topk"
)

// Tally holds the per-class vote totals.
type Tally struct {
	Positive float64 `json:"positive"`
	Negative float64 `json:"negative"`
}

// Count sums neighbor scores per label when weighted, or counts neighbors
// per label otherwise.
func Count(neighbors []topk.Neighbor, weighted bool) Tally {
	var t Tally
	for _, n := range neighbors {
		w := 1.0
		if weighted {
			w = n.Score
		}
		if n.Label == 1 {
			t.Positive += w
		} else {
			t.Negative += w
		}
	}
	return t
}

// Probability is Positive/(Positive+Negative), or 0 when nothing voted.
func (t Tally) Probability() float64 {
	total := t.Positive + t.Negative
	if total == 0 {
		return 0
	}
	return t.Positive / total
}

func Probability(neighbors []topk.Neighbor, weighted bool) float64 {
	return Count(neighbors, weighted).Probability()
}
