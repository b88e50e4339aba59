package vote

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/searcher/topk"
)

func TestProbability(t *testing.T) {
	mixed := []topk.Neighbor{
		{DocID: 0, Label: 1, Score: 3},
		{DocID: 1, Label: 0, Score: 1},
		{DocID: 2, Label: 0, Score: 0.5},
		{DocID: 3, Label: 0, Score: 0.5},
	}
	tests := []struct {
		name      string
		neighbors []topk.Neighbor
		weighted  bool
		want      float64
	}{
		{"empty weighted", nil, true, 0},
		{"empty unweighted", nil, false, 0},
		{"all positive", []topk.Neighbor{{Label: 1, Score: 2}, {Label: 1, Score: 0.1}}, true, 1},
		{"all negative", []topk.Neighbor{{Label: 0, Score: 2}, {Label: 0, Score: 4}}, true, 0},
		{"all positive unweighted", []topk.Neighbor{{Label: 1, Score: 2}}, false, 1},
		{"zero scores weighted", []topk.Neighbor{{Label: 1, Score: 0}, {Label: 0, Score: 0}}, true, 0},
		{"mixed weighted", mixed, true, 0.6},
		{"mixed unweighted", mixed, false, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Probability(tt.neighbors, tt.weighted), 1e-12)
		})
	}
}

func TestCount(t *testing.T) {
	tally := Count([]topk.Neighbor{{Label: 1, Score: 2}, {Label: 0, Score: 1}, {Label: 1, Score: 1}}, true)
	assert.Equal(t, Tally{Positive: 3, Negative: 1}, tally)
	assert.Equal(t, 0.75, tally.Probability())
}
