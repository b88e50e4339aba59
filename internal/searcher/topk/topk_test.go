package topk

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/errors"
)

func TestNewRejectsNonPositiveK(t *testing.T) {
	_, err := New(0)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestSelectorKeepsBestK(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var all []Neighbor
	for i := 0; i < 500; i++ {
		// coarse scores force plenty of ties
		all = append(all, Neighbor{DocID: i, Score: float64(rng.Intn(40))})
	}
	want := append([]Neighbor(nil), all...)
	sort.Slice(want, func(i, j int) bool { return outranks(want[i], want[j]) })
	want = want[:25]

	for trial := 0; trial < 10; trial++ {
		rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		s, err := New(25)
		require.NoError(t, err)
		for _, n := range all {
			s.Offer(n)
		}
		assert.Equal(t, 25, s.Len())
		assert.Equal(t, want, s.Result())
		assert.Equal(t, 0, s.Len())
	}
}

func TestSelectorFewerThanK(t *testing.T) {
	s, err := New(DefaultK)
	require.NoError(t, err)
	s.Offer(Neighbor{DocID: 4, Score: 1})
	s.Offer(Neighbor{DocID: 2, Score: 3})
	s.Offer(Neighbor{DocID: 1, Score: 1})

	got := s.Result()
	require.Len(t, got, 3)
	assert.Equal(t, []int{2, 1, 4}, []int{got[0].DocID, got[1].DocID, got[2].DocID})
}

func TestTieBreakPrefersLowerDocID(t *testing.T) {
	s, err := New(1)
	require.NoError(t, err)
	s.Offer(Neighbor{DocID: 7, Score: 2})
	s.Offer(Neighbor{DocID: 3, Score: 2})
	s.Offer(Neighbor{DocID: 9, Score: 2})
	assert.Equal(t, []Neighbor{{DocID: 3, Score: 2}}, s.Result())
}

func TestSelectAttachesLabels(t *testing.T) {
	outcomes := index.NewOutcomeSet()
	outcomes.Add(20)
	idx, err := index.Open(outcomes)
	require.NoError(t, err)
	for _, row := range []int64{10, 20, 30} {
		_, err := idx.Insert(index.SparseVector{RowID: row, Features: []index.Feature{{ID: 1, Count: 1}}})
		require.NoError(t, err)
	}
	require.NoError(t, idx.Finalize())

	got, err := Select(idx, []ranker.Candidate{{DocID: 0, Score: 1}, {DocID: 1, Score: 5}, {DocID: 2, Score: 2}}, 2)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{
		{DocID: 1, RowID: 20, Label: 1, Score: 5},
		{DocID: 2, RowID: 30, Label: 0, Score: 2},
	}, got)

	_, err = Select(idx, []ranker.Candidate{{DocID: 8, Score: 1}}, 2)
	assert.True(t, errors.Is(err, apperrors.ErrInternal))
}
