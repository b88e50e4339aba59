// Package topk keeps the K best-scoring candidates of a query in a bounded
// min-heap. Equal scores rank the lower doc id first, so the selection is
// reproducible whatever order candidates arrive in.
package topk

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/errors"
)

const DefaultK = 100

// Neighbor is a selected candidate with the label of its row.
type Neighbor struct {
	DocID int     `json:"doc_id"`
	RowID int64   `json:"row_id"`
	Label int     `json:"label"`
	Score float64 `json:"score"`
}

// Selector is not safe for concurrent use; each query owns one.
type Selector struct {
	k int
	h neighborHeap
}

func New(k int) (*Selector, error) {
	if k < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "k must be at least 1, got %d", k)
	}
	h := make(neighborHeap, 0, min(k, 1024))
	return &Selector{k: k, h: h}, nil
}

// Offer considers one candidate. Once K are held, it replaces the current
// worst only if it ranks above it.
func (s *Selector) Offer(n Neighbor) {
	if s.h.Len() < s.k {
		heap.Push(&s.h, n)
		return
	}
	if outranks(n, s.h[0]) {
		s.h[0] = n
		heap.Fix(&s.h, 0)
	}
}

func (s *Selector) Len() int {
	return s.h.Len()
}

// Result empties the selector and returns the held neighbors best first.
func (s *Selector) Result() []Neighbor {
	result := make([]Neighbor, s.h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&s.h).(Neighbor)
	}
	return result
}

// Select returns the k best candidates best first, each carrying its
// document's label.
func Select(idx *index.InvertedIndex, candidates []ranker.Candidate, k int) ([]Neighbor, error) {
	s, err := New(k)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		doc, ok := idx.Document(c.DocID)
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrInternal, "candidate references unknown document %d", c.DocID)
		}
		s.Offer(Neighbor{DocID: c.DocID, RowID: doc.RowID, Label: doc.Label, Score: c.Score})
	}
	return s.Result(), nil
}

// outranks reports whether a ranks strictly above b.
func outranks(a, b Neighbor) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// neighborHeap keeps the lowest-ranked neighbor at the root.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int { return len(h) }

func (h neighborHeap) Less(i, j int) bool {
	return outranks(h[j], h[i])
}

func (h neighborHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *neighborHeap) Push(x interface{}) {
	*h = append(*h, x.(Neighbor))
}

func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
