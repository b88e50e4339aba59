package index

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// OutcomeSet holds the row ids whose label is 1. Every other row is label 0.
// Row ids are stored as their uint64 bit pattern, so negative ids are kept
// distinct.
type OutcomeSet struct {
	rows *roaring64.Bitmap
}

func NewOutcomeSet() *OutcomeSet {
	return &OutcomeSet{rows: roaring64.New()}
}

// Add marks each row id as a positive outcome. Repeated ids are ignored.
func (o *OutcomeSet) Add(rowIDs ...int64) {
	for _, id := range rowIDs {
		o.rows.Add(uint64(id))
	}
}

func (o *OutcomeSet) Contains(rowID int64) bool {
	return o.rows.Contains(uint64(rowID))
}

// Label returns 1 for a positive row and 0 otherwise.
func (o *OutcomeSet) Label(rowID int64) int {
	if o.Contains(rowID) {
		return 1
	}
	return 0
}

func (o *OutcomeSet) Len() int {
	if o == nil {
		return 0
	}
	return int(o.rows.GetCardinality())
}
