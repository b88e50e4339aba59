// Package grouper turns a column-wise stream of (row, feature, value)
// triples, sorted by row id, into one sparse vector per row. A row may be
// split across successive batches; the grouper carries the unfinished row
// from one call to the next.
package grouper

import (
	"log/slog"
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/errors"
)

// Triple is one covariate observation. Value is rounded to the nearest
// integer to give the feature's count.
type Triple struct {
	RowID     int64
	FeatureID int64
	Value     float64
}

// Columns zips parallel row, feature and value columns into triples.
func Columns(rowIDs, featureIDs []int64, values []float64) ([]Triple, error) {
	if len(rowIDs) != len(featureIDs) || len(rowIDs) != len(values) {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput,
			"column lengths differ: %d row ids, %d feature ids, %d values",
			len(rowIDs), len(featureIDs), len(values))
	}
	triples := make([]Triple, len(rowIDs))
	for i := range rowIDs {
		triples[i] = Triple{RowID: rowIDs[i], FeatureID: featureIDs[i], Value: values[i]}
	}
	return triples, nil
}

// Vector builds a single row from parallel feature and value columns with
// the same rounding and merging rules as Ingest.
func Vector(rowID int64, featureIDs []int64, values []float64) (index.SparseVector, error) {
	if len(featureIDs) != len(values) {
		return index.SparseVector{}, apperrors.Newf(apperrors.ErrInvalidInput,
			"column lengths differ: %d feature ids, %d values", len(featureIDs), len(values))
	}
	row := newPendingRow(rowID)
	for i, featureID := range featureIDs {
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			return index.SparseVector{}, apperrors.Newf(apperrors.ErrInvalidInput,
				"row %d feature %d has non-finite value", rowID, featureID)
		}
		row.add(featureID, values[i])
	}
	return row.vector(), nil
}

// pendingRow accumulates the features of the row currently being read.
type pendingRow struct {
	rowID  int64
	counts map[int64]int
}

func newPendingRow(rowID int64) *pendingRow {
	return &pendingRow{rowID: rowID, counts: make(map[int64]int)}
}

func (p *pendingRow) add(featureID int64, value float64) {
	count := int(math.Round(value))
	if count < 1 {
		return
	}
	p.counts[featureID] += count
}

func (p *pendingRow) vector() index.SparseVector {
	v := index.SparseVector{
		RowID:    p.rowID,
		Features: make([]index.Feature, 0, len(p.counts)),
	}
	for id, count := range p.counts {
		v.Features = append(v.Features, index.Feature{ID: id, Count: count})
	}
	sort.Slice(v.Features, func(i, j int) bool {
		return v.Features[i].ID < v.Features[j].ID
	})
	return v
}

// Grouper is not safe for concurrent use.
type Grouper struct {
	pending *pendingRow
	lastRow int64
	started bool
	logger  *slog.Logger
}

func New() *Grouper {
	return &Grouper{
		logger: slog.Default().With("component", "row-grouper"),
	}
}

// Ingest consumes a batch and returns the rows it completed. The last row of
// the batch is held back until a later batch starts a new row or Flush is
// called. If any row id in the batch is lower than the one before it, the
// whole batch is rejected with ErrOutOfOrderInput and the grouper is left
// unchanged.
func (g *Grouper) Ingest(batch []Triple) ([]index.SparseVector, error) {
	if err := g.validate(batch); err != nil {
		return nil, err
	}
	var out []index.SparseVector
	for _, t := range batch {
		if g.pending != nil && g.pending.rowID != t.RowID {
			out = append(out, g.pending.vector())
			g.pending = nil
		}
		if g.pending == nil {
			g.pending = newPendingRow(t.RowID)
		}
		g.pending.add(t.FeatureID, t.Value)
	}
	if len(batch) > 0 {
		g.lastRow = batch[len(batch)-1].RowID
		g.started = true
	}
	g.logger.Debug("batch grouped",
		"triples", len(batch),
		"rows_completed", len(out),
		"carry_over", g.pending != nil,
	)
	return out, nil
}

// Flush returns the held-back row, if any, and ends the stream. The grouper
// may then be reused for a new stream.
func (g *Grouper) Flush() *index.SparseVector {
	g.started = false
	g.lastRow = 0
	if g.pending == nil {
		return nil
	}
	v := g.pending.vector()
	g.pending = nil
	return &v
}

// Pending reports whether a partial row is being carried over.
func (g *Grouper) Pending() bool {
	return g.pending != nil
}

func (g *Grouper) validate(batch []Triple) error {
	prev, seen := g.lastRow, g.started
	for i, t := range batch {
		if seen && t.RowID < prev {
			return apperrors.Newf(apperrors.ErrOutOfOrderInput,
				"row id %d at position %d follows row id %d", t.RowID, i, prev)
		}
		if math.IsNaN(t.Value) || math.IsInf(t.Value, 0) {
			return apperrors.Newf(apperrors.ErrInvalidInput,
				"row %d feature %d has non-finite value at position %d", t.RowID, t.FeatureID, i)
		}
		prev, seen = t.RowID, true
	}
	return nil
}
