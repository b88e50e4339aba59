// Package indexer builds the inverted index from an outcome list and a
// row-sorted covariate stream, and persists it as a segment file.
package indexer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/grouper"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/metrics"
)

// Builder is the single writer of an index. Outcomes must be loaded before
// the first covariate batch. It is not safe for concurrent use.
type Builder struct {
	outcomes  *index.OutcomeSet
	grouper   *grouper.Grouper
	idx       *index.InvertedIndex
	writer    *segment.Writer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	finalized bool
}

// NewBuilder returns a builder. With a non-empty cfg.DataDir the finalized
// index is also written to disk, replacing any earlier segment. m may be nil.
func NewBuilder(cfg config.IndexerConfig, m *metrics.Metrics) *Builder {
	b := &Builder{
		outcomes: index.NewOutcomeSet(),
		grouper:  grouper.New(),
		metrics:  m,
		logger:   slog.Default().With("component", "indexer"),
	}
	if cfg.DataDir != "" {
		b.writer = segment.NewWriter(cfg.DataDir)
	}
	return b
}

// LoadOutcomes marks rows as having the positive outcome. It may be called
// several times, but only before the first covariate batch.
func (b *Builder) LoadOutcomes(rowIDs ...int64) error {
	if b.finalized || b.idx != nil {
		return apperrors.New(apperrors.ErrInvalidIndexState, "outcomes must be loaded before covariates")
	}
	b.outcomes.Add(rowIDs...)
	if b.metrics != nil {
		b.metrics.OutcomesLoadedTotal.Add(float64(len(rowIDs)))
	}
	b.logger.Debug("outcomes loaded", "batch", len(rowIDs), "total", b.outcomes.Len())
	return nil
}

// AddCovariates feeds one batch of row-sorted triples. Completed rows are
// inserted; the last row of the batch stays pending until a later batch
// moves past it or Finalize is called. A rejected batch changes nothing.
func (b *Builder) AddCovariates(batch []grouper.Triple) error {
	if b.finalized {
		return apperrors.New(apperrors.ErrInvalidIndexState, "covariates added after finalize")
	}
	if b.idx == nil {
		idx, err := index.Open(b.outcomes)
		if err != nil {
			return err
		}
		b.idx = idx
		b.logger.Info("index opened for writing", "positive_rows", b.outcomes.Len())
	}
	rows, err := b.grouper.Ingest(batch)
	if err != nil {
		return err
	}
	return b.insert(rows...)
}

func (b *Builder) insert(rows ...index.SparseVector) error {
	for _, row := range rows {
		docID, err := b.idx.Insert(row)
		if err != nil {
			return fmt.Errorf("inserting row %d: %w", row.RowID, err)
		}
		b.logger.Debug("row indexed", "row_id", row.RowID, "doc_id", docID, "features", len(row.Features))
	}
	if b.metrics != nil {
		b.metrics.RowsIndexedTotal.Add(float64(len(rows)))
	}
	return nil
}

// Finalize inserts the pending row, freezes the index and, when a data
// directory is configured, writes the segment file.
func (b *Builder) Finalize() (*index.InvertedIndex, error) {
	if b.finalized {
		return nil, apperrors.New(apperrors.ErrInvalidIndexState, "index already finalized")
	}
	if b.idx == nil {
		idx, err := index.Open(b.outcomes)
		if err != nil {
			return nil, err
		}
		b.idx = idx
	}
	start := time.Now()
	if last := b.grouper.Flush(); last != nil {
		if err := b.insert(*last); err != nil {
			return nil, err
		}
	}
	if err := b.idx.Finalize(); err != nil {
		return nil, fmt.Errorf("finalizing index: %w", err)
	}
	b.finalized = true

	stats := b.idx.Stats()
	if b.writer != nil {
		name, err := b.writer.Write(b.idx)
		if err != nil {
			return nil, fmt.Errorf("writing segment: %w", err)
		}
		b.logger.Info("segment written", "segment", name, "path", b.writer.Path())
	}
	if b.metrics != nil {
		b.metrics.IndexFinalizeDuration.Observe(time.Since(start).Seconds())
		b.metrics.IndexDocuments.Set(float64(stats.Docs))
		b.metrics.IndexFeatures.Set(float64(stats.Features))
	}
	b.logger.Info("index finalized",
		"doc_count", stats.Docs,
		"features", stats.Features,
		"postings", stats.Postings,
		"positive_docs", stats.Positives,
		"avg_length", stats.AvgLength,
		"duration", time.Since(start),
	)
	return b.idx, nil
}

// OpenIndex loads the segment previously written to dataDir.
func OpenIndex(dataDir string) (*index.InvertedIndex, error) {
	path := filepath.Join(dataDir, segment.FileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.ErrInvalidIndexState, "no index in %s", dataDir)
		}
		return nil, fmt.Errorf("checking segment: %w", err)
	}
	idx, err := segment.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading segment: %w", err)
	}
	stats := idx.Stats()
	slog.Default().With("component", "indexer").Info("loaded existing segment",
		"path", path,
		"doc_count", stats.Docs,
		"features", stats.Features,
	)
	return idx, nil
}
