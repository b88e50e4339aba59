package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/searcher/topk"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/searcher/vote"
	apperrors "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/metrics"
)

// PredictionResult is the positive-outcome probability for one query row.
type PredictionResult struct {
	RowID       int64   `json:"row_id"`
	Probability float64 `json:"probability"`
}

// Cache memoises probabilities for identical query vectors. Implementations
// must be safe for concurrent use.
type Cache interface {
	GetOrCompute(ctx context.Context, query index.SparseVector, compute func() (float64, error)) (float64, bool, error)
}

type Options struct {
	K        int
	Weighted bool
	// Cache and Metrics are optional.
	Cache   Cache
	Metrics *metrics.Metrics
}

// Executor runs a single prediction: score, select the top K, vote.
// It only reads the index and is safe for concurrent use.
type Executor struct {
	idx      *index.InvertedIndex
	k        int
	weighted bool
	cache    Cache
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(idx *index.InvertedIndex, opts Options) (*Executor, error) {
	if opts.K < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "k must be at least 1, got %d", opts.K)
	}
	if err := idx.CheckReadable(); err != nil {
		return nil, err
	}
	return &Executor{
		idx:      idx,
		k:        opts.K,
		weighted: opts.Weighted,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		logger:   slog.Default().With("component", "prediction-executor"),
	}, nil
}

func (e *Executor) K() int {
	return e.k
}

func (e *Executor) Weighted() bool {
	return e.weighted
}

// Neighbors returns the K nearest indexed rows for the query, best first.
func (e *Executor) Neighbors(query index.SparseVector) ([]topk.Neighbor, error) {
	candidates, err := ranker.Score(e.idx, query)
	if err != nil {
		return nil, fmt.Errorf("scoring row %d: %w", query.RowID, err)
	}
	neighbors, err := topk.Select(e.idx, candidates, e.k)
	if err != nil {
		return nil, fmt.Errorf("selecting neighbors for row %d: %w", query.RowID, err)
	}
	return neighbors, nil
}

// Predict returns the probability that the query row has the positive outcome.
func (e *Executor) Predict(ctx context.Context, query index.SparseVector) (PredictionResult, error) {
	start := time.Now()
	result := PredictionResult{RowID: query.RowID}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	var (
		probability float64
		cached      bool
		err         error
		neighbors   = -1
	)
	compute := func() (float64, error) {
		found, err := e.Neighbors(query)
		if err != nil {
			return 0, err
		}
		neighbors = len(found)
		return vote.Probability(found, e.weighted), nil
	}
	if e.cache != nil {
		probability, cached, err = e.cache.GetOrCompute(ctx, query, compute)
	} else {
		probability, err = compute()
	}
	if err != nil {
		e.observe(metrics.OutcomeError, start, -1)
		return result, err
	}
	result.Probability = probability

	outcome := metrics.OutcomeScored
	switch {
	case cached || neighbors < 0:
		// compute did not run in this call
		cached = true
		outcome = metrics.OutcomeCached
	case neighbors == 0:
		outcome = metrics.OutcomeNoNeighbors
	}
	e.observe(outcome, start, neighbors)
	e.logger.Debug("prediction complete",
		"row_id", query.RowID,
		"neighbors", neighbors,
		"probability", probability,
		"cached", cached,
	)
	return result, nil
}

// observe records one prediction. neighbors is negative when the neighbor
// search did not run in this call.
func (e *Executor) observe(outcome string, start time.Time, neighbors int) {
	if e.metrics == nil {
		return
	}
	e.metrics.PredictionsTotal.WithLabelValues(outcome).Inc()
	e.metrics.PredictionLatency.Observe(time.Since(start).Seconds())
	if neighbors >= 0 {
		e.metrics.NeighborsPerPrediction.Observe(float64(neighbors))
	}
}
