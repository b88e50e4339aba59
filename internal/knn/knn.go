// Package knn is the entry point for building a classifier index from
// column-wise data and predicting outcome probabilities for new rows.
//
// A typical run loads the positive-outcome row ids, streams the covariates
// sorted by row id, finalizes, then opens the index for prediction:
//
//	w := knn.OpenForWriting(cfg)
//	w.LoadOutcomes(positives)
//	w.LoadCovariates(rows, features, values)
//	idx, err := w.FinalizeWriting()
//	p, err := knn.OpenForPrediction(idx, cfg, 8)
//	p.SubmitPrediction(rowID, features, values)
//	results, err := p.CollectPredictions(time.Minute)
package knn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/grouper"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/metrics"
)

type PredictionResult = executor.PredictionResult

type options struct {
	ctx     context.Context
	metrics *metrics.Metrics
	store   cache.Store
}

type Option func(*options)

// WithMetrics records build and prediction metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCache memoises predictions in store, using the Redis TTL from config.
func WithCache(store cache.Store) Option {
	return func(o *options) { o.store = store }
}

// WithContext bounds the prediction run. Cancelling ctx fails the
// predictions that have not started yet.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

func applyOptions(opts []Option) options {
	o := options{ctx: context.Background()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Writer builds an index. It is not safe for concurrent use.
type Writer struct {
	builder *indexer.Builder
}

func OpenForWriting(cfg *config.Config, opts ...Option) *Writer {
	o := applyOptions(opts)
	return &Writer{builder: indexer.NewBuilder(cfg.Indexer, o.metrics)}
}

// LoadOutcomes registers the rows with the positive outcome. Every row not
// listed is negative.
func (w *Writer) LoadOutcomes(rowIDs []int64) error {
	return w.builder.LoadOutcomes(rowIDs...)
}

// LoadCovariates appends one batch of (row, feature, value) columns. Rows
// must arrive in non-decreasing row id order across all batches.
func (w *Writer) LoadCovariates(rowIDs, featureIDs []int64, values []float64) error {
	batch, err := grouper.Columns(rowIDs, featureIDs, values)
	if err != nil {
		return err
	}
	return w.builder.AddCovariates(batch)
}

// FinalizeWriting freezes the index, persisting it when a data directory is
// configured, and returns it ready for prediction.
func (w *Writer) FinalizeWriting() (*index.InvertedIndex, error) {
	return w.builder.Finalize()
}

// OpenIndex loads an index persisted by an earlier FinalizeWriting.
func OpenIndex(dataDir string) (*index.InvertedIndex, error) {
	return indexer.OpenIndex(dataDir)
}

// Predictor schedules predictions against a finalized index.
type Predictor struct {
	scheduler *executor.Scheduler
	timeout   time.Duration
	logger    *slog.Logger

	// mu guards the streaming grouper used by Predict.
	mu      sync.Mutex
	grouper *grouper.Grouper
}

func OpenForPrediction(idx *index.InvertedIndex, cfg *config.Config, poolSize int, opts ...Option) (*Predictor, error) {
	o := applyOptions(opts)
	execOpts := executor.Options{
		K:        cfg.Knn.K,
		Weighted: cfg.Knn.Weighted,
		Metrics:  o.metrics,
	}
	if o.store != nil {
		if err := idx.CheckReadable(); err != nil {
			return nil, err
		}
		fingerprint, err := cache.Fingerprint(idx)
		if err != nil {
			return nil, fmt.Errorf("fingerprinting index: %w", err)
		}
		execOpts.Cache = cache.New(o.store, cfg.Redis.CacheTTL, cache.Scope{
			Fingerprint: fingerprint,
			K:           cfg.Knn.K,
			Weighted:    cfg.Knn.Weighted,
		})
	}
	exec, err := executor.New(idx, execOpts)
	if err != nil {
		return nil, err
	}
	scheduler, err := executor.NewScheduler(o.ctx, exec, poolSize)
	if err != nil {
		return nil, err
	}
	return &Predictor{
		scheduler: scheduler,
		timeout:   cfg.Knn.PredictTimeout,
		logger:    slog.Default().With("component", "predictor"),
		grouper:   grouper.New(),
	}, nil
}

// SubmitPrediction queues one row and returns without waiting for it.
func (p *Predictor) SubmitPrediction(rowID int64, featureIDs []int64, values []float64) error {
	query, err := grouper.Vector(rowID, featureIDs, values)
	if err != nil {
		return err
	}
	return p.scheduler.Submit(rowID, query)
}

// Predict streams row-sorted columns, submitting each row as soon as a later
// row shows it is complete. The last row is submitted by CollectPredictions.
func (p *Predictor) Predict(rowIDs, featureIDs []int64, values []float64) error {
	batch, err := grouper.Columns(rowIDs, featureIDs, values)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rows, err := p.grouper.Ingest(batch)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := p.scheduler.Submit(row.RowID, row); err != nil {
			return err
		}
	}
	return nil
}

// CollectPredictions submits any row still held by Predict, then waits for
// every prediction. A zero timeout uses the configured predict timeout. On
// timeout the results gathered so far are returned with
// ErrPredictionTimeout.
func (p *Predictor) CollectPredictions(timeout time.Duration) ([]PredictionResult, error) {
	p.mu.Lock()
	last := p.grouper.Flush()
	p.mu.Unlock()
	if last != nil {
		if err := p.scheduler.Submit(last.RowID, *last); err != nil {
			return nil, err
		}
	}
	if timeout == 0 {
		timeout = p.timeout
	}
	results, err := p.scheduler.Drain(timeout)
	p.logger.Info("predictions collected", "results", len(results), "error", err)
	return results, err
}

// Close cancels predictions still queued after a timed-out collect and waits
// for running ones to return. The index must not be closed before it.
func (p *Predictor) Close() error {
	return p.scheduler.Close()
}
