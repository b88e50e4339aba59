package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/metrics"
)

type jobResult struct {
	result PredictionResult
	err    error
}

type collection struct {
	results []PredictionResult
	errs    []error
}

// Scheduler runs predictions on a bounded pool of goroutines. Results flow
// over a channel to a single collector goroutine that owns the result slice.
type Scheduler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	exec     *Executor
	sem      *semaphore.Weighted
	poolSize int
	metrics  *metrics.Metrics
	logger   *slog.Logger

	results   chan jobResult
	snapshots chan chan []PredictionResult
	done      chan struct{}
	collected collection

	mu        sync.Mutex
	stopped   bool
	submitted int
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewScheduler starts the collector. ctx bounds the whole run; it is not a
// per-prediction deadline.
func NewScheduler(ctx context.Context, exec *Executor, poolSize int) (*Scheduler, error) {
	if poolSize < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "pool size must be at least 1, got %d", poolSize)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		ctx:       ctx,
		cancel:    cancel,
		exec:      exec,
		sem:       semaphore.NewWeighted(int64(poolSize)),
		poolSize:  poolSize,
		metrics:   exec.metrics,
		logger:    slog.Default().With("component", "prediction-scheduler"),
		results:   make(chan jobResult, poolSize),
		snapshots: make(chan chan []PredictionResult),
		done:      make(chan struct{}),
	}
	go s.collect()
	s.logger.Info("prediction scheduler started", "pool_size", poolSize, "k", exec.k, "weighted", exec.weighted)
	return s, nil
}

// Submit queues a prediction for the row and returns immediately. The
// vector's RowID is overwritten with rowID.
func (s *Scheduler) Submit(rowID int64, query index.SparseVector) error {
	query.RowID = rowID
	if err := index.Validate(query); err != nil {
		return err
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return apperrors.Newf(apperrors.ErrInvalidIndexState, "submit of row %d after drain", rowID)
	}
	s.submitted++
	s.wg.Add(1)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PredictionsInFlight.Inc()
	}
	go s.run(query)
	return nil
}

func (s *Scheduler) run(query index.SparseVector) {
	defer s.wg.Done()
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.results <- jobResult{result: PredictionResult{RowID: query.RowID}, err: err}
		return
	}
	defer s.sem.Release(1)
	result, err := s.exec.Predict(s.ctx, query)
	s.results <- jobResult{result: result, err: err}
}

func (s *Scheduler) collect() {
	defer close(s.done)
	for {
		select {
		case job, ok := <-s.results:
			if !ok {
				return
			}
			if s.metrics != nil {
				s.metrics.PredictionsInFlight.Dec()
			}
			if job.err != nil {
				if errors.Is(job.err, context.Canceled) {
					s.logger.Debug("prediction cancelled", "row_id", job.result.RowID)
				} else {
					s.logger.Error("prediction failed", "row_id", job.result.RowID, "error", job.err)
				}
				s.collected.errs = append(s.collected.errs, job.err)
				continue
			}
			s.collected.results = append(s.collected.results, job.result)
		case req := <-s.snapshots:
			snapshot := make([]PredictionResult, len(s.collected.results))
			copy(snapshot, s.collected.results)
			req <- snapshot
		}
	}
}

// Drain stops accepting submissions and waits for every outstanding
// prediction. Results are in completion order. If the timeout elapses first,
// Drain returns what has been collected so far with ErrPredictionTimeout; the
// remaining predictions keep running, their results are discarded, and Close
// must be called before the index is released. A non-positive timeout waits
// indefinitely. Prediction failures are joined
// into the returned error.
func (s *Scheduler) Drain(timeout time.Duration) ([]PredictionResult, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrInvalidIndexState, "scheduler already drained")
	}
	s.stopped = true
	submitted := s.submitted
	s.mu.Unlock()
	s.closeResults()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-s.done:
		s.logger.Info("predictions drained",
			"submitted", submitted,
			"collected", len(s.collected.results),
			"failed", len(s.collected.errs),
		)
		return s.collected.results, errors.Join(s.collected.errs...)
	case <-deadline:
	}

	req := make(chan []PredictionResult, 1)
	select {
	case s.snapshots <- req:
		partial := <-req
		if s.metrics != nil {
			s.metrics.DrainTimeoutsTotal.Inc()
		}
		s.logger.Warn("prediction drain timed out",
			"timeout", timeout,
			"submitted", submitted,
			"collected", len(partial),
		)
		return partial, apperrors.Newf(apperrors.ErrPredictionTimeout,
			"%d of %d predictions collected within %s", len(partial), submitted, timeout)
	case <-s.done:
		return s.collected.results, errors.Join(s.collected.errs...)
	}
}

// Close stops accepting submissions, cancels predictions still waiting for
// a worker and blocks until every running prediction has returned. After
// Close the index is no longer read and may be closed. Close may follow a
// timed-out Drain and is safe to call more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.closeResults()
	s.cancel()
	<-s.done
	return nil
}

// closeResults closes the result channel once every submitted job has sent.
func (s *Scheduler) closeResults() {
	s.closeOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.results)
		}()
	})
}

func (s *Scheduler) PoolSize() int {
	return s.poolSize
}
