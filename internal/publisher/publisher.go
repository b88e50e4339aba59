// Package publisher delivers prediction results to the configured sinks,
// a PostgreSQL table and a Kafka topic, in batches with retry.
package publisher

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/resilience"
)

// Sink writes one batch of results. Writes must be idempotent, since a
// failed batch is retried whole.
type Sink interface {
	Name() string
	Write(ctx context.Context, results []executor.PredictionResult) error
}

// Publisher fans each result set out to every sink concurrently.
type Publisher struct {
	sinks     []Sink
	breakers  map[string]*resilience.CircuitBreaker
	batchSize int
	retry     resilience.RetryConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New returns a publisher over sinks. m may be nil.
func New(cfg config.PublishConfig, m *metrics.Metrics, sinks ...Sink) *Publisher {
	p := &Publisher{
		sinks:     sinks,
		breakers:  make(map[string]*resilience.CircuitBreaker, len(sinks)),
		batchSize: cfg.BatchSize,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialBackoff,
		},
		metrics: m,
		logger:  slog.Default().With("component", "publisher"),
	}
	if p.batchSize < 1 {
		p.batchSize = 1000
	}
	for _, s := range sinks {
		p.breakers[s.Name()] = resilience.NewCircuitBreaker(s.Name(), resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
		})
	}
	return p
}

// Publish writes results to every sink. A sink that keeps failing stops
// receiving batches; the first sink error is returned after the others
// finish.
func (p *Publisher) Publish(ctx context.Context, results []executor.PredictionResult) error {
	if len(p.sinks) == 0 || len(results) == 0 {
		return nil
	}
	var g errgroup.Group
	for _, sink := range p.sinks {
		sink := sink
		g.Go(func() error {
			return p.publishTo(ctx, sink, results)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	p.logger.Info("predictions published", "results", len(results), "sinks", len(p.sinks))
	return nil
}

func (p *Publisher) publishTo(ctx context.Context, sink Sink, results []executor.PredictionResult) error {
	breaker := p.breakers[sink.Name()]
	for start := 0; start < len(results); start += p.batchSize {
		end := min(start+p.batchSize, len(results))
		batch := results[start:end]
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			return resilience.Retry(ctx, "publish-"+sink.Name(), p.retry, func() error {
				return sink.Write(ctx, batch)
			})
		})
		if err != nil {
			p.count(sink.Name(), "failed", len(results)-start)
			p.logger.Error("publishing to sink failed",
				"sink", sink.Name(),
				"published", start,
				"remaining", len(results)-start,
				"error", err,
			)
			return fmt.Errorf("publishing to %s: %w", sink.Name(), err)
		}
		p.count(sink.Name(), "ok", len(batch))
	}
	return nil
}

func (p *Publisher) count(sink, status string, n int) {
	if p.metrics != nil {
		p.metrics.PublishedPredictionTotal.WithLabelValues(sink, status).Add(float64(n))
	}
}

// PostgresSink upserts results into a (row_id, probability) table.
type PostgresSink struct {
	db    *postgres.Client
	query string
}

func NewPostgresSink(db *postgres.Client, table string) *PostgresSink {
	return &PostgresSink{
		db: db,
		query: fmt.Sprintf(`INSERT INTO %s (row_id, probability)
		SELECT * FROM unnest($1::bigint[], $2::double precision[])
		ON CONFLICT (row_id) DO UPDATE SET probability = EXCLUDED.probability`, postgres.Table(table)),
	}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, results []executor.PredictionResult) error {
	rowIDs := make([]int64, len(results))
	probabilities := make([]float64, len(results))
	for i, r := range results {
		rowIDs[i] = r.RowID
		probabilities[i] = r.Probability
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.query, pq.Array(rowIDs), pq.Array(probabilities)); err != nil {
			return fmt.Errorf("upserting predictions: %w", err)
		}
		return nil
	})
}

type batchProducer interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// KafkaSink publishes one JSON message per result, keyed by row id.
type KafkaSink struct {
	producer batchProducer
}

func NewKafkaSink(producer *kafka.Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, results []executor.PredictionResult) error {
	events := make([]kafka.Event, len(results))
	for i, r := range results {
		events[i] = kafka.Event{Key: strconv.FormatInt(r.RowID, 10), Value: r}
	}
	return s.producer.PublishBatch(ctx, events)
}
