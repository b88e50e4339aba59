// Command bigknn builds a k-nearest-neighbor classifier index from
// PostgreSQL and predicts outcome probabilities for new rows.
//
//	bigknn build   -config bigknn.yaml
//	bigknn predict -config bigknn.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/knn"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/loader"
	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/publisher"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/redis"
)

const usageText = "usage: bigknn <build|predict> [-config path]\n"

func main() {
	os.Exit(run(os.Args[1:], prometheus.DefaultRegisterer))
}

// run executes one command and returns the process exit code. Deferred
// cleanup, including the metrics server shutdown, completes before it
// returns.
func run(args []string, reg prometheus.Registerer) int {
	if len(args) < 1 || (args[0] != "build" && args[0] != "predict") {
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}
	command := args[0]
	flags := flag.NewFlagSet(command, flag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file")
	if err := flags.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, fmt.Sprintf("%s-%d", command, time.Now().Unix()))

	m := metrics.New(reg)
	checker := health.NewChecker()
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, checker.Handler())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	if command == "build" {
		err = runBuild(ctx, cfg, m, checker)
	} else {
		err = runPredict(ctx, cfg, m, checker)
	}
	log := logger.FromContext(ctx)
	if err != nil && apperrors.IsFatal(err) {
		log.Error("run failed", "command", command, "error", err)
		return 1
	}
	log.Info("run complete", "command", command)
	return 0
}

func runBuild(ctx context.Context, cfg *config.Config, m *metrics.Metrics, checker *health.Checker) error {
	log := logger.FromContext(ctx)
	if cfg.Indexer.DataDir == "" {
		return apperrors.New(apperrors.ErrInvalidInput, "indexer.dataDir is required to build")
	}
	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	checker.Register("postgres", db.DB.PingContext)
	l, err := loader.New(db.DB, cfg.Knn.BatchSize)
	if err != nil {
		return err
	}

	w := knn.OpenForWriting(cfg, knn.WithMetrics(m))
	if err := l.Outcomes(ctx, cfg.Postgres.OutcomesTable, w.LoadOutcomes); err != nil {
		return fmt.Errorf("loading outcomes: %w", err)
	}
	err = l.Covariates(ctx, cfg.Postgres.CovariatesTable, func(batch *loader.Columns) error {
		return w.LoadCovariates(batch.RowIDs, batch.FeatureIDs, batch.Values)
	})
	if err != nil {
		return fmt.Errorf("loading covariates: %w", err)
	}
	idx, err := w.FinalizeWriting()
	if err != nil {
		return err
	}
	stats := idx.Stats()
	log.Info("index built",
		"data_dir", cfg.Indexer.DataDir,
		"doc_count", stats.Docs,
		"features", stats.Features,
		"positive_docs", stats.Positives,
	)
	return nil
}

func runPredict(ctx context.Context, cfg *config.Config, m *metrics.Metrics, checker *health.Checker) error {
	log := logger.FromContext(ctx)
	idx, err := knn.OpenIndex(cfg.Indexer.DataDir)
	if err != nil {
		return err
	}
	defer idx.Close()

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	checker.Register("postgres", db.DB.PingContext)

	opts := []knn.Option{knn.WithMetrics(m), knn.WithContext(ctx)}
	if cfg.Redis.Enabled {
		rdb, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("prediction cache unavailable, continuing without it", "error", err)
		} else {
			defer rdb.Close()
			checker.Register("redis", rdb.Ping)
			opts = append(opts, knn.WithCache(rdb))
		}
	}
	p, err := knn.OpenForPrediction(idx, cfg, cfg.Knn.PoolSize, opts...)
	if err != nil {
		return err
	}
	// runs before idx.Close
	defer p.Close()

	l, err := loader.New(db.DB, cfg.Knn.BatchSize)
	if err != nil {
		return err
	}
	err = l.Covariates(ctx, cfg.Postgres.QueriesTable, func(batch *loader.Columns) error {
		return p.Predict(batch.RowIDs, batch.FeatureIDs, batch.Values)
	})
	if err != nil {
		return fmt.Errorf("loading query covariates: %w", err)
	}
	results, collectErr := p.CollectPredictions(cfg.Knn.PredictTimeout)
	if apperrors.IsFatal(collectErr) {
		return collectErr
	}
	if collectErr != nil {
		log.Warn("publishing partial predictions", "results", len(results), "error", collectErr)
	}

	var sinks []publisher.Sink
	if cfg.Publish.Postgres {
		sinks = append(sinks, publisher.NewPostgresSink(db, cfg.Postgres.PredictionsTable))
	}
	if cfg.Kafka.Enabled {
		checker.Register("kafka", func(ctx context.Context) error { return kafka.Ping(ctx, cfg.Kafka) })
		if report := checker.Run(ctx); report.Status != health.StatusUp {
			log.Warn("sinks not healthy before publish", "down", report.Down())
		}
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Predictions)
		defer producer.Close()
		sinks = append(sinks, publisher.NewKafkaSink(producer))
	}
	if err := publisher.New(cfg.Publish, m, sinks...).Publish(ctx, results); err != nil {
		return err
	}
	log.Info("predictions written", "results", len(results), "sinks", len(sinks))
	return collectErr
}
