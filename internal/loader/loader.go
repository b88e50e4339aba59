// Package loader streams outcomes and covariates out of PostgreSQL in
// fixed-size column batches, in the row id order the index builder needs.
package loader

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	apperrors "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bigknn/pkg/postgres"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Columns is one batch of covariates in column form.
type Columns struct {
	RowIDs     []int64
	FeatureIDs []int64
	Values     []float64
}

func (c *Columns) Len() int {
	return len(c.RowIDs)
}

func (c *Columns) reset() {
	c.RowIDs = c.RowIDs[:0]
	c.FeatureIDs = c.FeatureIDs[:0]
	c.Values = c.Values[:0]
}

type Loader struct {
	db        Querier
	batchSize int
	logger    *slog.Logger
}

func New(db Querier, batchSize int) (*Loader, error) {
	if batchSize < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "batch size must be at least 1, got %d", batchSize)
	}
	return &Loader{
		db:        db,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "loader"),
	}, nil
}

// Outcomes passes the row ids in table to fn, batchSize at a time.
func (l *Loader) Outcomes(ctx context.Context, table string, fn func(rowIDs []int64) error) error {
	query := fmt.Sprintf("SELECT row_id FROM %s ORDER BY row_id", postgres.Table(table))
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	batch := make([]int64, 0, l.batchSize)
	total := 0
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			return fmt.Errorf("scanning outcome: %w", err)
		}
		batch = append(batch, rowID)
		if len(batch) == l.batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading outcomes: %w", err)
	}
	if len(batch) > 0 {
		if err := fn(batch); err != nil {
			return err
		}
		total += len(batch)
	}
	l.logger.Info("outcomes loaded", "table", table, "rows", total)
	return nil
}

// Covariates passes the (row_id, feature_id, value) triples in table to fn,
// sorted by row id. The batch is reused between calls; fn must not retain it.
func (l *Loader) Covariates(ctx context.Context, table string, fn func(batch *Columns) error) error {
	query := fmt.Sprintf("SELECT row_id, feature_id, value FROM %s ORDER BY row_id, feature_id", postgres.Table(table))
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("querying covariates: %w", err)
	}
	defer rows.Close()

	batch := &Columns{
		RowIDs:     make([]int64, 0, l.batchSize),
		FeatureIDs: make([]int64, 0, l.batchSize),
		Values:     make([]float64, 0, l.batchSize),
	}
	total, batches := 0, 0
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		total += batch.Len()
		batches++
		batch.reset()
		return nil
	}
	for rows.Next() {
		var (
			rowID, featureID int64
			value            float64
		)
		if err := rows.Scan(&rowID, &featureID, &value); err != nil {
			return fmt.Errorf("scanning covariate: %w", err)
		}
		batch.RowIDs = append(batch.RowIDs, rowID)
		batch.FeatureIDs = append(batch.FeatureIDs, featureID)
		batch.Values = append(batch.Values, value)
		if batch.Len() == l.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading covariates: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}
	l.logger.Info("covariates loaded", "table", table, "triples", total, "batches", batches)
	return nil
}
