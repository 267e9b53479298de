// Package stores runs validated, read-only query text against the two
// structured Argo stores: the SQLite profile store (one row per
// measurement) and the Postgres metadata store (floats, deployments,
// positions).
package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/circuitbreaker"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/metrics"
)

// Record is one result row keyed by column name.
type Record map[string]any

// Rows is a bounded query result. Truncated reports that the store had
// more rows than the cap allowed.
type Rows struct {
	Columns   []string `json:"columns"`
	Records   []Record `json:"records"`
	Truncated bool     `json:"truncated"`
}

func (r Rows) Len() int { return len(r.Records) }

// Executor runs one validated statement. Callers validate before calling;
// the executor additionally runs inside a read-only transaction.
type Executor interface {
	Query(ctx context.Context, query string, maxRows int) (Rows, error)
}

var ErrInvalidRowCap = errors.New("maxRows must be positive")

// Options tunes an SQLExecutor.
type Options struct {
	// Timeout bounds one query, including transaction setup.
	Timeout time.Duration
	// Setup statements run inside the transaction before the query,
	// e.g. a local statement timeout.
	Setup []string
}

// SQLExecutor is an Executor over any sqlx database.
type SQLExecutor struct {
	name   string
	db     *sqlx.DB
	cb     *circuitbreaker.Instrumented
	opts   Options
	logger *zap.Logger
}

// NewSQLExecutor wraps db. name is used for breaker, metrics and logs and
// should be one of the circuitbreaker store dependency names.
func NewSQLExecutor(name string, db *sqlx.DB, opts Options, logger *zap.Logger) *SQLExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLExecutor{
		name:   name,
		db:     db,
		cb:     circuitbreaker.ForDependency(name, logger),
		opts:   opts,
		logger: logger.With(zap.String("store", name)),
	}
}

func (e *SQLExecutor) Name() string { return e.name }

// Query executes query and returns at most maxRows rows.
func (e *SQLExecutor) Query(ctx context.Context, query string, maxRows int) (Rows, error) {
	if maxRows <= 0 {
		return Rows{}, ErrInvalidRowCap
	}
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	var out Rows
	start := time.Now()
	err := e.cb.Execute(ctx, func() error {
		var err error
		out, err = e.query(ctx, query, maxRows)
		if statementError(err) {
			return circuitbreaker.Ignore(err)
		}
		return err
	})
	if err != nil {
		e.logger.Warn("Store query failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return Rows{}, fmt.Errorf("%s query failed: %w", e.name, err)
	}

	metrics.StoreRowsReturned.WithLabelValues(e.name).Observe(float64(out.Len()))
	e.logger.Debug("Store query completed",
		zap.Int("rows", out.Len()),
		zap.Bool("truncated", out.Truncated),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

func (e *SQLExecutor) query(ctx context.Context, query string, maxRows int) (Rows, error) {
	tx, err := e.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Rows{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	// Read-only: nothing to commit.
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range e.opts.Setup {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return Rows{}, fmt.Errorf("transaction setup: %w", err)
		}
	}

	rows, err := tx.QueryxContext(ctx, query)
	if err != nil {
		return Rows{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Rows{}, err
	}
	out := Rows{Columns: cols, Records: make([]Record, 0)}
	for rows.Next() {
		if len(out.Records) == maxRows {
			out.Truncated = true
			break
		}
		rec := make(map[string]any, len(cols))
		if err := rows.MapScan(rec); err != nil {
			return Rows{}, fmt.Errorf("scan row: %w", err)
		}
		out.Records = append(out.Records, normalize(rec))
	}
	if err := rows.Err(); err != nil {
		return Rows{}, err
	}
	return out, nil
}

// Ping checks connectivity for health reporting.
func (e *SQLExecutor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Stats exposes pool statistics for health reporting.
func (e *SQLExecutor) Stats() sql.DBStats {
	return e.db.Stats()
}

func (e *SQLExecutor) BreakerState() circuitbreaker.State {
	return e.cb.State()
}

func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

// statementError reports whether the store rejected the statement itself
// (bad syntax, unknown column, type mismatch, attempted write). Those are
// failures of one generated query and must not trip the store breaker.
func statementError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "0A", "21", "22", "25", "42":
			return true
		}
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrError, sqlite3.ErrReadonly, sqlite3.ErrMismatch, sqlite3.ErrRange, sqlite3.ErrTooBig, sqlite3.ErrConstraint:
			return true
		}
	}
	return false
}

// normalize converts driver byte slices into strings so records encode
// as readable JSON and prompt text.
func normalize(rec map[string]any) Record {
	for k, v := range rec {
		if b, ok := v.([]byte); ok {
			rec[k] = string(b)
		}
	}
	return Record(rec)
}
