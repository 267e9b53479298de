package stores

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/circuitbreaker"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/config"
)

func newMockExecutor(t *testing.T, opts Options) (*SQLExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLExecutor("metadata-store", sqlx.NewDb(db, "sqlmock"), opts, zaptest.NewLogger(t)), mock
}

func TestQueryReturnsRecords(t *testing.T) {
	exec, mock := newMockExecutor(t, Options{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT float_id, deployment_status FROM argo_float_metadata").
		WillReturnRows(sqlmock.NewRows([]string{"float_id", "deployment_status"}).
			AddRow("2902746", []byte("ACTIVE")).
			AddRow("5906468", []byte("INACTIVE")))
	mock.ExpectRollback()

	rows, err := exec.Query(context.Background(), "SELECT float_id, deployment_status FROM argo_float_metadata", 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"float_id", "deployment_status"}, rows.Columns)
	require.Equal(t, 2, rows.Len())
	assert.False(t, rows.Truncated)
	assert.Equal(t, "ACTIVE", rows.Records[0]["deployment_status"])
	assert.Equal(t, "5906468", rows.Records[1]["float_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryCapsRows(t *testing.T) {
	exec, mock := newMockExecutor(t, Options{})

	result := sqlmock.NewRows([]string{"cycle_number"})
	for i := 0; i < 5; i++ {
		result.AddRow(i)
	}
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT cycle_number").WillReturnRows(result)
	mock.ExpectRollback()

	rows, err := exec.Query(context.Background(), "SELECT cycle_number FROM argo_profiles", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, rows.Len())
	assert.True(t, rows.Truncated)
}

func TestQueryEmptyResultIsNotNil(t *testing.T) {
	exec, mock := newMockExecutor(t, Options{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"float_id"}))
	mock.ExpectRollback()

	rows, err := exec.Query(context.Background(), "SELECT float_id FROM argo_float_metadata WHERE false", 10)
	require.NoError(t, err)
	assert.NotNil(t, rows.Records)
	assert.Equal(t, 0, rows.Len())
}

func TestQueryRunsSetupStatements(t *testing.T) {
	exec, mock := newMockExecutor(t, Options{Setup: []string{"SET LOCAL statement_timeout = 20000"}})

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout = 20000").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	_, err := exec.Query(context.Background(), "SELECT 1", 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryErrors(t *testing.T) {
	t.Run("driver error is wrapped", func(t *testing.T) {
		exec, mock := newMockExecutor(t, Options{})
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))
		mock.ExpectRollback()

		_, err := exec.Query(context.Background(), "SELECT * FROM nope", 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metadata-store query failed")
		assert.Contains(t, err.Error(), "relation does not exist")
	})

	t.Run("begin failure", func(t *testing.T) {
		exec, mock := newMockExecutor(t, Options{})
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		_, err := exec.Query(context.Background(), "SELECT 1", 10)
		assert.Error(t, err)
	})

	t.Run("row error", func(t *testing.T) {
		exec, mock := newMockExecutor(t, Options{})
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT").WillReturnRows(
			sqlmock.NewRows([]string{"a"}).AddRow(1).RowError(0, errors.New("bad row")))
		mock.ExpectRollback()

		_, err := exec.Query(context.Background(), "SELECT a FROM t", 10)
		assert.Error(t, err)
	})

	t.Run("non-positive cap", func(t *testing.T) {
		exec, _ := newMockExecutor(t, Options{})
		_, err := exec.Query(context.Background(), "SELECT 1", 0)
		assert.ErrorIs(t, err, ErrInvalidRowCap)
	})
}

func TestRejectedStatementsDoNotOpenBreaker(t *testing.T) {
	exec, mock := newMockExecutor(t, Options{})

	for i := 0; i < 6; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT no_such_col").WillReturnError(&pq.Error{Code: "42703", Message: `column "no_such_col" does not exist`})
		mock.ExpectRollback()

		_, err := exec.Query(context.Background(), "SELECT no_such_col FROM argo_float_metadata", 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	}
	assert.Equal(t, circuitbreaker.StateClosed, exec.BreakerState())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT float_id").WillReturnRows(sqlmock.NewRows([]string{"float_id"}).AddRow("2902746"))
	mock.ExpectRollback()
	rows, err := exec.Query(context.Background(), "SELECT float_id FROM argo_float_metadata", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rows.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionFailuresOpenBreaker(t *testing.T) {
	exec, mock := newMockExecutor(t, Options{})

	for i := 0; i < 5; i++ {
		mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})
		_, err := exec.Query(context.Background(), "SELECT 1", 10)
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, exec.BreakerState())

	_, err := exec.Query(context.Background(), "SELECT 1", 10)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"pq undefined column", &pq.Error{Code: "42703"}, true},
		{"pq division by zero", fmt.Errorf("wrapped: %w", &pq.Error{Code: "22012"}), true},
		{"pq read-only transaction", &pq.Error{Code: "25006"}, true},
		{"pq connection failure", &pq.Error{Code: "08006"}, false},
		{"pq statement timeout", &pq.Error{Code: "57014"}, false},
		{"deadline", context.DeadlineExceeded, false},
		{"plain", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statementError(tt.err))
		})
	}
}

func TestQueryTimeout(t *testing.T) {
	exec, mock := newMockExecutor(t, Options{Timeout: 20 * time.Millisecond})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow(1))
	mock.ExpectRollback()

	_, err := exec.Query(context.Background(), "SELECT a FROM slow", 10)
	assert.Error(t, err)
}

func TestProfileStoreSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.db")

	seed, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	seed.MustExec(`CREATE TABLE argo_profiles (
		float_id TEXT, cycle_number INTEGER, depth REAL, temperature REAL, salinity REAL)`)
	seed.MustExec(`INSERT INTO argo_profiles VALUES
		('2902746', 1, 5.0, 28.1, 35.2),
		('2902746', 1, 100.0, 22.4, 35.6),
		('2902746', 2, 5.0, 27.9, 35.1)`)
	require.NoError(t, seed.Close())

	exec, err := OpenProfileStore(config.SQLiteConfig{Path: path}, time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer exec.Close()

	rows, err := exec.Query(context.Background(),
		"SELECT cycle_number, AVG(temperature) AS mean_temp FROM argo_profiles GROUP BY cycle_number ORDER BY cycle_number", 10)
	require.NoError(t, err)
	require.Equal(t, 2, rows.Len())
	assert.Equal(t, []string{"cycle_number", "mean_temp"}, rows.Columns)
	assert.InDelta(t, 25.25, rows.Records[0]["mean_temp"], 1e-9)

	_, err = exec.Query(context.Background(), "DELETE FROM argo_profiles", 10)
	assert.Error(t, err, "profile store must refuse writes")
}

func TestProfileStoreBadColumnsKeepStoreAvailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.db")
	seed, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	seed.MustExec(`CREATE TABLE argo_profiles (float_id TEXT, depth REAL)`)
	seed.MustExec(`INSERT INTO argo_profiles VALUES ('2902746', 5.0)`)
	require.NoError(t, seed.Close())

	exec, err := OpenProfileStore(config.SQLiteConfig{Path: path}, time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer exec.Close()

	for i := 0; i < 6; i++ {
		_, err := exec.Query(context.Background(), "SELECT no_such_col FROM argo_profiles", 10)
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	}
	assert.Equal(t, circuitbreaker.StateClosed, exec.BreakerState())

	rows, err := exec.Query(context.Background(), "SELECT float_id FROM argo_profiles", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rows.Len())
}

func TestProfileDSN(t *testing.T) {
	dsn := profileDSN("/data/argo.db")
	assert.Contains(t, dsn, "file:/data/argo.db?")
	assert.Contains(t, dsn, "mode=ro")
	assert.Contains(t, dsn, "_query_only=1")
}
