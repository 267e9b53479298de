package stores

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/circuitbreaker"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/config"
)

const pingTimeout = 5 * time.Second

// OpenMetadataStore connects to the Postgres metadata store.
func OpenMetadataStore(cfg config.PostgresConfig, logger *zap.Logger) (*SQLExecutor, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 2
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}

	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping metadata store: %w", err)
	}

	opts := Options{Timeout: cfg.StatementTimeout}
	if cfg.StatementTimeout > 0 {
		opts.Setup = []string{fmt.Sprintf("SET LOCAL statement_timeout = %d", cfg.StatementTimeout.Milliseconds())}
	}
	logger.Info("Metadata store connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)
	return NewSQLExecutor(circuitbreaker.MetadataStore, db, opts, logger), nil
}

// OpenProfileStore opens the SQLite profile store read-only.
func OpenProfileStore(cfg config.SQLiteConfig, timeout time.Duration, logger *zap.Logger) (*SQLExecutor, error) {
	db, err := sqlx.Open("sqlite3", profileDSN(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open profile store: %w", err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}

	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping profile store: %w", err)
	}

	logger.Info("Profile store opened", zap.String("path", cfg.Path))
	return NewSQLExecutor(circuitbreaker.ProfileStore, db, Options{Timeout: timeout}, logger), nil
}

// profileDSN opens the file read-only so writes fail at the driver even
// if something slipped past validation.
func profileDSN(path string) string {
	q := url.Values{}
	q.Set("mode", "ro")
	q.Set("_query_only", "1")
	q.Set("_busy_timeout", "5000")
	return "file:" + path + "?" + q.Encode()
}

func ping(db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}
