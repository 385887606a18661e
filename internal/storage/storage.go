package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"catalogwatch/internal/config"
)

// Store persists products, baseline snapshots, retailer behaviour, and the
// price-change queue in a SQL database.
type Store struct {
	db          *sql.DB
	autoMigrate bool
}

// New initialises a Store from configuration, optionally creating the
// database and schema.
func New(cfg config.SQLConfig) (*Store, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	store := &Store{
		db:          db,
		autoMigrate: cfg.AutoMigrate,
	}
	if cfg.AutoMigrate {
		if err := store.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	return s.db.PingContext(ctx)
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDSN := parsed.String()
	adminDB, err := sql.Open(cfg.Driver, adminDSN)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
		    url TEXT PRIMARY KEY,
		    retailer TEXT NOT NULL,
		    title TEXT NOT NULL DEFAULT '',
		    price NUMERIC(12,2) NOT NULL DEFAULT 0,
		    product_code TEXT NOT NULL DEFAULT '',
		    image_urls TEXT[] NOT NULL DEFAULT '{}',
		    first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		    last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_retailer_price ON products (retailer, price)`,
		`CREATE INDEX IF NOT EXISTS idx_products_retailer_code ON products (retailer, product_code) WHERE product_code <> ''`,
		`CREATE TABLE IF NOT EXISTS catalog_baseline (
		    id BIGSERIAL PRIMARY KEY,
		    catalog_url TEXT NOT NULL,
		    retailer TEXT NOT NULL,
		    category TEXT NOT NULL DEFAULT '',
		    title TEXT NOT NULL DEFAULT '',
		    price NUMERIC(12,2),
		    product_code TEXT NOT NULL DEFAULT '',
		    image_urls TEXT[] NOT NULL DEFAULT '{}',
		    fingerprint TEXT NOT NULL,
		    discovered_date TIMESTAMPTZ NOT NULL DEFAULT now(),
		    scan_type TEXT NOT NULL DEFAULT 'monitor'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_baseline_retailer_url ON catalog_baseline (retailer, catalog_url)`,
		`CREATE INDEX IF NOT EXISTS idx_baseline_discovered ON catalog_baseline (discovered_date DESC)`,
		`CREATE TABLE IF NOT EXISTS link_observations (
		    id BIGSERIAL PRIMARY KEY,
		    retailer TEXT NOT NULL,
		    catalog_url TEXT NOT NULL,
		    linked_url TEXT NOT NULL,
		    url_changed BOOLEAN NOT NULL,
		    image_urls_match BOOLEAN NOT NULL DEFAULT true,
		    observed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_link_obs_retailer ON link_observations (retailer, observed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS retailer_behavior (
		    retailer TEXT PRIMARY KEY,
		    url_stability_score DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		    image_urls_consistent BOOLEAN NOT NULL DEFAULT true,
		    preferred_strategy TEXT NOT NULL DEFAULT '',
		    sample_size INT NOT NULL DEFAULT 0,
		    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS price_changes (
		    id BIGSERIAL PRIMARY KEY,
		    product_url TEXT NOT NULL,
		    retailer TEXT NOT NULL,
		    catalog_price NUMERIC(12,2) NOT NULL,
		    stored_price NUMERIC(12,2) NOT NULL,
		    price_difference NUMERIC(12,2) NOT NULL,
		    priority TEXT NOT NULL DEFAULT 'normal',
		    detected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		    processed BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_changes_open ON price_changes (retailer, detected_at DESC) WHERE NOT processed`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// retryUndefinedTable re-runs fn once after applying the schema when the
// first attempt failed with an undefined-table error.
func (s *Store) retryUndefinedTable(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if s.autoMigrate && isUndefinedTableErr(err) {
		if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
			return fmt.Errorf("ensure schema: %w", schemaErr)
		}
		return fn()
	}
	return err
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
