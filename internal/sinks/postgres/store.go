// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StoreConfig controls the Postgres connection pool used for keyword rows.
type StoreConfig struct {
	DSN             string
	MetricsTable    string
	CheckpointTable string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes enriched keyword rows and run checkpoints into Postgres. It
// implements both the persistence sink and the checkpoint store.
type Store struct {
	pool            execCloser
	metricsTable    string
	checkpointTable string
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	metricsTable, checkpointTable, err := tableNames(cfg.MetricsTable, cfg.CheckpointTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{
		pool:            pool,
		metricsTable:    metricsTable,
		checkpointTable: checkpointTable,
	}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(pool execCloser, metricsTable, checkpointTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	mt, ct, err := tableNames(metricsTable, checkpointTable)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, metricsTable: mt, checkpointTable: ct}, nil
}

func tableNames(metricsTable, checkpointTable string) (string, string, error) {
	if metricsTable == "" {
		metricsTable = "keyword_metrics"
	}
	if checkpointTable == "" {
		checkpointTable = "pipeline_checkpoints"
	}
	if !validTableName.MatchString(metricsTable) {
		return "", "", fmt.Errorf("invalid table name %q", metricsTable)
	}
	if !validTableName.MatchString(checkpointTable) {
		return "", "", fmt.Errorf("invalid table name %q", checkpointTable)
	}
	return metricsTable, checkpointTable, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Save upserts enriched keyword rows. The keyword is the natural key; a
// re-run refreshes the metrics and observation time for keywords it re-sees.
func (s *Store) Save(ctx context.Context, items []keywords.EnrichedItem) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	keyword,
	avg_monthly_searches,
	competition,
	competition_level,
	low_top_of_page_bid,
	high_top_of_page_bid,
	observed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (keyword) DO UPDATE SET
	avg_monthly_searches = EXCLUDED.avg_monthly_searches,
	competition = EXCLUDED.competition,
	competition_level = EXCLUDED.competition_level,
	low_top_of_page_bid = EXCLUDED.low_top_of_page_bid,
	high_top_of_page_bid = EXCLUDED.high_top_of_page_bid,
	observed_at = EXCLUDED.observed_at`, s.metricsTable)

	for _, item := range items {
		args := []any{
			item.Keyword,
			item.Metrics.AvgMonthlySearches,
			item.Metrics.Competition,
			item.Metrics.CompetitionLevel,
			item.Metrics.LowTopOfPageBid,
			item.Metrics.HighTopOfPageBid,
			item.ObservedAt,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert keyword %q: %w", item.Keyword, err)
		}
	}
	return nil
}

// SaveCheckpoint records the run's processed-so-far watermark.
func (s *Store) SaveCheckpoint(ctx context.Context, cp keywords.Checkpoint) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	processed,
	saved_at
) VALUES (
	$1,$2,$3
)
ON CONFLICT (run_id) DO UPDATE SET
	processed = EXCLUDED.processed,
	saved_at = EXCLUDED.saved_at`, s.checkpointTable)

	if _, err := s.pool.Exec(ctx, query, cp.RunID, cp.Processed, cp.SavedAt); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}
