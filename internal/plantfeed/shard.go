package plantfeed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const shardOperationTimeout = 10 * time.Second

// Shard layout: a series table keyed by unique name and a samples table
// whose composite identity is (series_id, timestamp). The descending
// index is required for conflict detection and range reads.
var shardSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS series (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		unit_of_measure TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS samples (
		series_id BIGINT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		value TEXT NOT NULL,
		frequency TEXT NOT NULL,
		quality INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (series_id, timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS samples_series_timestamp_idx
		ON samples (series_id, timestamp DESC)`,
}

// EnsureSchema bootstraps the shard tables once per handle lifetime.
func (h *TenantHandle) EnsureSchema(ctx context.Context) error {
	if h == nil || h.db == nil {
		return ErrInvalidInput
	}
	h.schemaOnce.Do(func() {
		opCtx, cancel := context.WithTimeout(ctx, shardOperationTimeout)
		defer cancel()
		for _, stmt := range shardSchemaStatements {
			if _, err := h.db.ExecContext(opCtx, stmt); err != nil {
				h.schemaErr = fmt.Errorf("shard schema for tenant %s: %w", h.tenantID, err)
				return
			}
		}
	})
	return h.schemaErr
}

// ShardOptimizer applies the time-partitioning optimization to a shard
// after a successful write. Every return path is warning-level: callers
// log the error and move on, the write itself is already committed.
type ShardOptimizer struct {
	logger *slog.Logger
}

func NewShardOptimizer(logger *slog.Logger) *ShardOptimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShardOptimizer{logger: logger.With("component", "optimizer")}
}

// Optimize declares the samples table as a hypertable when the
// timescaledb extension is present and sets the partition width from the
// frequency bucket of the data just written.
func (o *ShardOptimizer) Optimize(ctx context.Context, handle *TenantHandle, frequency FrequencyBucket) error {
	if handle == nil || handle.db == nil {
		return ErrInvalidInput
	}
	opCtx, cancel := context.WithTimeout(ctx, shardOperationTimeout)
	defer cancel()

	available, err := shardExtensionAvailable(opCtx, handle.db)
	if err != nil {
		return fmt.Errorf("extension probe: %w", err)
	}
	if !available {
		o.logger.Debug("timescaledb not installed, skipping optimization", "tenant", handle.tenantID)
		return nil
	}

	var isHypertable bool
	err = handle.db.QueryRowContext(opCtx, `
		SELECT EXISTS (
			SELECT 1 FROM timescaledb_information.hypertables
			WHERE hypertable_name = 'samples'
		)`).Scan(&isHypertable)
	if err != nil {
		return fmt.Errorf("hypertable probe: %w", err)
	}
	if !isHypertable {
		_, err = handle.db.ExecContext(opCtx, `
			SELECT create_hypertable('samples', 'timestamp',
				if_not_exists => TRUE,
				migrate_data => TRUE,
				create_default_indexes => FALSE)`)
		if err != nil {
			return fmt.Errorf("create_hypertable: %w", err)
		}
		o.logger.Info("converted samples to hypertable", "tenant", handle.tenantID)
	}

	// Interval literals come from the fixed bucket table, never from input.
	stmt := fmt.Sprintf("SELECT set_chunk_time_interval('samples', INTERVAL '%s')", ChunkInterval(frequency))
	if _, err := handle.db.ExecContext(opCtx, stmt); err != nil {
		return fmt.Errorf("set_chunk_time_interval: %w", err)
	}
	return nil
}

func shardExtensionAvailable(ctx context.Context, db *sql.DB) (bool, error) {
	var available bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_extension WHERE extname = 'timescaledb'
		)`).Scan(&available)
	return available, err
}
