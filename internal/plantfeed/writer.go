package plantfeed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const (
	// DefaultBatchSize bounds rows per insert statement. Each batch binds
	// five arrays, so the ceiling is driver memory, not placeholder count.
	DefaultBatchSize = 10000
	MaxBatchSize     = 50000
)

type WriterOptions struct {
	BatchSize int
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Writer persists parsed datasets into a tenant shard with an
// insert-if-absent policy keyed on (series_id, timestamp). Re-submitting
// the same file, or overlapping files, never duplicates rows and never
// errors on duplicates; the first stored value for a pair wins.
type Writer struct {
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics
}

func NewWriter(opts WriterOptions) *Writer {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		batchSize: batchSize,
		logger:    logger.With("component", "writer"),
		metrics:   opts.Metrics,
	}
}

// Write resolves series ids, converts the dataset to samples and issues
// sequential batch inserts on a single connection so a later batch sees
// rows committed by an earlier one. A failed batch is rolled back whole
// and reported via BatchWriteError; earlier batches stay committed.
func (w *Writer) Write(ctx context.Context, handle *TenantHandle, dataset *Dataset, frequency FrequencyBucket) (WriteResult, error) {
	var result WriteResult
	if handle == nil || handle.db == nil || dataset == nil {
		return result, ErrInvalidInput
	}
	if !frequency.Valid() {
		return result, fmt.Errorf("%w: cannot write without a frequency", ErrUnknownFrequency)
	}
	if err := handle.EnsureSchema(ctx); err != nil {
		return result, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}

	conn, err := handle.db.Conn(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: acquiring shard connection: %v", ErrConnectionFailure, err)
	}
	defer conn.Close()

	mapping, created, err := w.ensureSeries(ctx, conn, dataset, frequency)
	if err != nil {
		return result, err
	}
	result.SeriesCreated = created

	samples := buildSamples(dataset, mapping, frequency)
	result.RowsSubmitted = len(samples)
	if len(samples) == 0 {
		return result, nil
	}

	for start := 0; start < len(samples); start += w.batchSize {
		end := min(start+w.batchSize, len(samples))
		batch := samples[start:end]
		written, err := w.writeBatch(ctx, conn, batch)
		if err != nil {
			return result, &BatchWriteError{Batch: result.Batches, Rows: len(batch), Err: err}
		}
		result.RowsWritten += written
		result.Batches++
	}

	w.metrics.rowsWritten(result.RowsWritten)
	w.logger.Info("dataset written",
		"tenant", handle.tenantID,
		"rows_submitted", result.RowsSubmitted,
		"rows_written", result.RowsWritten,
		"batches", result.Batches,
		"frequency", frequency)
	return result, nil
}

// ensureSeries maps every series name to its durable id, inserting
// missing names idempotently. The unique constraint on name makes the
// lookup-or-insert safe under concurrent ingestions.
func (w *Writer) ensureSeries(ctx context.Context, conn *sql.Conn, dataset *Dataset, frequency FrequencyBucket) (map[string]int64, int, error) {
	mapping, err := selectSeriesIDs(ctx, conn, dataset.SeriesNames)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: series lookup: %v", ErrConnectionFailure, err)
	}

	var missingNames, missingDescriptions, missingUnits []string
	for _, name := range dataset.SeriesNames {
		if _, ok := mapping[name]; ok {
			continue
		}
		meta := dataset.Series[name]
		description := meta.Description
		if description == "" {
			description = fmt.Sprintf("Sensor data collected at %s intervals", frequency)
		}
		missingNames = append(missingNames, name)
		missingDescriptions = append(missingDescriptions, description)
		missingUnits = append(missingUnits, meta.UnitOfMeasure)
	}
	if len(missingNames) == 0 {
		return mapping, 0, nil
	}

	const insert = `
		INSERT INTO series (name, description, unit_of_measure)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[])
		ON CONFLICT (name) DO NOTHING`
	if _, err := conn.ExecContext(ctx, insert,
		pq.Array(missingNames), pq.Array(missingDescriptions), pq.Array(missingUnits)); err != nil {
		return nil, 0, fmt.Errorf("%w: series insert: %v", ErrConnectionFailure, err)
	}

	mapping, err = selectSeriesIDs(ctx, conn, dataset.SeriesNames)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: series re-lookup: %v", ErrConnectionFailure, err)
	}
	for _, name := range dataset.SeriesNames {
		if _, ok := mapping[name]; !ok {
			return nil, 0, fmt.Errorf("series %q missing after insert", name)
		}
	}
	return mapping, len(missingNames), nil
}

func selectSeriesIDs(ctx context.Context, conn *sql.Conn, names []string) (map[string]int64, error) {
	rows, err := conn.QueryContext(ctx, `SELECT id, name FROM series WHERE name = ANY($1)`, pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mapping := make(map[string]int64, len(names))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		mapping[name] = id
	}
	return mapping, rows.Err()
}

func buildSamples(dataset *Dataset, mapping map[string]int64, frequency FrequencyBucket) []Sample {
	samples := make([]Sample, 0, len(dataset.Rows)*len(dataset.SeriesNames))
	for _, row := range dataset.Rows {
		for _, name := range dataset.SeriesNames {
			value, ok := row.Values[name]
			if !ok {
				continue
			}
			seriesID, ok := mapping[name]
			if !ok {
				continue
			}
			samples = append(samples, Sample{
				SeriesID:  seriesID,
				Timestamp: row.Timestamp,
				Value:     value,
				Frequency: frequency,
			})
		}
	}
	return samples
}

// writeBatch is one round trip: a set-based insert bound as five arrays,
// in its own transaction so a failure rolls the batch back whole.
func (w *Writer) writeBatch(ctx context.Context, conn *sql.Conn, batch []Sample) (int, error) {
	seriesIDs := make([]int64, len(batch))
	timestamps := make([]time.Time, len(batch))
	values := make([]string, len(batch))
	frequencies := make([]string, len(batch))
	qualities := make([]int64, len(batch))
	for i, sample := range batch {
		seriesIDs[i] = sample.SeriesID
		timestamps[i] = sample.Timestamp
		values[i] = sample.Value
		frequencies[i] = string(sample.Frequency)
		qualities[i] = int64(sample.Quality)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const insert = `
		INSERT INTO samples (series_id, timestamp, value, frequency, quality)
		SELECT * FROM unnest($1::bigint[], $2::timestamptz[], $3::text[], $4::text[], $5::integer[])
		ON CONFLICT (series_id, timestamp) DO NOTHING`
	res, err := tx.ExecContext(ctx, insert,
		pq.Array(seriesIDs), pq.Array(timestamps), pq.Array(values), pq.Array(frequencies), pq.Array(qualities))
	if err != nil {
		return 0, err
	}
	written, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return int(written), nil
}
