package plantfeed

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

const conflictLookupConcurrency = 4

// ConflictDetector checks a candidate dataset's frequency against what
// the shard already stores for the same series in the same time window.
type ConflictDetector struct {
	logger  *slog.Logger
	metrics *Metrics
}

func NewConflictDetector(logger *slog.Logger, metrics *Metrics) *ConflictDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConflictDetector{
		logger:  logger.With("component", "conflicts"),
		metrics: metrics,
	}
}

// Detect returns one ConflictRecord per series whose stored frequencies
// in the overlapping range do not include the candidate frequency. A
// series with no stored rows is a first write, never a conflict. Any
// lookup failure aborts the whole check; the caller must not proceed
// optimistically.
func (d *ConflictDetector) Detect(ctx context.Context, handle *TenantHandle, seriesNames []string, candidate FrequencyBucket, timeRange TimeRange) ([]ConflictRecord, error) {
	if handle == nil || handle.db == nil {
		return nil, ErrInvalidInput
	}
	if len(seriesNames) == 0 {
		return nil, nil
	}
	if err := handle.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}

	existing := make([][]FrequencyBucket, len(seriesNames))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(conflictLookupConcurrency)
	for i, name := range seriesNames {
		i, name := i, name
		group.Go(func() error {
			frequencies, err := d.existingFrequencies(groupCtx, handle, name, timeRange)
			if err != nil {
				return fmt.Errorf("%w: frequency lookup for series %q: %v", ErrConnectionFailure, name, err)
			}
			existing[i] = frequencies
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var conflicts []ConflictRecord
	for i, name := range seriesNames {
		frequencies := existing[i]
		if len(frequencies) == 0 || containsFrequency(frequencies, candidate) {
			continue
		}
		conflicts = append(conflicts, ConflictRecord{
			SeriesName:          name,
			ExistingFrequency:   frequencies[0],
			ExistingFrequencies: frequencies,
			CandidateFrequency:  candidate,
			Range:               timeRange,
		})
	}
	if len(conflicts) > 0 {
		d.metrics.conflictsDetected(len(conflicts))
		d.logger.Info("frequency conflicts detected",
			"tenant", handle.tenantID, "series", len(conflicts), "candidate", candidate)
	}
	return conflicts, nil
}

// existingFrequencies returns the distinct stored frequencies for one
// series within the window, ordered by when each frequency was first
// observed so the exemplar in a ConflictRecord is deterministic.
func (d *ConflictDetector) existingFrequencies(ctx context.Context, handle *TenantHandle, seriesName string, timeRange TimeRange) ([]FrequencyBucket, error) {
	const query = `
		SELECT s.frequency
		FROM samples s
		JOIN series t ON s.series_id = t.id
		WHERE t.name = $1
		AND s.timestamp BETWEEN $2 AND $3
		GROUP BY s.frequency
		ORDER BY MIN(s.timestamp)`
	rows, err := handle.db.QueryContext(ctx, query, seriesName, timeRange.Start, timeRange.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frequencies []FrequencyBucket
	for rows.Next() {
		var frequency string
		if err := rows.Scan(&frequency); err != nil {
			return nil, err
		}
		frequencies = append(frequencies, FrequencyBucket(frequency))
	}
	return frequencies, rows.Err()
}

func containsFrequency(frequencies []FrequencyBucket, candidate FrequencyBucket) bool {
	for _, frequency := range frequencies {
		if frequency == candidate {
			return true
		}
	}
	return false
}
