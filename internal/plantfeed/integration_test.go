package plantfeed

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"
)

// openTestShard connects to the Postgres instance named by
// PLANTFEED_TEST_POSTGRES_DSN and resets the shard tables. Tests are
// skipped when the variable is unset.
func openTestShard(t *testing.T) *TenantHandle {
	t.Helper()
	dsn := os.Getenv("PLANTFEED_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PLANTFEED_TEST_POSTGRES_DSN not set; skipping integration test")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("test database unreachable: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS samples, series`); err != nil {
		t.Fatalf("resetting shard tables: %v", err)
	}

	handle := &TenantHandle{tenantID: "test", name: "Integration Test Plant", db: db, createdAt: time.Now().UTC()}
	if err := handle.EnsureSchema(ctx); err != nil {
		t.Fatalf("creating shard schema: %v", err)
	}
	return handle
}

func parseTestUpload(t *testing.T, csv string) *Dataset {
	t.Helper()
	dataset, err := ParseDataset(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return dataset
}

func TestIntegrationWriterIdempotence(t *testing.T) {
	handle := openTestShard(t)
	ctx := context.Background()
	writer := NewWriter(WriterOptions{})
	dataset := parseTestUpload(t, sampleUpload)

	first, err := writer.Write(ctx, handle, dataset, FrequencyHour)
	if err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if first.RowsSubmitted != 5 || first.RowsWritten != 5 {
		t.Fatalf("unexpected first write: %+v", first)
	}
	if first.SeriesCreated != 2 {
		t.Fatalf("expected 2 series created, got %d", first.SeriesCreated)
	}

	second, err := writer.Write(ctx, handle, dataset, FrequencyHour)
	if err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if second.RowsSubmitted != 5 || second.RowsWritten != 0 {
		t.Fatalf("resubmission should write nothing: %+v", second)
	}
	if second.SeriesCreated != 0 {
		t.Fatalf("resubmission should create no series: %+v", second)
	}

	var count int
	if err := handle.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&count); err != nil {
		t.Fatalf("counting samples: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 stored samples, got %d", count)
	}

	var description, unit string
	row := handle.db.QueryRowContext(ctx,
		`SELECT description, unit_of_measure FROM series WHERE name = $1`, "pump1")
	if err := row.Scan(&description, &unit); err != nil {
		t.Fatalf("reading series metadata: %v", err)
	}
	if description != "Discharge pressure" || unit != "bar" {
		t.Fatalf("unexpected series metadata: %q %q", description, unit)
	}
}

func TestIntegrationWriterDescriptionFallback(t *testing.T) {
	handle := openTestShard(t)
	ctx := context.Background()
	writer := NewWriter(WriterOptions{})
	noMetadata := "Timestamp,Flow1\n,\n,\n2024-11-29 08:00:00,3.2\n2024-11-30 08:00:00,3.4\n"
	dataset := parseTestUpload(t, noMetadata)

	if _, err := writer.Write(ctx, handle, dataset, FrequencyDay); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var description string
	row := handle.db.QueryRowContext(ctx, `SELECT description FROM series WHERE name = $1`, "flow1")
	if err := row.Scan(&description); err != nil {
		t.Fatalf("reading description: %v", err)
	}
	if description != "Sensor data collected at day intervals" {
		t.Fatalf("unexpected fallback description %q", description)
	}
}

func TestIntegrationWriterBatching(t *testing.T) {
	handle := openTestShard(t)
	ctx := context.Background()
	writer := NewWriter(WriterOptions{BatchSize: 2})
	dataset := parseTestUpload(t, sampleUpload)

	result, err := writer.Write(ctx, handle, dataset, FrequencyHour)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if result.RowsWritten != 5 || result.Batches != 3 {
		t.Fatalf("expected 5 rows over 3 batches, got %+v", result)
	}
}

func TestIntegrationConflictDetector(t *testing.T) {
	handle := openTestShard(t)
	ctx := context.Background()
	writer := NewWriter(WriterOptions{})
	detector := NewConflictDetector(nil, nil)
	dataset := parseTestUpload(t, sampleUpload)

	if _, err := writer.Write(ctx, handle, dataset, FrequencyHour); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	// Matching frequency in the stored window is not a conflict.
	conflicts, err := detector.Detect(ctx, handle, dataset.SeriesNames, FrequencyHour, dataset.Range())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts for matching frequency, got %+v", conflicts)
	}

	// A different frequency over the same window conflicts per series.
	conflicts, err = detector.Detect(ctx, handle, dataset.SeriesNames, FrequencyMinute, dataset.Range())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(conflicts) != 2 {
		t.Fatalf("expected conflicts for both series, got %+v", conflicts)
	}
	for _, conflict := range conflicts {
		if conflict.ExistingFrequency != FrequencyHour || conflict.CandidateFrequency != FrequencyMinute {
			t.Fatalf("unexpected conflict: %+v", conflict)
		}
		if len(conflict.ExistingFrequencies) != 1 || conflict.ExistingFrequencies[0] != FrequencyHour {
			t.Fatalf("unexpected existing set: %+v", conflict.ExistingFrequencies)
		}
	}

	// A disjoint window has no overlap and therefore no conflict.
	later := TimeRange{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	conflicts, err = detector.Detect(ctx, handle, dataset.SeriesNames, FrequencyMinute, later)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts outside the stored window, got %+v", conflicts)
	}

	// Unknown series are first writes, never conflicts.
	conflicts, err = detector.Detect(ctx, handle, []string{"brand_new"}, FrequencyMinute, dataset.Range())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts for unknown series, got %+v", conflicts)
	}
}
