package plantfeed

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleUpload = `Timestamp,Pump1,Valve2
,Discharge pressure,Valve position
,bar,%
2024-11-29 08:00:00,10,55
2024-11-29 09:00:00,12,
2024-11-29 10:00:00,14,57
`

func TestParseDatasetLayout(t *testing.T) {
	ds, err := ParseDataset(strings.NewReader(sampleUpload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ds.TimestampColumn != "timestamp" {
		t.Fatalf("expected timestamp column, got %q", ds.TimestampColumn)
	}
	if len(ds.SeriesNames) != 2 || ds.SeriesNames[0] != "pump1" || ds.SeriesNames[1] != "valve2" {
		t.Fatalf("unexpected series names: %v", ds.SeriesNames)
	}
	if meta := ds.Series["pump1"]; meta.Description != "Discharge pressure" || meta.UnitOfMeasure != "bar" {
		t.Fatalf("unexpected pump1 metadata: %+v", meta)
	}
	if len(ds.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(ds.Rows))
	}
	if _, ok := ds.Rows[1].Values["valve2"]; ok {
		t.Fatalf("expected empty valve2 cell to be absent")
	}
	if ds.Rows[1].Values["pump1"] != "12" {
		t.Fatalf("unexpected pump1 value: %q", ds.Rows[1].Values["pump1"])
	}

	wantRange := TimeRange{
		Start: time.Date(2024, 11, 29, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 11, 29, 10, 0, 0, 0, time.UTC),
	}
	if got := ds.Range(); !got.Start.Equal(wantRange.Start) || !got.End.Equal(wantRange.End) {
		t.Fatalf("unexpected range: %+v", got)
	}
}

func TestParseDatasetAcceptsMultipleTimestampFormats(t *testing.T) {
	upload := "time,sensor\n" +
		"desc\n" +
		"unit\n" +
		"29/11/2024 08:00:00,1\n" +
		"2024-11-30,2\n" +
		"2024-12-01T08:00:00Z,3\n"
	ds, err := ParseDataset(strings.NewReader(upload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(ds.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d (dropped %d)", len(ds.Rows), ds.DroppedRows)
	}
	if !ds.Rows[0].Timestamp.Equal(time.Date(2024, 11, 29, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first timestamp: %v", ds.Rows[0].Timestamp)
	}
}

func TestParseDatasetDropsUnparseableRows(t *testing.T) {
	upload := "timestamp,sensor\n" +
		"desc\n" +
		"unit\n" +
		"not-a-date,1\n" +
		"2024-11-29 08:00:00,2\n"
	ds, err := ParseDataset(strings.NewReader(upload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(ds.Rows) != 1 || ds.DroppedRows != 1 {
		t.Fatalf("expected 1 kept and 1 dropped row, got %d/%d", len(ds.Rows), ds.DroppedRows)
	}
}

func TestParseDatasetAllRowsUnparseable(t *testing.T) {
	upload := "timestamp,sensor\n" +
		"desc\n" +
		"unit\n" +
		"bogus,1\n" +
		"also bogus,2\n"
	_, err := ParseDataset(strings.NewReader(upload))
	if !errors.Is(err, ErrUnparseableInput) {
		t.Fatalf("expected ErrUnparseableInput, got %v", err)
	}
}

func TestParseDatasetMissingTimestampColumn(t *testing.T) {
	upload := "id,sensor\nd\nu\n1,2\n"
	_, err := ParseDataset(strings.NewReader(upload))
	if !errors.Is(err, ErrUnparseableInput) {
		t.Fatalf("expected ErrUnparseableInput, got %v", err)
	}
}

func TestParseDatasetEmptyFile(t *testing.T) {
	_, err := ParseDataset(strings.NewReader(""))
	if !errors.Is(err, ErrUnparseableInput) {
		t.Fatalf("expected ErrUnparseableInput, got %v", err)
	}
}
