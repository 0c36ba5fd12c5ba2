package plantfeed

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"
)

// Upload layout: row 1 holds series names, row 2 descriptions, row 3
// units of measure, data starts at row 4. The timestamp column is the
// first header containing "time".
const datasetHeaderRows = 3

var acceptedTimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"01/02/2006 15:04:05",
	"01/02/2006",
	time.RFC3339,
}

// DataRow is one parsed data record: a timestamp plus the raw textual
// value per series name. Empty cells are absent from Values.
type DataRow struct {
	Timestamp time.Time
	Values    map[string]string
}

// Dataset is the parsed form of an uploaded file, reduced to what the
// ingestion pipeline needs: series metadata, timestamps and values.
type Dataset struct {
	TimestampColumn string
	SeriesNames     []string
	Series          map[string]SeriesMeta
	Rows            []DataRow
	Timestamps      []time.Time
	DroppedRows     int
}

// Range returns the [min, max] window of the parsed timestamps.
func (d *Dataset) Range() TimeRange {
	if len(d.Timestamps) == 0 {
		return TimeRange{}
	}
	tr := TimeRange{Start: d.Timestamps[0], End: d.Timestamps[0]}
	for _, ts := range d.Timestamps[1:] {
		if ts.Before(tr.Start) {
			tr.Start = ts
		}
		if ts.After(tr.End) {
			tr.End = ts
		}
	}
	return tr
}

// ParseDataset extracts series metadata and rows from a CSV upload.
// Rows whose timestamp matches no accepted layout are dropped; the
// whole file fails with ErrUnparseableInput when no usable row remains.
func ParseDataset(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableInput, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnparseableInput)
	}

	header := make([]string, len(records[0]))
	for i, cell := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(cell))
	}

	timestampCol := -1
	for i, name := range header {
		if strings.Contains(name, "time") {
			timestampCol = i
			break
		}
	}
	if timestampCol == -1 {
		return nil, fmt.Errorf("%w: no timestamp column found", ErrUnparseableInput)
	}

	ds := &Dataset{
		TimestampColumn: header[timestampCol],
		Series:          map[string]SeriesMeta{},
	}
	for i, name := range header {
		if i == timestampCol || name == "" {
			continue
		}
		meta := SeriesMeta{Name: name}
		if len(records) > 1 && i < len(records[1]) {
			meta.Description = strings.TrimSpace(records[1][i])
		}
		if len(records) > 2 && i < len(records[2]) {
			meta.UnitOfMeasure = strings.TrimSpace(records[2][i])
		}
		ds.SeriesNames = append(ds.SeriesNames, name)
		ds.Series[name] = meta
	}
	if len(ds.SeriesNames) == 0 {
		return nil, fmt.Errorf("%w: no series columns found", ErrUnparseableInput)
	}

	for _, record := range records[min(datasetHeaderRows, len(records)):] {
		if timestampCol >= len(record) {
			ds.DroppedRows++
			continue
		}
		ts, ok := parseTimestamp(record[timestampCol])
		if !ok {
			ds.DroppedRows++
			continue
		}
		row := DataRow{Timestamp: ts, Values: map[string]string{}}
		for i, name := range header {
			if i == timestampCol || name == "" || i >= len(record) {
				continue
			}
			value := strings.TrimSpace(record[i])
			if value == "" {
				continue
			}
			row.Values[name] = value
		}
		ds.Rows = append(ds.Rows, row)
		ds.Timestamps = append(ds.Timestamps, ts)
	}
	if len(ds.Rows) == 0 {
		return nil, fmt.Errorf("%w: no rows with a parseable timestamp", ErrUnparseableInput)
	}
	return ds, nil
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range acceptedTimestampLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
