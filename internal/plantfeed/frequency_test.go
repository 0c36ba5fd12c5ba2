package plantfeed

import (
	"testing"
	"time"
)

func spacedTimestamps(start time.Time, step time.Duration, count int) []time.Time {
	timestamps := make([]time.Time, count)
	for i := range timestamps {
		timestamps[i] = start.Add(time.Duration(i) * step)
	}
	return timestamps
}

func TestClassifyFrequencyBuckets(t *testing.T) {
	start := time.Date(2024, 11, 29, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		step time.Duration
		want FrequencyBucket
	}{
		{"sub_second", 250 * time.Millisecond, FrequencySubSecond},
		{"second", 30 * time.Second, FrequencySecond},
		{"minute", 15 * time.Minute, FrequencyMinute},
		{"hour", time.Hour, FrequencyHour},
		{"day", 24 * time.Hour, FrequencyDay},
		{"week", 14 * 24 * time.Hour, FrequencyWeek},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyFrequency(spacedTimestamps(start, tc.step, 10))
			if got != tc.want {
				t.Fatalf("expected %q for %s spacing, got %q", tc.want, tc.step, got)
			}
		})
	}
}

func TestClassifyFrequencyTooFewTimestamps(t *testing.T) {
	if got := ClassifyFrequency(nil); got != FrequencyUnknown {
		t.Fatalf("expected unknown for empty input, got %q", got)
	}
	single := []time.Time{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	if got := ClassifyFrequency(single); got != FrequencyUnknown {
		t.Fatalf("expected unknown for single timestamp, got %q", got)
	}
}

func TestClassifyFrequencyOrderIndependent(t *testing.T) {
	start := time.Date(2024, 11, 29, 8, 0, 0, 0, time.UTC)
	ordered := spacedTimestamps(start, time.Hour, 8)
	shuffled := []time.Time{ordered[5], ordered[0], ordered[7], ordered[2], ordered[6], ordered[1], ordered[4], ordered[3]}

	orderedResult := ClassifyFrequency(ordered)
	shuffledResult := ClassifyFrequency(shuffled)
	if orderedResult != shuffledResult {
		t.Fatalf("classification differs under reordering: %q vs %q", orderedResult, shuffledResult)
	}
	if orderedResult != FrequencyHour {
		t.Fatalf("expected hour, got %q", orderedResult)
	}
}

func TestClassifyFrequencyMedianResistsGaps(t *testing.T) {
	// Hourly cadence with one 3-day hole: median must still say hour.
	start := time.Date(2024, 11, 29, 8, 0, 0, 0, time.UTC)
	timestamps := spacedTimestamps(start, time.Hour, 20)
	resumed := start.Add(72 * time.Hour)
	timestamps = append(timestamps, spacedTimestamps(resumed, time.Hour, 20)...)

	if got := ClassifyFrequency(timestamps); got != FrequencyHour {
		t.Fatalf("expected hour despite gap, got %q", got)
	}
}

func TestChunkInterval(t *testing.T) {
	cases := map[FrequencyBucket]string{
		FrequencySubSecond: "1 hour",
		FrequencySecond:    "1 day",
		FrequencyMinute:    "7 days",
		FrequencyHour:      "30 days",
		FrequencyDay:       "180 days",
		FrequencyWeek:      "365 days",
		FrequencyUnknown:   "30 days",
	}
	for bucket, want := range cases {
		if got := ChunkInterval(bucket); got != want {
			t.Fatalf("chunk interval for %q: expected %q, got %q", bucket, want, got)
		}
	}
}
