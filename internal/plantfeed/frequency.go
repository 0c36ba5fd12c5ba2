package plantfeed

import (
	"sort"
	"time"
)

// ClassifyFrequency buckets the sampling cadence of an ordered or
// unordered timestamp sequence. The median of consecutive deltas is used
// rather than the mean so that occasional gaps or bursts do not shift the
// detected cadence. Fewer than two timestamps yield FrequencyUnknown.
func ClassifyFrequency(timestamps []time.Time) FrequencyBucket {
	if len(timestamps) < 2 {
		return FrequencyUnknown
	}
	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Before(sorted[j])
	})

	deltas := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		deltas = append(deltas, sorted[i].Sub(sorted[i-1]).Seconds())
	}
	median := medianFloat64(deltas)

	switch {
	case median < 1:
		return FrequencySubSecond
	case median < 60:
		return FrequencySecond
	case median < 3600:
		return FrequencyMinute
	case median < 86400:
		return FrequencyHour
	case median < 604800:
		return FrequencyDay
	default:
		return FrequencyWeek
	}
}

func medianFloat64(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// ChunkInterval maps a frequency bucket to the partition width used by
// the shard-level storage optimization step.
func ChunkInterval(bucket FrequencyBucket) string {
	switch bucket {
	case FrequencySubSecond:
		return "1 hour"
	case FrequencySecond:
		return "1 day"
	case FrequencyMinute:
		return "7 days"
	case FrequencyHour:
		return "30 days"
	case FrequencyDay:
		return "180 days"
	case FrequencyWeek:
		return "365 days"
	default:
		return "30 days"
	}
}
