package plantfeed

import (
	"time"
)

// FrequencyBucket is the discretized sampling-rate classification of a
// dataset. The zero value means the cadence could not be determined.
type FrequencyBucket string

const (
	FrequencyUnknown   FrequencyBucket = ""
	FrequencySubSecond FrequencyBucket = "sub_second"
	FrequencySecond    FrequencyBucket = "second"
	FrequencyMinute    FrequencyBucket = "minute"
	FrequencyHour      FrequencyBucket = "hour"
	FrequencyDay       FrequencyBucket = "day"
	FrequencyWeek      FrequencyBucket = "week"
)

func (b FrequencyBucket) Valid() bool {
	switch b {
	case FrequencySubSecond, FrequencySecond, FrequencyMinute, FrequencyHour, FrequencyDay, FrequencyWeek:
		return true
	}
	return false
}

// Sample is one measurement row. Identity within a shard is the pair
// (SeriesID, Timestamp); rows are never updated in place.
type Sample struct {
	SeriesID  int64
	Timestamp time.Time
	Value     string
	Frequency FrequencyBucket
	Quality   int
}

// SeriesMeta carries the per-column metadata extracted from an upload.
type SeriesMeta struct {
	Name          string
	Description   string
	UnitOfMeasure string
}

type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ConflictRecord describes a frequency mismatch between a candidate
// dataset and already-stored data for one series. ExistingFrequencies is
// the full distinct set in first-observed order; ExistingFrequency keeps
// the first exemplar for callers that only want one value.
type ConflictRecord struct {
	SeriesName          string            `json:"seriesName"`
	ExistingFrequency   FrequencyBucket   `json:"existingFrequency"`
	ExistingFrequencies []FrequencyBucket `json:"existingFrequencies"`
	CandidateFrequency  FrequencyBucket   `json:"candidateFrequency"`
	Range               TimeRange         `json:"overlappingRange"`
}

type JobStatus string

const (
	JobStatusPending          JobStatus = "pending"
	JobStatusAwaitingDecision JobStatus = "awaiting_decision"
	JobStatusProcessed        JobStatus = "processed"
	JobStatusSkipped          JobStatus = "skipped"
	JobStatusFailed           JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusProcessed || s == JobStatusSkipped || s == JobStatusFailed
}

const (
	DecisionProcess = "process"
	DecisionSkip    = "skip"
)

// IngestionJob is a deferred ingestion awaiting an explicit decision.
type IngestionJob struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenantId"`
	FileName          string           `json:"fileName"`
	PayloadPath       string           `json:"payloadPath"`
	DetectedFrequency FrequencyBucket  `json:"detectedFrequency"`
	Conflicts         []ConflictRecord `json:"conflicts"`
	Status            JobStatus        `json:"status"`
	ExternalJobID     string           `json:"externalJobId,omitempty"`
	RowsWritten       int              `json:"rowsWritten,omitempty"`
	Error             string           `json:"error,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	DecidedAt         *time.Time       `json:"decidedAt,omitempty"`
}

// WriteResult summarizes one writer invocation. RowsWritten can be lower
// than RowsSubmitted when (series, timestamp) pairs already existed.
type WriteResult struct {
	RowsSubmitted int `json:"rowsSubmitted"`
	RowsWritten   int `json:"rowsWritten"`
	Batches       int `json:"batches"`
	SeriesCreated int `json:"seriesCreated"`
}

// IngestResult is the outcome of one ingestion request.
type IngestResult struct {
	Status        string           `json:"status"`
	Frequency     FrequencyBucket  `json:"frequency"`
	RowsSubmitted int              `json:"rowsSubmitted"`
	RowsWritten   int              `json:"rowsWritten"`
	JobID         string           `json:"jobId,omitempty"`
	Conflicts     []ConflictRecord `json:"conflicts,omitempty"`
}

const (
	IngestStatusProcessed        = "processed"
	IngestStatusAwaitingDecision = "awaiting_decision"
)

// PoolInfo is a point-in-time view of one cached tenant pool.
type PoolInfo struct {
	TenantID        string    `json:"tenantId"`
	TenantName      string    `json:"tenantName,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	OpenConnections int       `json:"openConnections"`
	InUse           int       `json:"inUse"`
}
