package plantfeed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
)

// PoolResolver resolves a tenant id to its shard handle.
type PoolResolver interface {
	Resolve(ctx context.Context, tenantID string) (*TenantHandle, error)
}

// ConflictChecker flags frequency mismatches against stored data.
type ConflictChecker interface {
	Detect(ctx context.Context, handle *TenantHandle, seriesNames []string, candidate FrequencyBucket, timeRange TimeRange) ([]ConflictRecord, error)
}

// SampleWriter persists a parsed dataset idempotently.
type SampleWriter interface {
	Write(ctx context.Context, handle *TenantHandle, dataset *Dataset, frequency FrequencyBucket) (WriteResult, error)
}

// StorageOptimizer is the best-effort post-write layout step. Errors are
// logged and ignored; they must never fail the write path.
type StorageOptimizer interface {
	Optimize(ctx context.Context, handle *TenantHandle, frequency FrequencyBucket) error
}

type IngestorOptions struct {
	Router    PoolResolver
	Detector  ConflictChecker
	Writer    SampleWriter
	Optimizer StorageOptimizer
	Gateway   *Gateway
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Ingestor runs the ingestion pipeline: parse, classify, detect
// conflicts, then either write or defer to the decision gateway. Each
// request runs in its own goroutine; steps within one request are
// strictly sequential.
type Ingestor struct {
	router    PoolResolver
	detector  ConflictChecker
	writer    SampleWriter
	optimizer StorageOptimizer
	gateway   *Gateway
	logger    *slog.Logger
	metrics   *Metrics
}

func NewIngestor(opts IngestorOptions) *Ingestor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ingestor := &Ingestor{
		router:    opts.Router,
		detector:  opts.Detector,
		writer:    opts.Writer,
		optimizer: opts.Optimizer,
		gateway:   opts.Gateway,
		logger:    logger.With("component", "ingestor"),
		metrics:   opts.Metrics,
	}
	if ingestor.gateway != nil {
		ingestor.gateway.SetResumeFunc(ingestor.resumeJob)
	}
	return ingestor
}

// Ingest processes one uploaded dataset for a tenant. Clean datasets are
// written immediately; conflicted ones are handed to the gateway and the
// returned result carries the job id instead of row counts.
func (i *Ingestor) Ingest(ctx context.Context, tenantID, fileName string, payload []byte) (*IngestResult, error) {
	handle, err := i.router.Resolve(ctx, tenantID)
	if err != nil {
		i.metrics.datasetIngested("failed")
		return nil, err
	}

	dataset, err := ParseDataset(bytes.NewReader(payload))
	if err != nil {
		i.metrics.datasetIngested("failed")
		return nil, err
	}
	if dataset.DroppedRows > 0 {
		i.logger.Warn("dropped rows with invalid timestamps",
			"tenant", tenantID, "file", fileName, "dropped", dataset.DroppedRows)
	}

	frequency := ClassifyFrequency(dataset.Timestamps)
	if frequency == FrequencyUnknown {
		i.metrics.datasetIngested("failed")
		return nil, fmt.Errorf("%w: could not determine sampling frequency for %q", ErrUnknownFrequency, fileName)
	}

	conflicts, err := i.detector.Detect(ctx, handle, dataset.SeriesNames, frequency, dataset.Range())
	if err != nil {
		i.metrics.datasetIngested("failed")
		return nil, err
	}

	if len(conflicts) > 0 {
		job, err := i.gateway.Submit(ctx, payload, JobMetadata{
			TenantID:  tenantID,
			FileName:  fileName,
			Frequency: frequency,
			Conflicts: conflicts,
		})
		if err != nil {
			i.metrics.datasetIngested("failed")
			return nil, err
		}
		i.metrics.datasetIngested("deferred")
		return &IngestResult{
			Status:    IngestStatusAwaitingDecision,
			Frequency: frequency,
			JobID:     job.ID,
			Conflicts: conflicts,
		}, nil
	}

	result, err := i.writer.Write(ctx, handle, dataset, frequency)
	if err != nil {
		i.metrics.datasetIngested("failed")
		return nil, err
	}
	i.optimize(ctx, handle, frequency)

	i.metrics.datasetIngested("processed")
	return &IngestResult{
		Status:        IngestStatusProcessed,
		Frequency:     frequency,
		RowsSubmitted: result.RowsSubmitted,
		RowsWritten:   result.RowsWritten,
	}, nil
}

// Decide applies a decision to a deferred job owned by the tenant.
func (i *Ingestor) Decide(ctx context.Context, tenantID, jobID, decision string, override FrequencyBucket) (IngestionJob, error) {
	if _, err := i.jobForTenant(tenantID, jobID); err != nil {
		return IngestionJob{}, err
	}
	return i.gateway.Decide(ctx, jobID, decision, override)
}

// Job returns a deferred job's record, scoped to the owning tenant.
func (i *Ingestor) Job(tenantID, jobID string) (IngestionJob, error) {
	return i.jobForTenant(tenantID, jobID)
}

func (i *Ingestor) jobForTenant(tenantID, jobID string) (IngestionJob, error) {
	job, err := i.gateway.Job(jobID)
	if err != nil {
		return IngestionJob{}, err
	}
	if job.TenantID != tenantID {
		return IngestionJob{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return job, nil
}

// resumeJob reruns the write path for a decided job. The spooled payload
// supplies the rows; frequency and tenant come from the metadata
// captured at submission time.
func (i *Ingestor) resumeJob(ctx context.Context, job *IngestionJob, frequency FrequencyBucket) (WriteResult, error) {
	handle, err := i.router.Resolve(ctx, job.TenantID)
	if err != nil {
		return WriteResult{}, err
	}
	payload, err := os.ReadFile(job.PayloadPath)
	if err != nil {
		return WriteResult{}, fmt.Errorf("reading spooled payload for job %s: %w", job.ID, err)
	}
	dataset, err := ParseDataset(bytes.NewReader(payload))
	if err != nil {
		return WriteResult{}, err
	}
	result, err := i.writer.Write(ctx, handle, dataset, frequency)
	if err != nil {
		return WriteResult{}, err
	}
	i.optimize(ctx, handle, frequency)
	return result, nil
}

func (i *Ingestor) optimize(ctx context.Context, handle *TenantHandle, frequency FrequencyBucket) {
	if i.optimizer == nil {
		return
	}
	if err := i.optimizer.Optimize(ctx, handle, frequency); err != nil {
		i.logger.Warn("storage optimization skipped",
			"tenant", handle.TenantID(), "error", err)
	}
}
