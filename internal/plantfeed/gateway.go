package plantfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobsWorkflowClient is the external decision workflow service. When
// configured, deferred jobs are registered with it and decisions are
// proxied; its failures propagate as ingestion failures.
type JobsWorkflowClient interface {
	CreateJob(ctx context.Context, payloadPath, fileName string, metadata JobMetadata) (string, error)
	Decide(ctx context.Context, externalJobID, decision string, frequency FrequencyBucket) error
}

// JobMetadata is captured at submission time and trusted on resume; the
// payload is reread only for row data, never reparsed for metadata.
type JobMetadata struct {
	TenantID  string           `json:"tenantId"`
	FileName  string           `json:"fileName"`
	Frequency FrequencyBucket  `json:"frequency"`
	Conflicts []ConflictRecord `json:"conflicts"`
}

// ResumeFunc re-runs the write path for a decided job using the
// frequency chosen at decision time.
type ResumeFunc func(ctx context.Context, job *IngestionJob, frequency FrequencyBucket) (WriteResult, error)

// JobStateBackend persists the gateway's job index across restarts.
type JobStateBackend interface {
	Load() (map[string]*IngestionJob, error)
	Save(jobs map[string]*IngestionJob) error
}

type GatewayOptions struct {
	SpoolDir   string
	State      JobStateBackend
	JobsClient JobsWorkflowClient
	Logger     *slog.Logger
	Metrics    *Metrics
}

// Gateway owns deferred ingestion jobs from submission until a terminal
// decision is recorded. Payloads are spooled to durable temp storage so
// they remain addressable between submit and decide.
type Gateway struct {
	spoolDir   string
	state      JobStateBackend
	jobsClient JobsWorkflowClient
	logger     *slog.Logger
	metrics    *Metrics

	mu       sync.Mutex
	jobs     map[string]*IngestionJob
	deciding map[string]bool
	resume   ResumeFunc
}

func NewGateway(opts GatewayOptions) (*Gateway, error) {
	spoolDir := strings.TrimSpace(opts.SpoolDir)
	if spoolDir == "" {
		spoolDir = filepath.Join(os.TempDir(), "plantfeed-spool")
	}
	if err := os.MkdirAll(spoolDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating spool dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		spoolDir:   spoolDir,
		state:      opts.State,
		jobsClient: opts.JobsClient,
		logger:     logger.With("component", "gateway"),
		metrics:    opts.Metrics,
		jobs:       map[string]*IngestionJob{},
		deciding:   map[string]bool{},
	}
	if g.state != nil {
		jobs, err := g.state.Load()
		if err != nil {
			return nil, fmt.Errorf("loading job state: %w", err)
		}
		if jobs != nil {
			g.jobs = jobs
		}
	}
	return g, nil
}

// SetResumeFunc wires the write path used when a job is processed. Must
// be called before the first Decide.
func (g *Gateway) SetResumeFunc(resume ResumeFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resume = resume
}

// Submit spools the raw payload, records the job and, when an external
// workflow service is configured, registers the job there. The job
// starts in awaiting_decision; nothing is written until a decision.
func (g *Gateway) Submit(ctx context.Context, payload []byte, metadata JobMetadata) (IngestionJob, error) {
	if len(payload) == 0 {
		return IngestionJob{}, fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	if strings.TrimSpace(metadata.TenantID) == "" {
		return IngestionJob{}, fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}

	jobID := "job_" + uuid.NewString()
	payloadPath := filepath.Join(g.spoolDir, jobID+".csv")
	if err := os.WriteFile(payloadPath, payload, 0o600); err != nil {
		return IngestionJob{}, fmt.Errorf("spooling payload: %w", err)
	}

	job := &IngestionJob{
		ID:                jobID,
		TenantID:          metadata.TenantID,
		FileName:          metadata.FileName,
		PayloadPath:       payloadPath,
		DetectedFrequency: metadata.Frequency,
		Conflicts:         metadata.Conflicts,
		Status:            JobStatusAwaitingDecision,
		CreatedAt:         time.Now().UTC(),
	}

	if g.jobsClient != nil {
		externalID, err := g.jobsClient.CreateJob(ctx, payloadPath, metadata.FileName, metadata)
		if err != nil {
			_ = os.Remove(payloadPath)
			return IngestionJob{}, fmt.Errorf("registering job with decision workflow: %w", err)
		}
		job.ExternalJobID = externalID
	}

	g.mu.Lock()
	g.jobs[jobID] = job
	snapshot := g.cloneJobsLocked()
	g.mu.Unlock()
	g.persist(snapshot)

	g.metrics.jobDeferred()
	g.logger.Info("ingestion deferred",
		"job", jobID, "tenant", job.TenantID, "conflicts", len(job.Conflicts), "frequency", job.DetectedFrequency)
	return *job, nil
}

// Job returns a copy of one job record.
func (g *Gateway) Job(jobID string) (IngestionJob, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	job, ok := g.jobs[jobID]
	if !ok {
		return IngestionJob{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return *job, nil
}

// Jobs lists all known jobs, newest first not guaranteed.
func (g *Gateway) Jobs() []IngestionJob {
	g.mu.Lock()
	defer g.mu.Unlock()
	jobs := make([]IngestionJob, 0, len(g.jobs))
	for _, job := range g.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// Decide applies a terminal decision. "process" resumes the writer with
// the candidate frequency (or the explicit override), "skip" discards
// the job without writing. Decisions on unknown jobs fail with
// ErrUnknownJob; anything outside the vocabulary, or re-deciding a
// terminal job, fails with ErrInvalidDecision. Internal errors mark the
// job failed and are surfaced; there is no automatic retry.
func (g *Gateway) Decide(ctx context.Context, jobID, decision string, override FrequencyBucket) (IngestionJob, error) {
	decision = strings.ToLower(strings.TrimSpace(decision))
	if decision != DecisionProcess && decision != DecisionSkip {
		return IngestionJob{}, fmt.Errorf("%w: %q is not in {process, skip}", ErrInvalidDecision, decision)
	}
	if override != FrequencyUnknown && !override.Valid() {
		return IngestionJob{}, fmt.Errorf("%w: unknown override frequency %q", ErrInvalidDecision, override)
	}

	// Claim the job without holding the gateway lock across the write.
	g.mu.Lock()
	job, ok := g.jobs[jobID]
	if !ok {
		g.mu.Unlock()
		return IngestionJob{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if job.Status.Terminal() || g.deciding[jobID] {
		g.mu.Unlock()
		return IngestionJob{}, fmt.Errorf("%w: job %s already decided", ErrInvalidDecision, jobID)
	}
	g.deciding[jobID] = true
	claimed := *job
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.deciding, jobID)
		g.mu.Unlock()
	}()

	if g.jobsClient != nil && claimed.ExternalJobID != "" {
		if err := g.jobsClient.Decide(ctx, claimed.ExternalJobID, decision, override); err != nil {
			return g.finishJob(jobID, func(j *IngestionJob) {
				j.Status = JobStatusFailed
				j.Error = err.Error()
			}), fmt.Errorf("decision workflow: %w", err)
		}
	}

	switch decision {
	case DecisionSkip:
		finished := g.finishJob(jobID, func(j *IngestionJob) {
			j.Status = JobStatusSkipped
		})
		g.removeSpool(&claimed)
		g.metrics.decisionApplied(decision)
		g.logger.Info("job skipped", "job", jobID, "tenant", claimed.TenantID)
		return finished, nil

	case DecisionProcess:
		g.mu.Lock()
		resume := g.resume
		g.mu.Unlock()
		if resume == nil {
			return g.finishJob(jobID, func(j *IngestionJob) {
				j.Status = JobStatusFailed
				j.Error = "no resume function configured"
			}), errors.New("gateway has no resume function configured")
		}
		frequency := claimed.DetectedFrequency
		if override != FrequencyUnknown {
			frequency = override
		}
		result, err := resume(ctx, &claimed, frequency)
		if err != nil {
			finished := g.finishJob(jobID, func(j *IngestionJob) {
				j.Status = JobStatusFailed
				j.Error = err.Error()
			})
			return finished, err
		}
		finished := g.finishJob(jobID, func(j *IngestionJob) {
			j.Status = JobStatusProcessed
			j.RowsWritten = result.RowsWritten
		})
		g.removeSpool(&claimed)
		g.metrics.decisionApplied(decision)
		g.logger.Info("job processed",
			"job", jobID, "tenant", claimed.TenantID, "rows_written", result.RowsWritten, "frequency", frequency)
		return finished, nil
	}
	return IngestionJob{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
}

func (g *Gateway) finishJob(jobID string, mutate func(*IngestionJob)) IngestionJob {
	now := time.Now().UTC()
	g.mu.Lock()
	job, ok := g.jobs[jobID]
	if !ok {
		g.mu.Unlock()
		return IngestionJob{}
	}
	mutate(job)
	job.DecidedAt = &now
	finished := *job
	snapshot := g.cloneJobsLocked()
	g.mu.Unlock()
	g.persist(snapshot)
	return finished
}

func (g *Gateway) removeSpool(job *IngestionJob) {
	if job.PayloadPath == "" {
		return
	}
	if err := os.Remove(job.PayloadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		g.logger.Warn("failed to remove spooled payload", "job", job.ID, "error", err)
	}
}

func (g *Gateway) cloneJobsLocked() map[string]*IngestionJob {
	snapshot := make(map[string]*IngestionJob, len(g.jobs))
	for id, job := range g.jobs {
		clone := *job
		snapshot[id] = &clone
	}
	return snapshot
}

func (g *Gateway) persist(snapshot map[string]*IngestionJob) {
	if g.state == nil {
		return
	}
	if err := g.state.Save(snapshot); err != nil {
		g.logger.Warn("failed to persist job state", "error", err)
	}
}

// JSONFileJobState stores the job index as a JSON snapshot on disk,
// written atomically via a temp file rename.
type JSONFileJobState struct {
	path string
	mu   sync.Mutex
}

func NewJSONFileJobState(path string) *JSONFileJobState {
	return &JSONFileJobState{path: path}
}

func (b *JSONFileJobState) Load() (map[string]*IngestionJob, error) {
	if b == nil || strings.TrimSpace(b.path) == "" {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var jobs map[string]*IngestionJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (b *JSONFileJobState) Save(jobs map[string]*IngestionJob) error {
	if b == nil || strings.TrimSpace(b.path) == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}
