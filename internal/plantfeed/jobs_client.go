package plantfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type JobsClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// HTTPJobsClient talks to the external jobs/decision workflow service.
type HTTPJobsClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

func NewHTTPJobsClient(opts JobsClientOptions) (*HTTPJobsClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: jobs service base url is required", ErrInvalidInput)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPJobsClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
	}, nil
}

// CreateJob uploads the spooled payload plus its metadata and returns
// the workflow service's job id.
func (c *HTTPJobsClient) CreateJob(ctx context.Context, payloadPath, fileName string, metadata JobMetadata) (string, error) {
	file, err := os.Open(payloadPath)
	if err != nil {
		return "", fmt.Errorf("opening spooled payload: %w", err)
	}
	defer file.Close()

	if strings.TrimSpace(fileName) == "" {
		fileName = filepath.Base(payloadPath)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	if err := form.WriteField("metadata", string(metadataJSON)); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/jobs/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &created); err != nil {
		return "", err
	}
	if strings.TrimSpace(created.ID) == "" {
		return "", fmt.Errorf("jobs service returned no job id")
	}
	return created.ID, nil
}

// JobStatus fetches the workflow service's view of a job.
func (c *HTTPJobsClient) JobStatus(ctx context.Context, externalJobID string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/jobs/"+externalJobID, nil)
	if err != nil {
		return nil, err
	}
	var status map[string]any
	if err := c.do(req, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// Decide forwards a decision for an externally registered job.
func (c *HTTPJobsClient) Decide(ctx context.Context, externalJobID, decision string, frequency FrequencyBucket) error {
	payload := map[string]string{"decision": decision}
	if frequency != FrequencyUnknown {
		payload["frequency"] = string(frequency)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/jobs/"+externalJobID+"/decide", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *HTTPJobsClient) do(req *http.Request, dst any) error {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return fmt.Errorf("jobs service returned %d: %s", resp.StatusCode, snippet)
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding jobs service response: %w", err)
	}
	return nil
}
