package plantfeed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSpoolFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job_test.csv")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing spool file: %v", err)
	}
	return path
}

func TestJobsClientCreateJob(t *testing.T) {
	var gotFileName, gotPayload string
	var gotMetadata JobMetadata
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/jobs/upload" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotFileName = header.Filename
		gotPayload = string(data)
		if err := json.Unmarshal([]byte(r.FormValue("metadata")), &gotMetadata); err != nil {
			t.Errorf("bad metadata field: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "ext_99"}`))
	}))
	defer server.Close()

	client, err := NewHTTPJobsClient(JobsClientOptions{BaseURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("NewHTTPJobsClient failed: %v", err)
	}
	path := writeSpoolFile(t, sampleUpload)
	metadata := JobMetadata{TenantID: "7", FileName: "pumps.csv", Frequency: FrequencyHour}

	id, err := client.CreateJob(context.Background(), path, "pumps.csv", metadata)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if id != "ext_99" {
		t.Fatalf("unexpected job id %q", id)
	}
	if gotFileName != "pumps.csv" {
		t.Fatalf("unexpected upload file name %q", gotFileName)
	}
	if gotPayload != sampleUpload {
		t.Fatalf("payload not forwarded intact")
	}
	if gotMetadata.TenantID != "7" || gotMetadata.Frequency != FrequencyHour {
		t.Fatalf("metadata not forwarded: %+v", gotMetadata)
	}
}

func TestJobsClientCreateJobRejectsMissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewHTTPJobsClient(JobsClientOptions{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPJobsClient failed: %v", err)
	}
	path := writeSpoolFile(t, sampleUpload)
	if _, err := client.CreateJob(context.Background(), path, "x.csv", JobMetadata{}); err == nil {
		t.Fatalf("expected error on empty job id")
	}
}

func TestJobsClientDecide(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("bad decision body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewHTTPJobsClient(JobsClientOptions{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPJobsClient failed: %v", err)
	}
	if err := client.Decide(context.Background(), "ext_99", DecisionProcess, FrequencyMinute); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if gotPath != "/api/v1/jobs/ext_99/decide" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["decision"] != "process" || gotBody["frequency"] != "minute" {
		t.Fatalf("unexpected decision body: %v", gotBody)
	}
}

func TestJobsClientDecideOmitsUnknownFrequency(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer server.Close()

	client, err := NewHTTPJobsClient(JobsClientOptions{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPJobsClient failed: %v", err)
	}
	if err := client.Decide(context.Background(), "ext_99", DecisionSkip, FrequencyUnknown); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if _, ok := gotBody["frequency"]; ok {
		t.Fatalf("frequency should be omitted when unknown: %v", gotBody)
	}
}

func TestJobsClientSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "job not found", http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewHTTPJobsClient(JobsClientOptions{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPJobsClient failed: %v", err)
	}
	_, err = client.JobStatus(context.Background(), "ext_missing")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
	if !strings.Contains(err.Error(), "job not found") {
		t.Fatalf("expected body snippet in error, got %v", err)
	}
}

func TestJobsClientRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPJobsClient(JobsClientOptions{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
