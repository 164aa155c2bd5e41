package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytegrader/bgctl/pkg/models"
)

func TestSubmitSuccess(t *testing.T) {
	var gotRequest *http.Request
	var gotFilename, gotPartType, gotContent string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequest = r.Clone(context.Background())

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			return
		}
		defer file.Close()
		gotFilename = header.Filename
		gotPartType = header.Header.Get("Content-Type")
		content, _ := io.ReadAll(file)
		gotContent = string(content)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-123"})
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	receipt, err := c.Submit(context.Background(), SubmissionRequest{
		AssignmentID: "hw-1",
		Username:     "alice",
		Filename:     "project.zip",
		Content:      strings.NewReader("zip bytes"),
		Size:         9,
		MaxBytes:     MaxFileBytes(10),
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if receipt.JobID != "job-123" {
		t.Errorf("expected job ID job-123, got %s", receipt.JobID)
	}
	if receipt.Username != "alice" {
		t.Errorf("expected username alice, got %s", receipt.Username)
	}

	if gotRequest.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", gotRequest.Method)
	}
	if gotRequest.URL.Path != "/submit" {
		t.Errorf("expected path /submit, got %s", gotRequest.URL.Path)
	}
	if got := gotRequest.URL.Query().Get("assignment"); got != "hw-1" {
		t.Errorf("expected assignment query hw-1, got %s", got)
	}
	if got := gotRequest.Header.Get("X-API-Key"); got != "test-key" {
		t.Errorf("expected X-API-Key test-key, got %s", got)
	}
	if got := gotRequest.Header.Get("X-Username"); got != "alice" {
		t.Errorf("expected X-Username alice, got %s", got)
	}
	if gotFilename != "project.zip" {
		t.Errorf("expected filename project.zip, got %s", gotFilename)
	}
	if gotPartType != "application/zip" {
		t.Errorf("expected part content type application/zip, got %s", gotPartType)
	}
	if gotContent != "zip bytes" {
		t.Errorf("expected file content to round-trip, got %q", gotContent)
	}
}

func TestSubmitFileTooLargeSkipsNetwork(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	_, err := c.Submit(context.Background(), SubmissionRequest{
		AssignmentID: "hw-1",
		Username:     "alice",
		Filename:     "big.zip",
		Content:      strings.NewReader("x"),
		Size:         11 * 1024 * 1024,
		MaxBytes:     MaxFileBytes(10),
	})

	var tooLarge *FileTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected FileTooLargeError, got %v", err)
	}
	if tooLarge.MaxBytes != 10*1024*1024 {
		t.Errorf("expected max bytes %d, got %d", 10*1024*1024, tooLarge.MaxBytes)
	}
	if requests != 0 {
		t.Errorf("expected no network request for oversized file, server saw %d", requests)
	}
}

func TestSubmitDuplicate(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantInfo      bool
		wantJobID     string
		wantQueueLen  int
	}{
		{
			name:         "structured conflict body",
			body:         `{"error":"You already have a submission being processed","existing_job_id":"J1","queue_info":{"queue_length":3,"active_jobs":2,"max_concurrent":2}}`,
			wantInfo:     true,
			wantJobID:    "J1",
			wantQueueLen: 3,
		},
		{
			name:     "unparseable conflict body degrades to generic",
			body:     "busy",
			wantInfo: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			c := New(server.URL, "test-key")
			_, err := c.Submit(context.Background(), SubmissionRequest{
				AssignmentID: "hw-1",
				Username:     "alice",
				Filename:     "project.zip",
				Content:      strings.NewReader("data"),
				Size:         4,
			})

			var duplicate *DuplicateSubmissionError
			if !errors.As(err, &duplicate) {
				t.Fatalf("expected DuplicateSubmissionError, got %v", err)
			}
			if !tt.wantInfo {
				if duplicate.Info != nil {
					t.Errorf("expected nil conflict info, got %+v", duplicate.Info)
				}
				return
			}
			if duplicate.Info == nil {
				t.Fatal("expected conflict info, got nil")
			}
			if duplicate.Info.ExistingJobID != tt.wantJobID {
				t.Errorf("expected existing job %s, got %s", tt.wantJobID, duplicate.Info.ExistingJobID)
			}
			if duplicate.Info.QueueInfo == nil || duplicate.Info.QueueInfo.QueueLength != tt.wantQueueLen {
				t.Errorf("expected queue length %d, got %+v", tt.wantQueueLen, duplicate.Info.QueueInfo)
			}
		})
	}
}

func TestSubmitErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		checkError func(t *testing.T, err error)
	}{
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   "boom",
			checkError: func(t *testing.T, err error) {
				var serverErr *ServerError
				if !errors.As(err, &serverErr) {
					t.Fatalf("expected ServerError, got %v", err)
				}
				if serverErr.StatusCode != http.StatusInternalServerError {
					t.Errorf("expected status 500, got %d", serverErr.StatusCode)
				}
			},
		},
		{
			name:   "malformed JSON",
			status: http.StatusOK,
			body:   "not json",
			checkError: func(t *testing.T, err error) {
				var malformed *MalformedResponseError
				if !errors.As(err, &malformed) {
					t.Fatalf("expected MalformedResponseError, got %v", err)
				}
			},
		},
		{
			name:   "missing job id",
			status: http.StatusOK,
			body:   "{}",
			checkError: func(t *testing.T, err error) {
				var invalid *InvalidResponseError
				if !errors.As(err, &invalid) {
					t.Fatalf("expected InvalidResponseError, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			c := New(server.URL, "test-key")
			_, err := c.Submit(context.Background(), SubmissionRequest{
				AssignmentID: "hw-1",
				Username:     "alice",
				Filename:     "project.zip",
				Content:      strings.NewReader("data"),
				Size:         4,
			})
			tt.checkError(t, err)
		})
	}
}

func TestSubmitConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse all connections

	c := New(server.URL, "test-key")
	_, err := c.Submit(context.Background(), SubmissionRequest{
		AssignmentID: "hw-1",
		Username:     "alice",
		Filename:     "project.zip",
		Content:      strings.NewReader("data"),
		Size:         4,
	})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestCheckStatus(t *testing.T) {
	score := 92.0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/job-123" {
			t.Errorf("expected path /status/job-123, got %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Username"); got != "alice" {
			t.Errorf("expected X-Username alice, got %s", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job": models.Job{
				ID:     "job-123",
				Status: models.JobStatusCompleted,
				Result: &models.JobResult{Score: &score, Feedback: "well done"},
			},
		})
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	job, err := c.CheckStatus(context.Background(), "job-123", "alice")
	if err != nil {
		t.Fatalf("CheckStatus returned error: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("expected status completed, got %s", job.Status)
	}
	got, ok := job.Score()
	if !ok || got != 92.0 {
		t.Errorf("expected score 92, got %v (ok=%v)", got, ok)
	}
}

func TestCheckStatusNormalizesUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"job":{"id":"job-123","status":"compacting"}}`)
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	job, err := c.CheckStatus(context.Background(), "job-123", "alice")
	if err != nil {
		t.Fatalf("CheckStatus returned error: %v", err)
	}
	if job.Status != models.JobStatusUnknown {
		t.Errorf("expected unrecognized status to map to unknown, got %s", job.Status)
	}
}

func TestCheckStatusDefaultsResultForTerminalJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"job":{"id":"job-123","status":"failed"}}`)
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	job, err := c.CheckStatus(context.Background(), "job-123", "alice")
	if err != nil {
		t.Fatalf("CheckStatus returned error: %v", err)
	}
	if job.Result == nil {
		t.Fatal("expected terminal job to get a default empty result")
	}
	if job.Result.Feedback != "" || job.Result.Error != "" {
		t.Errorf("expected empty default result, got %+v", job.Result)
	}
}

func TestCheckStatusTerminalErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, body: "{}", wantErr: ErrJobNotFound},
		{name: "access denied", status: http.StatusForbidden, body: "{}", wantErr: ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			c := New(server.URL, "test-key")
			_, err := c.CheckStatus(context.Background(), "job-123", "alice")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if !IsTerminalStatusError(err) {
				t.Errorf("expected %v to be terminal", err)
			}
		})
	}
}

func TestCheckStatusMissingEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"queued"}`)
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	_, err := c.CheckStatus(context.Background(), "job-123", "alice")

	var invalid *InvalidResponseError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidResponseError for missing envelope, got %v", err)
	}
	if !IsTerminalStatusError(err) {
		t.Error("expected missing envelope to be terminal for pollers")
	}
}

func TestCheckQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/queue" {
			t.Errorf("expected path /queue, got %s", r.URL.Path)
		}
		io.WriteString(w, `{"queue_length":3,"active_jobs":2,"max_concurrent":2}`)
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	metrics, err := c.CheckQueue(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CheckQueue returned error: %v", err)
	}
	if metrics.QueueLength != 3 || metrics.ActiveJobs != 2 || metrics.MaxConcurrent != 2 {
		t.Errorf("unexpected metrics: %+v", metrics)
	}
}

func TestServerVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		io.WriteString(w, `{"version":"1.1.0","git_commit":"abc1234"}`)
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	info, err := c.ServerVersion(context.Background())
	if err != nil {
		t.Fatalf("ServerVersion returned error: %v", err)
	}
	if info.Version != "1.1.0" {
		t.Errorf("expected version 1.1.0, got %s", info.Version)
	}
}

func TestServerVersionMissingVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	_, err := c.ServerVersion(context.Background())

	var invalid *InvalidResponseError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidResponseError, got %v", err)
	}
}

func TestServerConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		io.WriteString(w, `{"max_file_size_mb":10,"queue_enabled":true}`)
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	config, err := c.ServerConfig(context.Background())
	if err != nil {
		t.Fatalf("ServerConfig returned error: %v", err)
	}
	if config["queue_enabled"] != true {
		t.Errorf("unexpected config: %+v", config)
	}
}
