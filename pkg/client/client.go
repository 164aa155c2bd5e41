package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/bytegrader/bgctl/pkg/logging"
	"github.com/bytegrader/bgctl/pkg/models"
)

// Per-endpoint request deadlines. Submission carries the file body and
// gets the longest one.
const (
	submitTimeout  = 60 * time.Second
	statusTimeout  = 15 * time.Second
	queueTimeout   = 10 * time.Second
	configTimeout  = 15 * time.Second
	versionTimeout = 10 * time.Second
)

// Client talks to a ByteGrader grading server. It performs exactly one
// network call per method and never retries internally; transient-failure
// policy belongs to the caller (see pkg/poller).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets a logger for request/response traces at DEBUG level.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the grading server at baseURL, authenticating
// every request with apiKey.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		logger:     logging.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SubmissionRequest describes one file-based work item to grade.
type SubmissionRequest struct {
	AssignmentID string
	Username     string
	Filename     string
	Content      io.Reader
	Size         int64
	MaxBytes     int64 // reject locally when Size exceeds this; 0 means no limit
}

// MaxFileBytes converts a size limit expressed in MB to bytes.
func MaxFileBytes(mb int) int64 {
	return int64(mb) * 1024 * 1024
}

// Submit uploads the work item as a multipart POST to
// /submit?assignment={id} and returns the job receipt.
//
// The file size is validated before any network call. Failure modes map to
// the typed errors in errors.go: *FileTooLargeError, *ConnectionError,
// *DuplicateSubmissionError (HTTP 409), *ServerError, *MalformedResponseError
// and *InvalidResponseError.
func (c *Client) Submit(ctx context.Context, req SubmissionRequest) (*models.Receipt, error) {
	if req.MaxBytes > 0 && req.Size > req.MaxBytes {
		return nil, &FileTooLargeError{Size: req.Size, MaxBytes: req.MaxBytes}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, req.Filename))
	header.Set("Content-Type", "application/zip")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart body: %w", err)
	}
	if _, err := io.Copy(part, req.Content); err != nil {
		return nil, fmt.Errorf("failed to read submission file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	submitURL := fmt.Sprintf("%s/submit?assignment=%s", c.baseURL, url.QueryEscape(req.AssignmentID))
	c.logger.Debug("submitting to grading server", map[string]interface{}{
		"url":      submitURL,
		"username": req.Username,
		"filename": req.Filename,
		"size":     req.Size,
	})

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	c.setIdentityHeaders(httpReq, req.Username)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	c.logger.Debug("submission response", map[string]interface{}{
		"status": resp.StatusCode,
		"body":   string(respBody),
	})

	if resp.StatusCode == http.StatusConflict {
		return nil, &DuplicateSubmissionError{Info: parseConflict(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	if result.JobID == "" {
		return nil, &InvalidResponseError{Reason: "missing job id"}
	}

	return &models.Receipt{JobID: result.JobID, Username: req.Username}, nil
}

// parseConflict extracts structured duplicate-submission info from a 409
// body. A body that fails to parse degrades to nil so the caller still
// gets a usable generic duplicate error.
func parseConflict(body []byte) *models.ConflictInfo {
	var info models.ConflictInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil
	}
	if info.ExistingJobID == "" && info.QueueInfo == nil && info.Message == "" {
		return nil
	}
	return &info
}

// CheckStatus fetches the current state of a job from /status/{job_id}.
// 404 maps to ErrJobNotFound and 403 to ErrAccessDenied; both are terminal
// for a polling caller.
func (c *Client) CheckStatus(ctx context.Context, jobID, username string) (*models.Job, error) {
	statusURL := fmt.Sprintf("%s/status/%s", c.baseURL, url.PathEscape(jobID))
	c.logger.Debug("checking job status", map[string]interface{}{
		"url":      statusURL,
		"job_id":   jobID,
		"username": username,
	})

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	resp, body, err := c.get(ctx, statusURL, username)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrJobNotFound
	case http.StatusForbidden:
		return nil, ErrAccessDenied
	default:
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var envelope struct {
		Job *models.Job `json:"job"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	if envelope.Job == nil {
		return nil, &InvalidResponseError{Reason: "missing job envelope"}
	}

	job := envelope.Job
	job.Status = models.ParseJobStatus(string(job.Status))
	if job.Result == nil && job.Status.IsTerminal() {
		// Absent optional fields default to an empty result.
		job.Result = &models.JobResult{}
	}
	return job, nil
}

// CheckQueue fetches coarse queue metrics from /queue. Used only while a
// job is queued, to estimate the caller's position.
func (c *Client) CheckQueue(ctx context.Context, username string) (*models.QueueMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, queueTimeout)
	defer cancel()

	resp, body, err := c.get(ctx, c.baseURL+"/queue", username)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var metrics models.QueueMetrics
	if err := json.Unmarshal(body, &metrics); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	return &metrics, nil
}

// ServerConfig fetches the server's configuration document from /config.
// Diagnostic only; the shape is server-defined.
func (c *Client) ServerConfig(ctx context.Context) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, configTimeout)
	defer cancel()

	resp, body, err := c.getBearer(ctx, c.baseURL+"/config")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var config map[string]interface{}
	if err := json.Unmarshal(body, &config); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	return config, nil
}

// ServerVersion fetches the server's advertised version from /version.
func (c *Client) ServerVersion(ctx context.Context) (*models.VersionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	resp, body, err := c.getBearer(ctx, c.baseURL+"/version")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var info models.VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	if info.Version == "" {
		return nil, &InvalidResponseError{Reason: "missing version"}
	}
	return &info, nil
}

// BaseURL returns the configured server URL with trailing slashes removed.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) setIdentityHeaders(req *http.Request, username string) {
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Username", username)
}

func (c *Client) get(ctx context.Context, rawURL, username string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setIdentityHeaders(req, username)
	return c.do(req)
}

func (c *Client) getBearer(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &ConnectionError{Err: err}
	}
	c.logger.Debug("grading server response", map[string]interface{}{
		"url":    req.URL.String(),
		"status": resp.StatusCode,
	})
	return resp, body, nil
}
