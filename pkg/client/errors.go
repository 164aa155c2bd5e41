package client

import (
	"errors"
	"fmt"

	"github.com/bytegrader/bgctl/pkg/models"
)

// Sentinel errors for terminal status-check failures. The poller stops
// immediately when it sees one of these; retrying cannot help.
var (
	// ErrJobNotFound means the server has no job with the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrAccessDenied means the job exists but belongs to another user.
	ErrAccessDenied = errors.New("access denied - username mismatch")
)

// FileTooLargeError is returned by Submit before any network call when the
// file exceeds the configured maximum.
type FileTooLargeError struct {
	Size     int64
	MaxBytes int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file too large: %d bytes exceeds maximum of %d bytes", e.Size, e.MaxBytes)
}

// ConnectionError wraps a transport-level failure. Callers may treat it as
// transient; the client itself never retries.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DuplicateSubmissionError is the typed form of an HTTP 409: the user
// already has an active submission. Info is nil when the conflict body
// could not be parsed.
type DuplicateSubmissionError struct {
	Info *models.ConflictInfo
}

func (e *DuplicateSubmissionError) Error() string {
	if e.Info == nil || e.Info.Message == "" {
		return "you already have a submission being graded"
	}
	return e.Info.Message
}

// ServerError is any non-200 response that has no more specific shape.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
}

// MalformedResponseError is a 200 whose body is not valid JSON.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("invalid JSON response from server: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// InvalidResponseError is a well-formed response missing a required field,
// such as a submit response without a job id or a status response without
// the job envelope.
type InvalidResponseError struct {
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid response from server: %s", e.Reason)
}

// IsTerminalStatusError reports whether a CheckStatus error means polling
// must stop: the job is gone, owned by someone else, or the server is
// speaking a shape we cannot parse.
func IsTerminalStatusError(err error) bool {
	if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrAccessDenied) {
		return true
	}
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return true
	}
	var invalid *InvalidResponseError
	return errors.As(err, &invalid)
}
