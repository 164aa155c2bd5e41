package models

import (
	"time"
)

// JobStatus represents the lifecycle status of a grading job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusUnknown    JobStatus = "unknown"
)

// ParseJobStatus maps a server-reported status string onto the closed
// status set. Anything unrecognized becomes JobStatusUnknown so a typo on
// the server side can never silently match a terminal branch.
func ParseJobStatus(s string) JobStatus {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return JobStatus(s)
	default:
		return JobStatusUnknown
	}
}

// IsTerminal reports whether the status is absorbing: once observed, no
// further transitions happen for that job.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one server-side unit of grading work, observed (never mutated)
// by the client.
type Job struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename,omitempty"`
	Size         int64      `json:"size,omitempty"`
	Status       JobStatus  `json:"status"`
	AssignmentID string     `json:"assignment_id"`
	Username     string     `json:"username"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Result       *JobResult `json:"result,omitempty"`
}

// JobResult carries the grading outcome of a terminal job. Score is set
// only when the job completed; Error and Feedback are populated for failed
// runs so the student can remediate.
type JobResult struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
	Error    string   `json:"error"`
}

// Score returns the completed job's score. The second return is false
// unless the job reached completed with a numeric score.
func (j *Job) Score() (float64, bool) {
	if j.Status != JobStatusCompleted || j.Result == nil || j.Result.Score == nil {
		return 0, false
	}
	return *j.Result.Score, true
}

// QueueMetrics are coarse server-reported counters, fetched fresh per poll
// tick while a job is queued. Advisory only: they drive user-facing
// estimates and never the polling schedule.
type QueueMetrics struct {
	QueueLength   int `json:"queue_length"`
	ActiveJobs    int `json:"active_jobs"`
	MaxConcurrent int `json:"max_concurrent"`
}

// ConflictInfo describes a duplicate-submission rejection: the caller
// already has an unfinished job on the server.
type ConflictInfo struct {
	ExistingJobID string        `json:"existing_job_id"`
	QueueInfo     *QueueMetrics `json:"queue_info,omitempty"`
	Message       string        `json:"error"`
}

// VersionInfo is the server's advertised build identity.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

// Receipt is the successful outcome of a submission: the job to poll and
// the username it is bound to.
type Receipt struct {
	JobID    string `json:"job_id"`
	Username string `json:"username"`
}

// Attempt is the stored record of one graded submission, keyed by user and
// assignment. Only the latest attempt is retained.
type Attempt struct {
	Score        float64   `json:"score"`
	Passed       bool      `json:"passed"`
	Feedback     string    `json:"feedback"`
	JobID        string    `json:"job_id"`
	AssignmentID string    `json:"assignment_id"`
	Timestamp    time.Time `json:"timestamp"`
}
