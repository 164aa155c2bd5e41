// Package reconcile records a completed grading job into the external
// system of record exactly once per job.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytegrader/bgctl/pkg/logging"
	"github.com/bytegrader/bgctl/pkg/models"
	"github.com/bytegrader/bgctl/pkg/retry"
)

// Defaults used when the gradebook has no per-assignment configuration.
const (
	DefaultPassingThreshold = 80
	DefaultMaxFileSizeMB    = 10
)

// Gradebook is the external record-keeping collaborator. Implementations
// must tolerate SubmitResult being called many times across a user's
// lifetime (each call is a new attempt); the reconciler guarantees at most
// one call per completed job.
type Gradebook interface {
	// SubmitResult records a graded attempt.
	SubmitResult(ctx context.Context, username, assignmentID string, score float64, passed bool) error

	// StoreLatestAttempt persists the full attempt for later display,
	// overwriting any prior attempt for the same user and assignment.
	StoreLatestAttempt(ctx context.Context, username, assignmentID string, attempt models.Attempt) error

	// LatestAttempt returns the stored attempt, or nil when none exists.
	LatestAttempt(ctx context.Context, username, assignmentID string) (*models.Attempt, error)

	// PassingThreshold returns the passing score for an assignment.
	PassingThreshold(ctx context.Context, assignmentID string) float64

	// MaxFileSizeMB returns the submission size limit for an assignment.
	MaxFileSizeMB(ctx context.Context, assignmentID string) int
}

// Reconciler commits terminal results to a Gradebook. Reconciling the same
// job id twice is a no-op, so a stale completed status observed upstream
// can never double-count an attempt.
type Reconciler struct {
	gradebook Gradebook
	logger    *logging.Logger
	retryCfg  retry.Config

	mu        sync.Mutex
	committed map[string]bool // job ids already recorded
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the reconciler's logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithRetryConfig overrides the backoff used for gradebook writes.
func WithRetryConfig(cfg retry.Config) Option {
	return func(r *Reconciler) { r.retryCfg = cfg }
}

// New creates a reconciler backed by the given gradebook.
func New(gradebook Gradebook, opts ...Option) *Reconciler {
	r := &Reconciler{
		gradebook: gradebook,
		logger:    logging.Nop(),
		retryCfg:  retry.DefaultConfig(),
		committed: make(map[string]bool),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reconcile records the job's score and feedback. It is a no-op unless the
// job is completed with a numeric score, and a no-op for any job id that
// was already recorded.
func (r *Reconciler) Reconcile(ctx context.Context, username, assignmentID string, job *models.Job) error {
	score, ok := job.Score()
	if !ok {
		return fmt.Errorf("job %s is not a completed job with a score", job.ID)
	}

	r.mu.Lock()
	if r.committed[job.ID] {
		r.mu.Unlock()
		r.logger.Debug("job already reconciled, skipping", map[string]interface{}{"job_id": job.ID})
		return nil
	}
	r.mu.Unlock()

	threshold := r.gradebook.PassingThreshold(ctx, assignmentID)
	passed := score >= threshold

	if err := retry.Do(ctx, r.retryCfg, func() error {
		return r.gradebook.SubmitResult(ctx, username, assignmentID, score, passed)
	}); err != nil {
		return fmt.Errorf("failed to submit result for job %s: %w", job.ID, err)
	}

	attempt := models.Attempt{
		Score:        score,
		Passed:       passed,
		JobID:        job.ID,
		AssignmentID: assignmentID,
		Timestamp:    time.Now(),
	}
	if job.Result != nil {
		attempt.Feedback = job.Result.Feedback
	}
	if err := retry.Do(ctx, r.retryCfg, func() error {
		return r.gradebook.StoreLatestAttempt(ctx, username, assignmentID, attempt)
	}); err != nil {
		return fmt.Errorf("failed to store attempt for job %s: %w", job.ID, err)
	}

	r.mu.Lock()
	r.committed[job.ID] = true
	r.mu.Unlock()

	r.logger.Info("recorded graded attempt", map[string]interface{}{
		"job_id":     job.ID,
		"username":   username,
		"assignment": assignmentID,
		"score":      score,
		"passed":     passed,
	})
	return nil
}
