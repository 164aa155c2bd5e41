// Package poller owns the polling lifecycle for one in-flight grading
// job: it schedules repeated status checks, classifies every response,
// and decides whether to continue, stop, or escalate to a final error.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/bytegrader/bgctl/pkg/client"
	"github.com/bytegrader/bgctl/pkg/logging"
	"github.com/bytegrader/bgctl/pkg/models"
	"github.com/bytegrader/bgctl/pkg/queue"
)

// StatusClient is the slice of the grading-server client the poller needs.
type StatusClient interface {
	CheckStatus(ctx context.Context, jobID, username string) (*models.Job, error)
	CheckQueue(ctx context.Context, username string) (*models.QueueMetrics, error)
}

// TimeoutReason distinguishes the two ways a session can exhaust its
// attempt budget.
type TimeoutReason int

const (
	// TimeoutConnection: the budget was exhausted while the server was
	// unreachable.
	TimeoutConnection TimeoutReason = iota
	// TimeoutSlowGrading: the server kept answering but the job never
	// reached a terminal status.
	TimeoutSlowGrading
)

func (r TimeoutReason) String() string {
	if r == TimeoutConnection {
		return "connection lost while waiting for grading to finish"
	}
	return "grading is taking longer than expected"
}

// Config carries the polling schedule and the per-branch callbacks. Every
// branch of the status switch produces a user-visible event; nil callbacks
// are simply skipped. Callbacks run on the poller goroutine, strictly
// sequentially.
type Config struct {
	Interval    time.Duration // default 5s
	MaxAttempts int           // default 60 (~5 minutes at the default interval)

	Guard  Guard // navigation guard held while a session is active
	Logger *logging.Logger

	// Reconcile is invoked exactly once per session, just before the
	// session ends on a completed job.
	Reconcile func(ctx context.Context, job *models.Job) error

	OnQueued         func(pos queue.Position, metrics *models.QueueMetrics, elapsed time.Duration)
	OnProcessing     func(elapsed time.Duration)
	OnUnknownStatus  func(status models.JobStatus, elapsed time.Duration)
	OnTransientError func(err error, attempt int)
	OnCompleted      func(job *models.Job, elapsed time.Duration)
	OnFailed         func(job *models.Job, elapsed time.Duration)
	OnTerminalError  func(err error)
	OnTimeout        func(reason TimeoutReason, attempts int, elapsed time.Duration)
}

const (
	defaultInterval    = 5 * time.Second
	defaultMaxAttempts = 60
)

// session is the mutable run-state of one polling lifecycle. It is owned
// by exactly one goroutine; the Poller only ever cancels it.
type session struct {
	jobID    string
	username string
	start    time.Time
	attempts int
	cancel   context.CancelFunc
	done     chan struct{}
}

// Poller drives at most one active polling session at a time. Start is
// safe to call while a session is active: the prior session is torn down
// first, so two overlapping timers can never exist.
type Poller struct {
	client StatusClient
	cfg    Config
	logger *logging.Logger

	mu      sync.Mutex
	session *session
}

// New creates a poller. Zero-valued Config fields get defaults.
func New(statusClient StatusClient, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Guard == nil {
		cfg.Guard = NopGuard{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Poller{client: statusClient, cfg: cfg, logger: logger}
}

// Start begins polling the given job. Any active session is stopped first.
// The first status check happens immediately; subsequent checks run every
// Interval until a terminal status, a terminal error, the attempt cap, or
// Stop.
func (p *Poller) Start(ctx context.Context, jobID, username string) {
	p.Stop()

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		jobID:    jobID,
		username: username,
		start:    time.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	p.session = s
	p.mu.Unlock()

	p.cfg.Guard.Enable()
	p.logger.Info("started polling", map[string]interface{}{"job_id": jobID, "username": username})

	go p.run(sctx, s)
}

// Stop tears down the active session, if any. It is idempotent, safe to
// call from any goroutine, and guarantees that no further tick fires after
// it returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	s := p.session
	p.session = nil
	p.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	<-s.done
	p.cfg.Guard.Disable()
	p.logger.Info("stopped polling", map[string]interface{}{"job_id": s.jobID})
}

// IsActive reports whether a polling session is currently running.
func (p *Poller) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

// run is the session's single-writer loop. Ticks are strictly sequential:
// the next tick is not taken off the ticker until the previous one has
// been fully classified and acted upon.
func (p *Poller) run(ctx context.Context, s *session) {
	defer close(s.done)

	if !p.tick(ctx, s) {
		return
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.tick(ctx, s) {
				return
			}
		}
	}
}

// tick performs one status check and classifies the outcome. It returns
// false when the session is over.
func (p *Poller) tick(ctx context.Context, s *session) bool {
	if ctx.Err() != nil {
		return false
	}

	s.attempts++
	elapsed := time.Since(s.start)

	job, err := p.client.CheckStatus(ctx, s.jobID, s.username)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if client.IsTerminalStatusError(err) {
			p.logger.Error("terminal status error", map[string]interface{}{"job_id": s.jobID, "error": err.Error()})
			if p.cfg.OnTerminalError != nil {
				p.cfg.OnTerminalError(err)
			}
			p.finish(s)
			return false
		}

		p.logger.Warn("status check failed, will retry", map[string]interface{}{
			"job_id":  s.jobID,
			"attempt": s.attempts,
			"error":   err.Error(),
		})
		if p.cfg.OnTransientError != nil {
			p.cfg.OnTransientError(err, s.attempts)
		}
		return p.checkBudget(s, TimeoutConnection, elapsed)
	}

	switch job.Status {
	case models.JobStatusQueued:
		pos, metrics := p.queuePosition(ctx, s)
		if p.cfg.OnQueued != nil {
			p.cfg.OnQueued(pos, metrics, elapsed)
		}

	case models.JobStatusProcessing:
		if p.cfg.OnProcessing != nil {
			p.cfg.OnProcessing(elapsed)
		}

	case models.JobStatusCompleted:
		p.reconcile(ctx, job)
		if p.cfg.OnCompleted != nil {
			p.cfg.OnCompleted(job, elapsed)
		}
		p.finish(s)
		return false

	case models.JobStatusFailed:
		if p.cfg.OnFailed != nil {
			p.cfg.OnFailed(job, elapsed)
		}
		p.finish(s)
		return false

	default:
		// Permissive by design: an unrecognized status keeps polling.
		p.logger.Warn("unknown job status", map[string]interface{}{"job_id": s.jobID, "status": string(job.Status)})
		if p.cfg.OnUnknownStatus != nil {
			p.cfg.OnUnknownStatus(job.Status, elapsed)
		}
	}

	return p.checkBudget(s, TimeoutSlowGrading, elapsed)
}

// queuePosition fetches queue metrics for a queued job. Metrics are best
// effort; a failed fetch falls back to a bare position estimate.
func (p *Poller) queuePosition(ctx context.Context, s *session) (queue.Position, *models.QueueMetrics) {
	metrics, err := p.client.CheckQueue(ctx, s.username)
	if err != nil || metrics == nil {
		if err != nil {
			p.logger.Debug("queue check failed", map[string]interface{}{"error": err.Error()})
		}
		return queue.Position{Tier: queue.TierStartingNow}, nil
	}
	return queue.Estimate(*metrics), metrics
}

func (p *Poller) reconcile(ctx context.Context, job *models.Job) {
	if p.cfg.Reconcile == nil {
		return
	}
	if err := p.cfg.Reconcile(ctx, job); err != nil {
		p.logger.Error("result reconciliation failed", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

// checkBudget ends the session with a timeout event once the attempt cap
// is reached without a terminal status.
func (p *Poller) checkBudget(s *session, reason TimeoutReason, elapsed time.Duration) bool {
	if s.attempts < p.cfg.MaxAttempts {
		return true
	}
	p.logger.Error("polling attempt budget exhausted", map[string]interface{}{
		"job_id":   s.jobID,
		"attempts": s.attempts,
		"reason":   reason.String(),
	})
	if p.cfg.OnTimeout != nil {
		p.cfg.OnTimeout(reason, s.attempts, elapsed)
	}
	p.finish(s)
	return false
}

// finish ends a session from within its own tick: it detaches the session
// from the poller, cancels its context, and releases the guard. The run
// loop closes s.done when it returns.
func (p *Poller) finish(s *session) {
	p.mu.Lock()
	if p.session == s {
		p.session = nil
	}
	p.mu.Unlock()
	s.cancel()
	p.cfg.Guard.Disable()
}
