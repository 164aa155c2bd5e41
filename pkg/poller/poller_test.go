package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytegrader/bgctl/pkg/client"
	"github.com/bytegrader/bgctl/pkg/models"
	"github.com/bytegrader/bgctl/pkg/queue"
)

// fakeStatusClient replays a scripted sequence of status responses. Once
// the script runs out it keeps returning the last entry.
type fakeStatusClient struct {
	mu         sync.Mutex
	script     []scriptEntry
	idx        int
	calls      int
	inFlight   int32
	overlapped bool
	metrics    models.QueueMetrics
}

type scriptEntry struct {
	job *models.Job
	err error
}

func completedJob(id string, score float64) *models.Job {
	return &models.Job{
		ID:     id,
		Status: models.JobStatusCompleted,
		Result: &models.JobResult{Score: &score},
	}
}

func (f *fakeStatusClient) CheckStatus(ctx context.Context, jobID, username string) (*models.Job, error) {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		f.overlapped = true
	}
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	entry := f.script[f.idx]
	if f.idx < len(f.script)-1 {
		f.idx++
	}
	return entry.job, entry.err
}

func (f *fakeStatusClient) CheckQueue(ctx context.Context, username string) (*models.QueueMetrics, error) {
	m := f.metrics
	return &m, nil
}

func (f *fakeStatusClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingGuard counts enable/disable transitions.
type recordingGuard struct {
	mu       sync.Mutex
	enables  int
	disables int
}

func (g *recordingGuard) Enable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enables++
}

func (g *recordingGuard) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disables++
}

func (g *recordingGuard) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enables, g.disables
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for polling session to finish")
	}
}

func TestPollerFullLifecycle(t *testing.T) {
	fake := &fakeStatusClient{
		script: []scriptEntry{
			{job: &models.Job{ID: "J1", Status: models.JobStatusQueued}},
			{job: &models.Job{ID: "J1", Status: models.JobStatusQueued}},
			{job: &models.Job{ID: "J1", Status: models.JobStatusProcessing}},
			{job: completedJob("J1", 92)},
		},
		metrics: models.QueueMetrics{QueueLength: 2, ActiveJobs: 1, MaxConcurrent: 2},
	}
	guard := &recordingGuard{}

	var queuedEvents, processingEvents int
	var reconciled []string
	var completedScore float64
	done := make(chan struct{})

	p := New(fake, Config{
		Interval: 10 * time.Millisecond,
		Guard:    guard,
		Reconcile: func(ctx context.Context, job *models.Job) error {
			reconciled = append(reconciled, job.ID)
			return nil
		},
		OnQueued: func(pos queue.Position, metrics *models.QueueMetrics, elapsed time.Duration) {
			queuedEvents++
			if pos.JobsAhead != 2 {
				t.Errorf("expected 2 jobs ahead, got %d", pos.JobsAhead)
			}
		},
		OnProcessing: func(elapsed time.Duration) {
			processingEvents++
		},
		OnCompleted: func(job *models.Job, elapsed time.Duration) {
			completedScore, _ = job.Score()
			close(done)
		},
	})

	p.Start(context.Background(), "J1", "alice")
	waitDone(t, done)
	p.Stop()

	if queuedEvents != 2 {
		t.Errorf("expected 2 queued events, got %d", queuedEvents)
	}
	if processingEvents != 1 {
		t.Errorf("expected 1 processing event, got %d", processingEvents)
	}
	if completedScore != 92 {
		t.Errorf("expected completed score 92, got %v", completedScore)
	}
	if len(reconciled) != 1 || reconciled[0] != "J1" {
		t.Errorf("expected exactly one reconcile for J1, got %v", reconciled)
	}
	if fake.overlapped {
		t.Error("status checks overlapped; ticks must be sequential")
	}
	if p.IsActive() {
		t.Error("expected poller to be idle after completion")
	}

	enables, disables := guard.counts()
	if enables != 1 || disables != 1 {
		t.Errorf("expected guard enabled and disabled once, got enables=%d disables=%d", enables, disables)
	}
}

func TestPollerImmediateFirstCheck(t *testing.T) {
	done := make(chan struct{})
	fake := &fakeStatusClient{
		script: []scriptEntry{{job: completedJob("J1", 100)}},
	}

	p := New(fake, Config{
		// A long interval proves the first check does not wait for it.
		Interval: time.Hour,
		OnCompleted: func(job *models.Job, elapsed time.Duration) {
			close(done)
		},
	})

	p.Start(context.Background(), "J1", "alice")
	waitDone(t, done)
	p.Stop()

	if got := fake.callCount(); got != 1 {
		t.Errorf("expected exactly 1 status check, got %d", got)
	}
}

func TestPollerRestartReplacesSession(t *testing.T) {
	done := make(chan struct{})

	fake := &fakeStatusClient{
		script: []scriptEntry{
			{job: &models.Job{ID: "J1", Status: models.JobStatusProcessing}},
		},
	}

	var mu sync.Mutex
	var completions []string

	// A generous interval keeps the first session from ticking again
	// before the restart below replaces it.
	p := New(fake, Config{Interval: time.Second})
	p.cfg.OnCompleted = func(job *models.Job, elapsed time.Duration) {
		mu.Lock()
		completions = append(completions, job.ID)
		mu.Unlock()
		close(done)
	}

	p.Start(context.Background(), "J1", "alice")

	// Restart with a new job while the first session is mid-flight. The
	// first session must be torn down before the second begins.
	fake.mu.Lock()
	fake.script = []scriptEntry{{job: completedJob("J2", 75)}}
	fake.idx = 0
	fake.mu.Unlock()

	p.Start(context.Background(), "J2", "alice")
	waitDone(t, done)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(completions) != 1 || completions[0] != "J2" {
		t.Errorf("expected only J2 to complete, got %v", completions)
	}
	if fake.overlapped {
		t.Error("sessions overlapped; restart must stop the prior session first")
	}
}

func TestPollerStopIsIdempotent(t *testing.T) {
	fake := &fakeStatusClient{
		script: []scriptEntry{
			{job: &models.Job{ID: "J1", Status: models.JobStatusProcessing}},
		},
	}
	guard := &recordingGuard{}

	p := New(fake, Config{Interval: 10 * time.Millisecond, Guard: guard})

	// Stop before any start is a no-op.
	p.Stop()

	p.Start(context.Background(), "J1", "alice")
	p.Stop()
	p.Stop()

	if p.IsActive() {
		t.Error("expected poller idle after stop")
	}
	enables, disables := guard.counts()
	if enables != 1 || disables != 1 {
		t.Errorf("expected one enable and one disable, got enables=%d disables=%d", enables, disables)
	}
}

func TestPollerTimeoutSlowGrading(t *testing.T) {
	fake := &fakeStatusClient{
		script: []scriptEntry{
			{job: &models.Job{ID: "J1", Status: models.JobStatusProcessing}},
		},
	}

	done := make(chan struct{})
	var gotReason TimeoutReason
	var gotAttempts int

	p := New(fake, Config{
		Interval:    5 * time.Millisecond,
		MaxAttempts: 3,
		OnTimeout: func(reason TimeoutReason, attempts int, elapsed time.Duration) {
			gotReason = reason
			gotAttempts = attempts
			close(done)
		},
	})

	p.Start(context.Background(), "J1", "alice")
	waitDone(t, done)
	p.Stop()

	if gotReason != TimeoutSlowGrading {
		t.Errorf("expected slow-grading timeout, got %v", gotReason)
	}
	if gotAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", gotAttempts)
	}
}

func TestPollerTimeoutConnection(t *testing.T) {
	fake := &fakeStatusClient{
		script: []scriptEntry{
			{err: &client.ConnectionError{Err: context.DeadlineExceeded}},
		},
	}

	done := make(chan struct{})
	var transientEvents int
	var gotReason TimeoutReason

	p := New(fake, Config{
		Interval:    5 * time.Millisecond,
		MaxAttempts: 3,
		OnTransientError: func(err error, attempt int) {
			transientEvents++
		},
		OnTimeout: func(reason TimeoutReason, attempts int, elapsed time.Duration) {
			gotReason = reason
			close(done)
		},
	})

	p.Start(context.Background(), "J1", "alice")
	waitDone(t, done)
	p.Stop()

	if gotReason != TimeoutConnection {
		t.Errorf("expected connection timeout, got %v", gotReason)
	}
	if transientEvents != 3 {
		t.Errorf("expected 3 transient error events, got %d", transientEvents)
	}
}

func TestPollerTerminalErrorStopsImmediately(t *testing.T) {
	fake := &fakeStatusClient{
		script: []scriptEntry{{err: client.ErrJobNotFound}},
	}

	done := make(chan struct{})
	var gotErr error

	p := New(fake, Config{
		Interval: 5 * time.Millisecond,
		OnTerminalError: func(err error) {
			gotErr = err
			close(done)
		},
	})

	p.Start(context.Background(), "J1", "alice")
	waitDone(t, done)
	p.Stop()

	if gotErr != client.ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", gotErr)
	}
	if got := fake.callCount(); got != 1 {
		t.Errorf("expected polling to stop after the first terminal error, got %d checks", got)
	}
}

func TestPollerFailedJobEndsSession(t *testing.T) {
	fake := &fakeStatusClient{
		script: []scriptEntry{
			{job: &models.Job{
				ID:     "J1",
				Status: models.JobStatusFailed,
				Result: &models.JobResult{Error: "build failed", Feedback: "fix the Makefile"},
			}},
		},
	}

	done := make(chan struct{})
	var reconciled int
	var failedJob *models.Job

	p := New(fake, Config{
		Interval: 5 * time.Millisecond,
		Reconcile: func(ctx context.Context, job *models.Job) error {
			reconciled++
			return nil
		},
		OnFailed: func(job *models.Job, elapsed time.Duration) {
			failedJob = job
			close(done)
		},
	})

	p.Start(context.Background(), "J1", "alice")
	waitDone(t, done)
	p.Stop()

	if failedJob == nil || failedJob.Result.Error != "build failed" {
		t.Errorf("expected failed job with error preserved, got %+v", failedJob)
	}
	if reconciled != 0 {
		t.Errorf("failed jobs must not be reconciled, got %d calls", reconciled)
	}
}

func TestPollerUnknownStatusKeepsPolling(t *testing.T) {
	fake := &fakeStatusClient{
		script: []scriptEntry{
			{job: &models.Job{ID: "J1", Status: models.JobStatusUnknown}},
			{job: &models.Job{ID: "J1", Status: models.JobStatusUnknown}},
			{job: completedJob("J1", 85)},
		},
	}

	done := make(chan struct{})
	var unknownEvents int

	p := New(fake, Config{
		Interval: 5 * time.Millisecond,
		OnUnknownStatus: func(status models.JobStatus, elapsed time.Duration) {
			unknownEvents++
		},
		OnCompleted: func(job *models.Job, elapsed time.Duration) {
			close(done)
		},
	})

	p.Start(context.Background(), "J1", "alice")
	waitDone(t, done)
	p.Stop()

	if unknownEvents != 2 {
		t.Errorf("expected 2 unknown-status events before completion, got %d", unknownEvents)
	}
}
