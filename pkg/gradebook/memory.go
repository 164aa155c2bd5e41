package gradebook

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytegrader/bgctl/pkg/models"
	"github.com/bytegrader/bgctl/pkg/reconcile"
)

// MemoryGradebook is an in-process system of record. It is the default
// for one-shot CLI runs with no store configured, and doubles as a test
// double.
type MemoryGradebook struct {
	mu       sync.Mutex
	results  map[string][]models.Attempt
	latest   map[string]models.Attempt
	settings map[string]AssignmentSettings
}

// AssignmentSettings are per-assignment overrides of the grading policy.
type AssignmentSettings struct {
	PassingThreshold float64
	MaxFileSizeMB    int
}

// NewMemory creates an empty in-memory gradebook.
func NewMemory() *MemoryGradebook {
	return &MemoryGradebook{
		results:  make(map[string][]models.Attempt),
		latest:   make(map[string]models.Attempt),
		settings: make(map[string]AssignmentSettings),
	}
}

// Configure sets per-assignment grading policy.
func (g *MemoryGradebook) Configure(assignmentID string, settings AssignmentSettings) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings[assignmentID] = settings
}

func key(username, assignmentID string) string {
	return fmt.Sprintf("%s:%s", username, assignmentID)
}

// SubmitResult appends a graded attempt to the user's history.
func (g *MemoryGradebook) SubmitResult(ctx context.Context, username, assignmentID string, score float64, passed bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := key(username, assignmentID)
	g.results[k] = append(g.results[k], models.Attempt{
		Score:        score,
		Passed:       passed,
		AssignmentID: assignmentID,
	})
	return nil
}

// StoreLatestAttempt overwrites the stored attempt.
func (g *MemoryGradebook) StoreLatestAttempt(ctx context.Context, username, assignmentID string, attempt models.Attempt) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latest[key(username, assignmentID)] = attempt
	return nil
}

// LatestAttempt returns the stored attempt, or nil when none exists.
func (g *MemoryGradebook) LatestAttempt(ctx context.Context, username, assignmentID string) (*models.Attempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	attempt, ok := g.latest[key(username, assignmentID)]
	if !ok {
		return nil, nil
	}
	return &attempt, nil
}

// PassingThreshold returns the configured threshold or the default.
func (g *MemoryGradebook) PassingThreshold(ctx context.Context, assignmentID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.settings[assignmentID]; ok && s.PassingThreshold > 0 {
		return s.PassingThreshold
	}
	return reconcile.DefaultPassingThreshold
}

// MaxFileSizeMB returns the configured limit or the default.
func (g *MemoryGradebook) MaxFileSizeMB(ctx context.Context, assignmentID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.settings[assignmentID]; ok && s.MaxFileSizeMB > 0 {
		return s.MaxFileSizeMB
	}
	return reconcile.DefaultMaxFileSizeMB
}

// Results returns the recorded result history for a user and assignment.
func (g *MemoryGradebook) Results(username, assignmentID string) []models.Attempt {
	g.mu.Lock()
	defer g.mu.Unlock()
	history := g.results[key(username, assignmentID)]
	out := make([]models.Attempt, len(history))
	copy(out, history)
	return out
}
