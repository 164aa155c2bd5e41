// Package queue derives a user-facing "how many ahead of you" estimate
// from coarse server queue metrics. The estimate is advisory UX text only
// and never feeds back into polling or termination logic.
package queue

import (
	"fmt"

	"github.com/bytegrader/bgctl/pkg/models"
)

// Tier classifies the caller's position in the grading queue.
type Tier int

const (
	// TierManyAhead: more than one submission ahead.
	TierManyAhead Tier = iota
	// TierOneAhead: exactly one submission ahead.
	TierOneAhead
	// TierNextInLine: nothing queued ahead, but every grader is busy.
	TierNextInLine
	// TierStartingNow: a grader is free; grading starts immediately.
	TierStartingNow
)

// Position is the estimated place of the caller's job in the queue.
type Position struct {
	JobsAhead int
	Tier      Tier
}

// Estimate computes the queue position from server metrics. The caller's
// own job is counted once inside QueueLength, hence the -1.
func Estimate(metrics models.QueueMetrics) Position {
	jobsAhead := metrics.ActiveJobs + metrics.QueueLength - 1

	pos := Position{JobsAhead: jobsAhead}
	switch {
	case jobsAhead > 1:
		pos.Tier = TierManyAhead
	case jobsAhead == 1:
		pos.Tier = TierOneAhead
	case metrics.ActiveJobs >= metrics.MaxConcurrent:
		pos.Tier = TierNextInLine
	default:
		pos.Tier = TierStartingNow
	}
	return pos
}

// Message renders the position as progress text for the waiting user.
func (p Position) Message(elapsedSeconds int) string {
	switch p.Tier {
	case TierManyAhead:
		return fmt.Sprintf("%d submissions ahead of you (%ds elapsed)", p.JobsAhead, elapsedSeconds)
	case TierOneAhead:
		return fmt.Sprintf("1 submission ahead of you (%ds elapsed)", elapsedSeconds)
	case TierNextInLine:
		return fmt.Sprintf("Your submission is next. Waiting for a grader to free up... (%ds elapsed)", elapsedSeconds)
	default:
		return fmt.Sprintf("Starting grading now... (%ds elapsed)", elapsedSeconds)
	}
}
