package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bytegrader/bgctl/pkg/client"
	"github.com/bytegrader/bgctl/pkg/models"
	"github.com/bytegrader/bgctl/pkg/poller"
	"github.com/bytegrader/bgctl/pkg/queue"
)

var statusFollow bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a grading job",
	Long: `Show the current status of a grading job.

With --follow the command keeps checking every 5 seconds until the job
reaches a terminal state. Following is display only; it never records
results in the gradebook (use submit for that).`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusFollow, "follow", false, "keep polling until the job finishes")
}

func runStatus(cmd *cobra.Command, args []string) error {
	bg, err := newClient()
	if err != nil {
		return err
	}
	user, err := requireUsername()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	jobID := args[0]

	if statusFollow {
		return followJob(ctx, bg, jobID, user)
	}

	job, err := bg.CheckStatus(ctx, jobID, user)
	if err != nil {
		return renderStatusError(err, jobID)
	}
	return renderJob(job)
}

// followJob polls the job to a terminal state and prints progress. No
// gradebook writes happen here.
func followJob(ctx context.Context, bg *client.Client, jobID, user string) error {
	done := make(chan submitOutcome, 1)

	p := poller.New(bg, poller.Config{
		Logger: newLogger(),
		OnQueued: func(pos queue.Position, metrics *models.QueueMetrics, elapsed time.Duration) {
			fmt.Println(pos.Message(int(elapsed.Seconds())))
		},
		OnProcessing: func(elapsed time.Duration) {
			fmt.Printf("Grading in progress... (%ds elapsed)\n", int(elapsed.Seconds()))
		},
		OnUnknownStatus: func(status models.JobStatus, elapsed time.Duration) {
			fmt.Printf("Unknown status %q reported by server (%ds elapsed)\n", status, int(elapsed.Seconds()))
		},
		OnTransientError: func(err error, attempt int) {
			fmt.Printf("Connection error while checking status (attempt %d). Retrying...\n", attempt)
		},
		OnCompleted: func(job *models.Job, elapsed time.Duration) {
			done <- submitOutcome{job: job}
		},
		OnFailed: func(job *models.Job, elapsed time.Duration) {
			done <- submitOutcome{job: job}
		},
		OnTerminalError: func(err error) {
			done <- submitOutcome{err: err}
		},
		OnTimeout: func(reason poller.TimeoutReason, attempts int, elapsed time.Duration) {
			done <- submitOutcome{err: fmt.Errorf("%s (gave up after %d checks)", reason, attempts)}
		},
	})

	p.Start(ctx, jobID, user)
	outcome := <-done
	p.Stop()

	if outcome.err != nil {
		return renderStatusError(outcome.err, jobID)
	}
	return renderJob(outcome.job)
}

func renderJob(job *models.Job) error {
	if IsJSONOutput() {
		output, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", job.ID)
	table.Append("Status", string(job.Status))
	if job.Filename != "" {
		table.Append("Filename", job.Filename)
	}
	if job.AssignmentID != "" {
		table.Append("Assignment", job.AssignmentID)
	}
	if !job.CreatedAt.IsZero() {
		table.Append("Created", job.CreatedAt.Format(time.RFC3339))
	}
	if !job.UpdatedAt.IsZero() {
		table.Append("Updated", job.UpdatedAt.Format(time.RFC3339))
	}
	if score, ok := job.Score(); ok {
		table.Append("Score", fmt.Sprintf("%.0f%%", score))
	}
	if job.Result != nil && job.Result.Error != "" {
		table.Append("Error", job.Result.Error)
	}
	table.Render()

	if job.Result != nil && job.Result.Feedback != "" {
		fmt.Printf("\nFeedback:\n%s\n", job.Result.Feedback)
	}
	return nil
}

func renderStatusError(err error, jobID string) error {
	switch {
	case errors.Is(err, client.ErrJobNotFound):
		return fmt.Errorf("job %s not found: it may have expired or the ID is wrong", jobID)
	case errors.Is(err, client.ErrAccessDenied):
		return fmt.Errorf("access denied: job %s belongs to a different user", jobID)
	default:
		return err
	}
}
