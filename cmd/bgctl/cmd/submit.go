package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bytegrader/bgctl/pkg/client"
	"github.com/bytegrader/bgctl/pkg/models"
	"github.com/bytegrader/bgctl/pkg/poller"
	"github.com/bytegrader/bgctl/pkg/queue"
	"github.com/bytegrader/bgctl/pkg/reconcile"
)

var (
	submitAssignment string
	submitMaxSizeMB  int
	submitNoWait     bool
)

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit a file for grading",
	Long: `Submit a project archive to the grading server and wait for the result.

The command uploads the file, polls the grading job every 5 seconds until
it reaches a terminal state, and records the score in the configured
gradebook. Press Ctrl+C twice to abandon waiting; the job keeps running
on the server.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitAssignment, "assignment", "", "assignment ID (required)")
	submitCmd.Flags().IntVar(&submitMaxSizeMB, "max-size-mb", 0, "local file size limit in MB (default from gradebook, 10)")
	submitCmd.Flags().BoolVar(&submitNoWait, "no-wait", false, "submit and print the job ID without waiting for grading")
	submitCmd.MarkFlagRequired("assignment")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	bg, err := newClient()
	if err != nil {
		return err
	}
	user, err := requireUsername()
	if err != nil {
		return err
	}

	gb, closeGradebook := newGradebook()
	defer closeGradebook()

	ctx := cmd.Context()

	maxMB := submitMaxSizeMB
	if maxMB <= 0 {
		maxMB = gb.MaxFileSizeMB(ctx, submitAssignment)
	}

	path := args[0]
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	receipt, err := bg.Submit(ctx, client.SubmissionRequest{
		AssignmentID: submitAssignment,
		Username:     user,
		Filename:     filepath.Base(path),
		Content:      file,
		Size:         info.Size(),
		MaxBytes:     client.MaxFileBytes(maxMB),
	})
	if err != nil {
		return renderSubmitError(err, maxMB)
	}

	fmt.Printf("Submitted %s as job %s\n", filepath.Base(path), receipt.JobID)
	if submitNoWait {
		fmt.Printf("Check progress with: bgctl status %s\n", receipt.JobID)
		return nil
	}
	fmt.Println("Waiting for grading to finish (Ctrl+C twice to abandon)...")

	return waitForResult(ctx, bg, gb, receipt.JobID, user)
}

// submitOutcome is the terminal event of a polling session.
type submitOutcome struct {
	job *models.Job
	err error
}

// waitForResult drives the polling session for a freshly submitted job
// and renders its terminal state. The reconciler records completed jobs
// in the gradebook exactly once.
func waitForResult(ctx context.Context, bg *client.Client, gb reconcile.Gradebook, jobID, user string) error {
	logger := newLogger()
	reconciler := reconcile.New(gb, reconcile.WithLogger(logger))

	done := make(chan submitOutcome, 1)
	guard := &poller.SignalGuard{}

	p := poller.New(bg, poller.Config{
		Guard:  guard,
		Logger: logger,
		Reconcile: func(ctx context.Context, job *models.Job) error {
			return reconciler.Reconcile(ctx, user, submitAssignment, job)
		},
		OnQueued: func(pos queue.Position, metrics *models.QueueMetrics, elapsed time.Duration) {
			fmt.Println(pos.Message(int(elapsed.Seconds())))
		},
		OnProcessing: func(elapsed time.Duration) {
			fmt.Printf("Grading your project... (%ds elapsed)\n", int(elapsed.Seconds()))
		},
		OnUnknownStatus: func(status models.JobStatus, elapsed time.Duration) {
			fmt.Printf("Unknown status %q reported by server (%ds elapsed)\n", status, int(elapsed.Seconds()))
		},
		OnTransientError: func(err error, attempt int) {
			fmt.Printf("Connection error while checking status (attempt %d). Retrying...\n", attempt)
		},
		OnCompleted: func(job *models.Job, elapsed time.Duration) {
			fmt.Printf("Grading completed in %d seconds!\n", int(elapsed.Seconds()))
			done <- submitOutcome{job: job}
		},
		OnFailed: func(job *models.Job, elapsed time.Duration) {
			fmt.Printf("Grading failed after %d seconds\n", int(elapsed.Seconds()))
			done <- submitOutcome{job: job}
		},
		OnTerminalError: func(err error) {
			done <- submitOutcome{err: err}
		},
		OnTimeout: func(reason poller.TimeoutReason, attempts int, elapsed time.Duration) {
			done <- submitOutcome{err: fmt.Errorf("%s (gave up after %d checks over %ds); the job may still finish on the server", reason, attempts, int(elapsed.Seconds()))}
		},
	})

	guard.OnWarn = func() {
		fmt.Println("\nYour submission is still being graded. Press Ctrl+C again to stop waiting.")
	}
	guard.OnAbort = func() {
		fmt.Println("\nAbandoned waiting; the job keeps running on the server.")
		p.Stop()
		os.Exit(130)
	}

	p.Start(ctx, jobID, user)
	outcome := <-done
	p.Stop()

	if outcome.err != nil {
		return outcome.err
	}
	return renderTerminalJob(ctx, gb, outcome.job, user)
}

// renderTerminalJob prints the result of a terminal job. A failed grading
// run is a normal outcome, not a command error.
func renderTerminalJob(ctx context.Context, gb reconcile.Gradebook, job *models.Job, user string) error {
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

	if score, ok := job.Score(); ok {
		threshold := gb.PassingThreshold(ctx, submitAssignment)
		table.Append("Score", fmt.Sprintf("%.0f%%", score))
		table.Append("Passing Score", fmt.Sprintf("%.0f%%", threshold))
		if score >= threshold {
			table.Append("Result", "PASSED")
		} else {
			table.Append("Result", "NOT PASSED")
		}
	}
	if job.Result != nil && job.Result.Error != "" {
		table.Append("Error", job.Result.Error)
	}
	table.Render()

	if job.Result != nil && job.Result.Feedback != "" {
		fmt.Printf("\nFeedback:\n%s\n", job.Result.Feedback)
	}
	if job.Status == models.JobStatusFailed {
		fmt.Println("\nYou can try submitting again.")
	}
	return nil
}

// renderSubmitError turns submission failures into actionable messages.
// Duplicate submissions get the existing job id and queue context instead
// of a bare error.
func renderSubmitError(err error, maxMB int) error {
	var tooLarge *client.FileTooLargeError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("file too large: maximum size is %dMB", maxMB)
	}

	var duplicate *client.DuplicateSubmissionError
	if errors.As(err, &duplicate) {
		fmt.Println("You already have a submission being graded. Please wait for it to complete.")
		if duplicate.Info != nil {
			if duplicate.Info.ExistingJobID != "" {
				fmt.Printf("Existing job: %s (check it with: bgctl status %s)\n", duplicate.Info.ExistingJobID, duplicate.Info.ExistingJobID)
			}
			if qi := duplicate.Info.QueueInfo; qi != nil && qi.QueueLength > 0 {
				fmt.Printf("There are %d jobs in the queue.\n", qi.QueueLength)
			}
		}
		return fmt.Errorf("duplicate submission")
	}

	return fmt.Errorf("submission failed: %w", err)
}
