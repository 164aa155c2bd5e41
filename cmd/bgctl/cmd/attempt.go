package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var attemptAssignment string

// attemptCmd represents the attempt command
var attemptCmd = &cobra.Command{
	Use:   "attempt",
	Short: "Show the latest recorded attempt for an assignment",
	Long: `Show the most recent grading attempt recorded in the gradebook for the
configured user and the given assignment. Only the latest attempt is
kept; earlier scores survive in the result history, not here.`,
	RunE: runAttempt,
}

func init() {
	rootCmd.AddCommand(attemptCmd)

	attemptCmd.Flags().StringVar(&attemptAssignment, "assignment", "", "assignment ID (required)")
	attemptCmd.MarkFlagRequired("assignment")
}

func runAttempt(cmd *cobra.Command, args []string) error {
	user, err := requireUsername()
	if err != nil {
		return err
	}

	gb, closeGradebook := newGradebook()
	defer closeGradebook()

	attempt, err := gb.LatestAttempt(cmd.Context(), user, attemptAssignment)
	if err != nil {
		return fmt.Errorf("failed to read gradebook: %w", err)
	}
	if attempt == nil {
		fmt.Printf("No recorded attempt for %s on assignment %s\n", user, attemptAssignment)
		return nil
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(attempt, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Assignment", attempt.AssignmentID)
	table.Append("Job ID", attempt.JobID)
	table.Append("Score", fmt.Sprintf("%.0f%%", attempt.Score))
	if attempt.Passed {
		table.Append("Result", "PASSED")
	} else {
		table.Append("Result", "NOT PASSED")
	}
	if !attempt.Timestamp.IsZero() {
		table.Append("Recorded", attempt.Timestamp.Format(time.RFC3339))
	}
	table.Render()

	if attempt.Feedback != "" {
		fmt.Printf("\nFeedback:\n%s\n", attempt.Feedback)
	}
	return nil
}
