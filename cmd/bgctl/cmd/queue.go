package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bytegrader/bgctl/pkg/queue"
)

// queueCmd represents the queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show grading queue metrics",
	Long: `Show the grading server's queue counters and an estimate of where a
new submission would land.`,
	RunE: runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	bg, err := newClient()
	if err != nil {
		return err
	}
	user, err := requireUsername()
	if err != nil {
		return err
	}

	metrics, err := bg.CheckQueue(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("failed to fetch queue metrics: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(metrics, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("Queued Jobs", fmt.Sprintf("%d", metrics.QueueLength))
	table.Append("Active Jobs", fmt.Sprintf("%d", metrics.ActiveJobs))
	table.Append("Max Concurrent", fmt.Sprintf("%d", metrics.MaxConcurrent))
	table.Render()

	// Pretend a submission just entered the queue to show what a new
	// submitter would see.
	projected := *metrics
	projected.QueueLength++
	pos := queue.Estimate(projected)
	fmt.Printf("\nA new submission would have %d jobs ahead of it.\n", pos.JobsAhead)
	return nil
}
