package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bytegrader/bgctl/pkg/version"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check connectivity and compatibility with the grading server",
	Long: `Check that the configured server is reachable, the API key works, and
the server version falls inside the range this client supports.

An out-of-range server version is reported as a warning; it never blocks
submissions.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	bg, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	fmt.Printf("Checking %s ...\n\n", bg.BaseURL())

	serverConfig, cfgErr := bg.ServerConfig(ctx)
	info, verErr := bg.ServerVersion(ctx)

	if cfgErr != nil && verErr != nil {
		return fmt.Errorf("server unreachable or API key rejected: %v", cfgErr)
	}

	if IsJSONOutput() {
		report := map[string]interface{}{
			"server": bg.BaseURL(),
			"config": serverConfig,
		}
		if info != nil {
			report["version"] = info
			report["compatibility"] = version.Check(info.Version, version.DefaultPolicy())
		}
		output, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if cfgErr != nil {
		fmt.Printf("Warning: could not fetch server config: %v\n", cfgErr)
	} else {
		renderServerConfig(serverConfig)
	}

	if verErr != nil {
		fmt.Printf("Warning: could not fetch server version: %v\n", verErr)
		return nil
	}

	fmt.Printf("\nServer version: %s", info.Version)
	if info.GitCommit != "" {
		fmt.Printf(" (commit %s)", info.GitCommit)
	}
	fmt.Println()
	fmt.Printf("Client version: %s\n", version.ClientVersion)

	verdict := version.Check(info.Version, version.DefaultPolicy())
	if verdict.Compatible {
		fmt.Println(verdict.Message)
	} else {
		fmt.Printf("Warning: %s\n", verdict.Message)
		fmt.Println("Submissions will still be attempted.")
	}
	return nil
}

func renderServerConfig(config map[string]interface{}) {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Setting", "Value")
	for _, k := range keys {
		table.Append(k, fmt.Sprintf("%v", config[k]))
	}
	table.Render()
}
