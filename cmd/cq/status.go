package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/claudeutils/claude-queue/internal/queue"
	"github.com/claudeutils/claude-queue/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counters",
	Long: `Display queue counters and the per-status breakdown.

Examples:
  cq status
  cq status -o json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var stats queue.Stats
	if err := newAPIClient(baseURL(cfg)).get("/queue/status", &stats); err != nil {
		return err
	}

	if GetOutput() == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Printf("prompts:       %d\n", stats.TotalPrompts)
	fmt.Printf("processed:     %d\n", stats.TotalProcessed)
	fmt.Printf("failed:        %d\n", stats.FailedCount)
	fmt.Printf("rate limited:  %d\n", stats.RateLimitedCount)
	if stats.LastProcessed != nil {
		fmt.Printf("last success:  %s\n", stats.LastProcessed.Local().Format("2006-01-02 15:04:05"))
	}

	for _, st := range []types.PromptStatus{
		types.StatusQueued, types.StatusExecuting, types.StatusRateLimited,
		types.StatusCompleted, types.StatusFailed, types.StatusCancelled,
	} {
		if n := stats.StatusCounts[st]; n > 0 {
			fmt.Printf("  %-13s%d\n", st, n)
		}
	}
	return nil
}
