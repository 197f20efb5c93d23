package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudeutils/claude-queue/internal/types"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued prompts",
	Long: `List prompts in execution order: priority ascending, then
oldest first.

Examples:
  cq list
  cq list --status QUEUED
  cq list -o json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (QUEUED, EXECUTING, COMPLETED, FAILED, CANCELLED, RATE_LIMITED)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := "/queue/prompts"
	if listStatus != "" {
		path += "?status=" + url.QueryEscape(strings.ToUpper(listStatus))
	}

	var prompts []types.Prompt
	if err := newAPIClient(baseURL(cfg)).get(path, &prompts); err != nil {
		return err
	}

	if GetOutput() == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(prompts)
	}

	if len(prompts) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRI\tSTATUS\tRETRIES\tAGE\tPROMPT")
	for _, p := range prompts {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d/%d\t%s\t%s\n",
			shortID(p.ID), p.Priority, p.Status, p.RetryCount, p.MaxRetries,
			formatAge(time.Since(p.CreatedAt)), truncate(p.Content, 60))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}
