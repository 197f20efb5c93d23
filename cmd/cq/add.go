package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	addPriority   int
	addWorkDir    string
	addFiles      []string
	addMaxRetries int
	addTokens     int
)

var addCmd = &cobra.Command{
	Use:   "add <prompt>",
	Short: "Queue a prompt for execution",
	Long: `Queue a prompt. Lower priority numbers run first; equal
priorities run oldest first.

Examples:
  cq add "refactor the parser for better error messages"
  cq add -p 1 "fix the flaky websocket test"
  cq add -f main.go -f server.go "review these for races"`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().IntVarP(&addPriority, "priority", "p", 5, "Priority (lower runs first)")
	addCmd.Flags().StringVarP(&addWorkDir, "dir", "d", "", "Working directory for the execution (default: cwd)")
	addCmd.Flags().StringArrayVarP(&addFiles, "file", "f", nil, "Context file to reference (repeatable)")
	addCmd.Flags().IntVar(&addMaxRetries, "max-retries", 0, "Retry cap for this prompt (default: from config)")
	addCmd.Flags().IntVar(&addTokens, "tokens", 0, "Estimated token usage, for planning only")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	content := strings.TrimSpace(args[0])

	workDir := addWorkDir
	if workDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		workDir = cwd
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var created struct {
		PromptID string `json:"prompt_id"`
	}
	client := newAPIClient(baseURL(cfg))
	err = client.post("/queue/prompts", map[string]any{
		"content":           content,
		"priority":          addPriority,
		"working_directory": workDir,
		"context_files":     addFiles,
		"max_retries":       addMaxRetries,
		"estimated_tokens":  addTokens,
	}, &created)
	if err != nil {
		return err
	}

	fmt.Printf("queued %s\n", created.PromptID)
	return nil
}
