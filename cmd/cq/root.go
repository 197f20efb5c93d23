package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/claudeutils/claude-queue/internal/config"
)

var (
	// Global flags
	verbose    bool
	output     string
	cfgFile    string
	storageDir string
	serverURL  string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cq",
	Short: "Persistent prompt queue for the Claude CLI",
	Long: `cq queues prompts for the Claude CLI and executes them one at a
time, surviving restarts, rate limits, and crashes.

Daemon:
  serve        Run the queue processor and control plane

Queue Commands:
  add          Queue a prompt for execution
  list         List queued prompts
  remove       Cancel a prompt
  status       Show queue counters
  watch        Stream queue events live

Account Commands:
  account      Manage named credential profiles

State lives under ~/.claude-queue by default; every mutation is
persisted before it is acknowledged.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .cq/config.yaml, ~/.cq/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", "", "State directory (default: ~/.claude-queue)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Control plane base URL (default: from config)")
}

// GetOutput returns the output format for use by subcommands.
func GetOutput() string {
	return output
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("CQ_CONFIG", path)
}

// loadConfig resolves configuration with global flags layered on top.
func loadConfig() (*config.Config, error) {
	overrides := &config.Config{
		StorageDir: storageDir,
		Verbose:    verbose,
	}
	return config.Load(overrides)
}

// baseURL returns the control plane address queue commands talk to.
func baseURL(cfg *config.Config) string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
}
