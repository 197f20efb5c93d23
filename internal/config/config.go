// Package config provides configuration management for claude-queue.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (CQ_*)
// 3. Project config (.cq/config.yaml in cwd)
// 4. Home config (~/.cq/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all claude-queue configuration.
type Config struct {
	// StorageDir is the root for all persisted state (default: ~/.claude-queue).
	StorageDir string `yaml:"storage_dir" json:"storage_dir"`

	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Executor settings
	Executor ExecutorConfig `yaml:"executor" json:"executor"`

	// Queue settings
	Queue QueueConfig `yaml:"queue" json:"queue"`

	// Server settings
	Server ServerConfig `yaml:"server" json:"server"`
}

// ExecutorConfig holds settings for the external CLI adapter.
type ExecutorConfig struct {
	// Command is the binary name or path of the external CLI.
	// Default: "claude".
	Command string `yaml:"command" json:"command"`

	// TimeoutSeconds is the subprocess wall-clock timeout.
	// Default: 3600.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`

	// OutputCaptureBytes caps captured stdout+stderr per run.
	// Default: 1 MiB.
	OutputCaptureBytes int `yaml:"output_capture_bytes" json:"output_capture_bytes"`

	// RateLimitKeywords are the case-insensitive substrings that mark a
	// rate-limited run. Overridable because the executor's wording is
	// not under our control.
	RateLimitKeywords []string `yaml:"rate_limit_keywords" json:"rate_limit_keywords"`

	// RateLimitBackoffSeconds is the fallback deferral when no reset
	// time can be parsed from the output. Default: 60.
	RateLimitBackoffSeconds int `yaml:"rate_limit_backoff_seconds" json:"rate_limit_backoff_seconds"`
}

// QueueConfig holds processor settings.
type QueueConfig struct {
	// CheckIntervalSeconds is the processor tick length. Default: 30.
	CheckIntervalSeconds int `yaml:"check_interval_seconds" json:"check_interval_seconds"`

	// MaxRetriesDefault is the per-prompt retry cap used when an
	// enqueue does not specify one. Default: 3.
	MaxRetriesDefault int `yaml:"max_retries_default" json:"max_retries_default"`

	// ShutdownGraceSeconds bounds how long shutdown waits for in-flight
	// work. Default: 5.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds" json:"shutdown_grace_seconds"`
}

// ServerConfig holds control-plane settings.
type ServerConfig struct {
	// Host to bind. Default: 127.0.0.1 (trusted-localhost control plane).
	Host string `yaml:"host" json:"host"`

	// Port to bind. Default: 8192.
	Port int `yaml:"port" json:"port"`
}

// Default config values (used in resolution and validation).
const (
	defaultExecutorCommand = "claude"
	defaultHost            = "127.0.0.1"
	defaultPort            = 8192
)

// DefaultRateLimitKeywords is the built-in rate-limit signal list.
var DefaultRateLimitKeywords = []string{
	"rate limit",
	"quota",
	"too many requests",
	"retry after",
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		StorageDir: filepath.Join(homeDir, ".claude-queue"),
		Verbose:    false,
		Executor: ExecutorConfig{
			Command:                 defaultExecutorCommand,
			TimeoutSeconds:          3600,
			OutputCaptureBytes:      1 << 20,
			RateLimitKeywords:       append([]string(nil), DefaultRateLimitKeywords...),
			RateLimitBackoffSeconds: 60,
		},
		Queue: QueueConfig{
			CheckIntervalSeconds: 30,
			MaxRetriesDefault:    3,
			ShutdownGraceSeconds: 5,
		},
		Server: ServerConfig{
			Host: defaultHost,
			Port: defaultPort,
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	homeConfig, _ := loadFromPath(homeConfigPath())
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	projectConfig, _ := loadFromPath(projectConfigPath())
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// CheckInterval returns the tick length as a duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Queue.CheckIntervalSeconds) * time.Second
}

// ExecutionTimeout returns the subprocess timeout as a duration.
func (c *Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutSeconds) * time.Second
}

// RateLimitBackoff returns the fallback backoff as a duration.
func (c *Config) RateLimitBackoff() time.Duration {
	return time.Duration(c.Executor.RateLimitBackoffSeconds) * time.Second
}

// ShutdownGrace returns the shutdown grace window as a duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Queue.ShutdownGraceSeconds) * time.Second
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cq", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("CQ_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".cq", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("CQ_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if os.Getenv("CQ_VERBOSE") == "true" || os.Getenv("CQ_VERBOSE") == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("CQ_EXECUTOR_COMMAND"); v != "" {
		cfg.Executor.Command = v
	}
	if v, ok := envInt("CQ_EXECUTION_TIMEOUT_SECONDS"); ok {
		cfg.Executor.TimeoutSeconds = v
	}
	if v, ok := envInt("CQ_OUTPUT_CAPTURE_BYTES"); ok {
		cfg.Executor.OutputCaptureBytes = v
	}
	if v := os.Getenv("CQ_RATE_LIMIT_KEYWORDS"); v != "" {
		cfg.Executor.RateLimitKeywords = splitKeywords(v)
	}
	if v, ok := envInt("CQ_RATE_LIMIT_BACKOFF_SECONDS"); ok {
		cfg.Executor.RateLimitBackoffSeconds = v
	}
	if v, ok := envInt("CQ_CHECK_INTERVAL_SECONDS"); ok {
		cfg.Queue.CheckIntervalSeconds = v
	}
	if v, ok := envInt("CQ_MAX_RETRIES_DEFAULT"); ok {
		cfg.Queue.MaxRetriesDefault = v
	}
	if v, ok := envInt("CQ_SHUTDOWN_GRACE_SECONDS"); ok {
		cfg.Queue.ShutdownGraceSeconds = v
	}
	if v := os.Getenv("CQ_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := envInt("CQ_PORT"); ok {
		cfg.Server.Port = v
	}
	return cfg
}

// envInt reads an integer environment variable, reporting whether it
// was set and parseable.
func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// splitKeywords parses a comma-separated keyword list, dropping empties.
func splitKeywords(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if kw := strings.TrimSpace(part); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeInt overwrites dst with src when src is non-zero.
func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.StorageDir, src.StorageDir)
	if src.Verbose {
		dst.Verbose = true
	}

	mergeExecutor(&dst.Executor, &src.Executor)
	mergeQueue(&dst.Queue, &src.Queue)
	mergeServer(&dst.Server, &src.Server)

	return dst
}

// mergeExecutor merges executor-specific config fields.
func mergeExecutor(dst, src *ExecutorConfig) {
	mergeStr(&dst.Command, src.Command)
	mergeInt(&dst.TimeoutSeconds, src.TimeoutSeconds)
	mergeInt(&dst.OutputCaptureBytes, src.OutputCaptureBytes)
	mergeInt(&dst.RateLimitBackoffSeconds, src.RateLimitBackoffSeconds)
	if len(src.RateLimitKeywords) > 0 {
		dst.RateLimitKeywords = append([]string(nil), src.RateLimitKeywords...)
	}
}

// mergeQueue merges queue-specific config fields.
func mergeQueue(dst, src *QueueConfig) {
	mergeInt(&dst.CheckIntervalSeconds, src.CheckIntervalSeconds)
	mergeInt(&dst.MaxRetriesDefault, src.MaxRetriesDefault)
	mergeInt(&dst.ShutdownGraceSeconds, src.ShutdownGraceSeconds)
}

// mergeServer merges server-specific config fields.
func mergeServer(dst, src *ServerConfig) {
	mergeStr(&dst.Host, src.Host)
	mergeInt(&dst.Port, src.Port)
}
