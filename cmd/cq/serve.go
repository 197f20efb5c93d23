package main

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/claudeutils/claude-queue/internal/accounts"
	"github.com/claudeutils/claude-queue/internal/executor"
	"github.com/claudeutils/claude-queue/internal/queue"
	"github.com/claudeutils/claude-queue/internal/server"
	"github.com/claudeutils/claude-queue/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the queue processor and control plane",
	Long: `Start the daemon: the queue processor loop, the HTTP control
plane, and the websocket event stream. Runs until interrupted; an
in-flight execution is cancelled and its prompt returned to the queue
on shutdown.

Examples:
  cq serve
  cq serve --storage-dir /tmp/cq-test
  CQ_CHECK_INTERVAL_SECONDS=5 cq serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fs := storage.NewFileStore(cfg.StorageDir)
	if err := fs.Init(); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	VerbosePrintf("storage: %s\n", cfg.StorageDir)

	accts := accounts.NewStore(fs)

	exec := executor.New(executor.Options{
		Command:           cfg.Executor.Command,
		Timeout:           cfg.ExecutionTimeout(),
		CaptureBytes:      cfg.Executor.OutputCaptureBytes,
		RateLimitKeywords: cfg.Executor.RateLimitKeywords,
		RateLimitBackoff:  cfg.RateLimitBackoff(),
		Gate:              accts,
		ScrubEnv:          accounts.UnsetList(),
		EnvFunc:           accountEnv(accts),
	})

	hub := server.NewHub()

	proc, err := queue.NewProcessor(queue.Options{
		Store:             fs,
		Runner:            exec,
		Broadcaster:       hub,
		TickInterval:      cfg.CheckInterval(),
		MaxRetriesDefault: cfg.Queue.MaxRetriesDefault,
		ShutdownGrace:     cfg.ShutdownGrace(),
		WorkingDirectory:  cfg.StorageDir,
	})
	if err != nil {
		return fmt.Errorf("init processor: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, proc, accts, hub)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- proc.Run(ctx) }()
	go func() {
		log.Printf("control plane listening on %s", addr)
		errCh <- srv.ListenAndServe(ctx)
	}()

	// First error wins; the shared context tears the other half down.
	err = <-errCh
	stop()
	if second := <-errCh; err == nil {
		err = second
	}
	return err
}

// accountEnv resolves the active profile's API-key bindings at each
// spawn, so a profile switch takes effect without a restart.
func accountEnv(accts *accounts.Store) func() []string {
	return func() []string {
		env := []string{"CLAUDE_CONFIG_DIR=" + accts.ActivePath()}
		active, err := accts.Active()
		if err != nil || active == "" {
			return env
		}
		bindings, err := accts.EnvBindings(active)
		if err != nil {
			log.Printf("resolve api keys for %s: %v", active, err)
			return env
		}
		for _, v := range bindings {
			env = append(env, v.Name+"="+v.Value)
		}
		return env
	}
}
