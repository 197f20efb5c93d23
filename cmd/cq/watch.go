package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/claudeutils/claude-queue/internal/types"
)

var watchIdle bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream queue events live",
	Long: `Subscribe to the daemon's event stream and print events as
they happen. Runs until interrupted.

Examples:
  cq watch
  cq watch --idle`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchIdle, "idle", false, "Also print idle heartbeat ticks")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	wsURL := "ws" + strings.TrimPrefix(baseURL(cfg), "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to %s (is the daemon running?): %w", wsURL, err)
	}
	if resp != nil {
		_ = resp.Body.Close() //nolint:errcheck // handshake response unused
	}
	defer func() {
		_ = conn.Close() //nolint:errcheck // teardown
	}()

	VerbosePrintf("connected to %s\n", wsURL)

	// Close the connection on interrupt so ReadJSON unblocks.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		_ = conn.Close() //nolint:errcheck // interrupt teardown
	}()

	for {
		var ev types.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return nil
		}
		if ev.Type == types.EventIdleTick && !watchIdle {
			continue
		}
		printEvent(ev)
	}
}

func printEvent(ev types.Event) {
	ts := ev.Timestamp.Local().Format("15:04:05")
	switch ev.Type {
	case types.EventIdleTick:
		fmt.Printf("%s idle\n", ts)
	case types.EventExecutionStarted:
		fmt.Printf("%s started    %s\n", ts, shortID(ev.PromptID))
	case types.EventExecutionCompleted:
		fmt.Printf("%s finished   %s -> %s\n", ts, shortID(ev.PromptID), ev.Status)
	default:
		fmt.Printf("%s %s %s %s\n", ts, ev.Type, shortID(ev.PromptID), ev.Status)
	}
}
