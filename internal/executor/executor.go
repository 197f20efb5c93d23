// Package executor adapts the external AI CLI: it spawns the binary,
// feeds it prompt content, captures bounded output, classifies
// rate-limit conditions, and honors cancellation by signalling the
// child process group.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/claudeutils/claude-queue/internal/types"
)

// ResumeToken is submitted in place of the original prompt content when
// retrying a prompt that was rate limited, so the executor continues
// its prior session instead of starting over.
const ResumeToken = "continue"

const (
	defaultTimeout     = time.Hour
	probeTimeout       = 10 * time.Second
	killGracePeriod    = 5 * time.Second
	defaultCaptureSize = 1 << 20
)

// SpawnGate serializes subprocess spawns with credential-set switches.
// The account store implements it: spawns hold a shared lock while
// starting the child, profile switches hold it exclusively.
type SpawnGate interface {
	BeginSpawn()
	EndSpawn()
}

// nopGate is used when no account store is wired in.
type nopGate struct{}

func (nopGate) BeginSpawn() {}
func (nopGate) EndSpawn()   {}

// Options configures an Executor.
type Options struct {
	// Command is the executor binary name or path.
	Command string

	// Timeout is the hard wall-clock limit per invocation.
	Timeout time.Duration

	// CaptureBytes caps retained stdout+stderr per run.
	CaptureBytes int

	// RateLimitKeywords is the signal list for ClassifyRateLimit.
	RateLimitKeywords []string

	// RateLimitBackoff is the fallback deferral when no reset time parses.
	RateLimitBackoff time.Duration

	// ExtraEnv holds KEY=VALUE bindings appended to the child
	// environment (API-key mode credentials).
	ExtraEnv []string

	// EnvFunc, when set, is called at each spawn and its bindings are
	// appended after ExtraEnv. Lets credentials follow account switches
	// without rebuilding the executor.
	EnvFunc func() []string

	// ScrubEnv names variables removed from the inherited environment
	// before bindings are applied, so credentials from the parent shell
	// never leak into a spawn under a different profile.
	ScrubEnv []string

	// Gate serializes spawns with credential switches. Optional.
	Gate SpawnGate
}

// Executor runs prompts against the external CLI.
type Executor struct {
	opts Options
}

// New creates an Executor, filling zero-valued options with defaults.
func New(opts Options) *Executor {
	if opts.Command == "" {
		opts.Command = "claude"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CaptureBytes <= 0 {
		opts.CaptureBytes = defaultCaptureSize
	}
	if opts.RateLimitBackoff <= 0 {
		opts.RateLimitBackoff = time.Minute
	}
	if opts.Gate == nil {
		opts.Gate = nopGate{}
	}
	return &Executor{opts: opts}
}

// TestConnection probes the executor binary with a fast version check.
// Called once at processor start; a false return aborts startup.
func (e *Executor) TestConnection(ctx context.Context) (bool, string) {
	if _, err := exec.LookPath(e.opts.Command); err != nil {
		return false, fmt.Sprintf("executor %q not found on PATH: %v", e.opts.Command, err)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, e.opts.Command, "--version").CombinedOutput()
	if err != nil {
		return false, fmt.Sprintf("executor probe failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return true, strings.TrimSpace(string(out))
}

// ExecutePrompt runs the CLI with the prompt's content (or the
// resumption token when resume is true), blocking until exit, timeout,
// or cancellation of ctx. The returned result is always non-nil; spawn
// errors, timeouts, and non-zero exits are reported as failed results
// rather than Go errors.
func (e *Executor) ExecutePrompt(ctx context.Context, p *types.Prompt, resume bool) *types.ExecutionResult {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	capture := newCaptureBuffer(e.opts.CaptureBytes)

	// The command, including its environment, is assembled while the
	// spawn gate is held so the resolved bindings always match the
	// credential files on disk at start time.
	e.opts.Gate.BeginSpawn()
	cmd := exec.Command(e.opts.Command, e.promptArgument(p, resume)) //nolint:gosec // command comes from config
	cmd.Dir = p.WorkingDirectory
	cmd.Stdout = capture
	cmd.Stderr = capture
	cmd.Env = e.buildEnv()
	// Own process group so cancellation reaches grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	err := cmd.Start()
	e.opts.Gate.EndSpawn()
	if err != nil {
		return &types.ExecutionResult{
			Success:  false,
			Error:    fmt.Sprintf("spawn %s: %v", e.opts.Command, err),
			Duration: time.Since(start),
		}
	}

	waitErr := e.waitWithCancel(runCtx, cmd)

	result := &types.ExecutionResult{
		Output:   capture.String(),
		Duration: time.Since(start),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.Error = fmt.Sprintf("execution timed out after %s", e.opts.Timeout)
		return result
	}
	if ctx.Err() != nil {
		result.Error = "execution cancelled"
		return result
	}

	if waitErr == nil {
		result.Success = true
		code := 0
		result.ExitCode = &code
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		result.ExitCode = &code
	}

	if info := ClassifyRateLimit(result.Output, e.opts.RateLimitKeywords, time.Now(), e.opts.RateLimitBackoff); info != nil {
		result.RateLimit = info
		result.Error = info.Message
		return result
	}

	result.Error = failureMessage(waitErr, result.Output)
	return result
}

// waitWithCancel waits for the child, and on context cancellation sends
// SIGINT to the process group, then SIGKILL after a grace period.
func (e *Executor) waitWithCancel(ctx context.Context, cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGINT) //nolint:errcheck // group may already be gone

	select {
	case err := <-done:
		return err
	case <-time.After(killGracePeriod):
	}

	_ = syscall.Kill(pgid, syscall.SIGKILL) //nolint:errcheck // group may already be gone
	return <-done
}

// StreamPrompt spawns the CLI and yields its stdout line by line for
// interactive observers. The channel closes when the child exits or
// ctx is cancelled.
func (e *Executor) StreamPrompt(ctx context.Context, p *types.Prompt) (<-chan string, error) {
	e.opts.Gate.BeginSpawn()
	cmd := exec.CommandContext(ctx, e.opts.Command, e.promptArgument(p, false)) //nolint:gosec // command comes from config
	cmd.Dir = p.WorkingDirectory
	cmd.Env = e.buildEnv()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.opts.Gate.EndSpawn()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	err = cmd.Start()
	e.opts.Gate.EndSpawn()
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", e.opts.Command, err)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				_ = cmd.Process.Kill() //nolint:errcheck // teardown
				_ = cmd.Wait()         //nolint:errcheck // teardown
				return
			}
		}
		_ = cmd.Wait() //nolint:errcheck // exit status is not part of the stream
	}()

	return lines, nil
}

// buildEnv assembles the child environment: inherited variables minus
// the scrub list, then the static and per-spawn bindings.
func (e *Executor) buildEnv() []string {
	env := os.Environ()
	if len(e.opts.ScrubEnv) > 0 {
		kept := env[:0]
		for _, kv := range env {
			name, _, _ := strings.Cut(kv, "=")
			scrubbed := false
			for _, s := range e.opts.ScrubEnv {
				if name == s {
					scrubbed = true
					break
				}
			}
			if !scrubbed {
				kept = append(kept, kv)
			}
		}
		env = kept
	}
	env = append(env, e.opts.ExtraEnv...)
	if e.opts.EnvFunc != nil {
		env = append(env, e.opts.EnvFunc()...)
	}
	return env
}

// promptArgument returns the single trailing positional argument handed
// to the executor: the resumption token for rate-limited retries, the
// prompt content (plus any context-file references) otherwise.
func (e *Executor) promptArgument(p *types.Prompt, resume bool) string {
	if resume {
		return ResumeToken
	}
	if len(p.ContextFiles) == 0 {
		return p.Content
	}
	var b strings.Builder
	b.WriteString(p.Content)
	b.WriteString("\n\nContext files:\n")
	for _, f := range p.ContextFiles {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	return b.String()
}

// failureMessage prefers the tail of captured output over the bare
// exit-status error, since that is where the executor prints its reason.
func failureMessage(waitErr error, output string) string {
	tail := strings.TrimSpace(output)
	const maxTail = 512
	if len(tail) > maxTail {
		tail = tail[len(tail)-maxTail:]
	}
	if tail == "" {
		return waitErr.Error()
	}
	return fmt.Sprintf("%v: %s", waitErr, tail)
}
