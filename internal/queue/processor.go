package queue

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claudeutils/claude-queue/internal/storage"
	"github.com/claudeutils/claude-queue/internal/types"
)

// Runner is the executor surface the processor depends on. Satisfied by
// *executor.Executor; tests substitute fakes.
type Runner interface {
	TestConnection(ctx context.Context) (bool, string)
	ExecutePrompt(ctx context.Context, p *types.Prompt, resume bool) *types.ExecutionResult
}

// Broadcaster receives state-change events. Sends must never block the
// processor; the hub drops slow subscribers instead.
type Broadcaster interface {
	Publish(ev types.Event)
}

// nopBroadcaster is used when no push channel is wired in.
type nopBroadcaster struct{}

func (nopBroadcaster) Publish(types.Event) {}

// persistRetries is how many times a failed save is retried before the
// processor gives up and exits for an external supervisor to restart.
const persistRetries = 3

// Options configures a Processor.
type Options struct {
	Store             storage.Store
	Runner            Runner
	Broadcaster       Broadcaster
	TickInterval      time.Duration
	MaxRetriesDefault int
	ShutdownGrace     time.Duration
	WorkingDirectory  string
}

// Processor owns the queue state for its lifetime and runs the
// supervising loop: pick, execute, resolve, persist. All external
// mutations (enqueue, cancel) funnel through its methods under one
// exclusive lock; the lock is not held while the executor runs.
type Processor struct {
	store         storage.Store
	runner        Runner
	broadcaster   Broadcaster
	tick          time.Duration
	maxRetries    int
	shutdownGrace time.Duration
	workingDir    string

	mu    sync.Mutex
	state *types.QueueState

	// executingID and cancelExec identify the in-flight iteration so an
	// external cancel can interrupt exactly that execution.
	executingID   string
	cancelExec    context.CancelFunc
	pendingCancel bool
}

// NewProcessor creates a processor. Run must be called before the queue
// makes progress; Enqueue and the query methods work immediately.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("processor requires a store")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("processor requires a runner")
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = nopBroadcaster{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.MaxRetriesDefault <= 0 {
		opts.MaxRetriesDefault = 3
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}

	state, err := opts.Store.LoadQueueState()
	if err != nil {
		return nil, fmt.Errorf("load queue state: %w", err)
	}
	// A crash may have left a prompt EXECUTING on disk; recover it with
	// its retry count unchanged.
	DemoteExecuting(state)

	return &Processor{
		store:         opts.Store,
		runner:        opts.Runner,
		broadcaster:   opts.Broadcaster,
		tick:          opts.TickInterval,
		maxRetries:    opts.MaxRetriesDefault,
		shutdownGrace: opts.ShutdownGrace,
		workingDir:    opts.WorkingDirectory,
		state:         state,
	}, nil
}

// Run executes the processor loop until ctx is cancelled, then performs
// the shutdown sequence: stop picking work, cancel any in-flight
// execution, demote it to QUEUED, persist once.
func (p *Processor) Run(ctx context.Context) error {
	ok, msg := p.runner.TestConnection(ctx)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutorUnavailable, msg)
	}
	log.Printf("processor started: executor ok (%s), tick %s", msg, p.tick)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.shutdown()
		default:
		}

		if err := p.iterate(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return p.shutdown()
		case <-ticker.C:
		}
	}
}

// iterate runs one tick of the loop. A non-nil error means persistence
// is gone and the loop must stop.
func (p *Processor) iterate(ctx context.Context) error {
	p.mu.Lock()

	p.heartbeat()
	PromoteRateLimited(p.state, time.Now())
	RequeueRetryable(p.state)

	pick := Next(p.state)
	if pick == nil {
		p.mu.Unlock()
		p.broadcaster.Publish(types.NewEvent(types.EventIdleTick, "", ""))
		return nil
	}

	resume := pick.ResumePending()
	if err := MarkExecuting(pick); err != nil {
		p.mu.Unlock()
		log.Printf("skip prompt %s: %v", pick.ID, err)
		return nil
	}

	execCtx, cancel := context.WithCancel(ctx)
	p.executingID = pick.ID
	p.cancelExec = cancel
	p.pendingCancel = false

	if err := p.persistLocked(); err != nil {
		p.executingID = ""
		p.cancelExec = nil
		p.mu.Unlock()
		cancel()
		return err
	}
	p.mu.Unlock()
	cancelFn := cancel
	defer cancelFn()

	p.broadcaster.Publish(types.NewEvent(types.EventExecutionStarted, pick.ID, types.StatusExecuting))
	p.broadcaster.Publish(types.NewEvent(types.EventStatusUpdate, pick.ID, types.StatusExecuting))

	// The state lock is not held during execution so the control plane
	// stays responsive.
	result := p.runner.ExecutePrompt(execCtx, pick, resume)

	p.mu.Lock()
	cancelled := p.pendingCancel
	shuttingDown := ctx.Err() != nil
	p.executingID = ""
	p.cancelExec = nil
	p.pendingCancel = false

	now := time.Now()
	pick.AppendLog(now, splitLogLines(result.Output))

	switch {
	case shuttingDown:
		// Shutdown demotion happens in shutdown(); leave EXECUTING here.
	case cancelled:
		if err := MarkCancelled(pick); err != nil {
			log.Printf("cancel prompt %s: %v", pick.ID, err)
		}
	default:
		if err := ApplyResult(p.state, pick, result, now); err != nil {
			log.Printf("apply result for prompt %s: %v", pick.ID, err)
		}
	}

	status := pick.Status
	persistErr := p.persistLocked()
	p.mu.Unlock()

	p.broadcaster.Publish(types.NewEvent(types.EventExecutionCompleted, pick.ID, status))
	p.broadcaster.Publish(types.NewEvent(types.EventStatusUpdate, pick.ID, status))
	return persistErr
}

// heartbeat reloads the persisted state and merges counters by
// per-field maximum, so an external edit of the state file can never
// regress the counters. In-memory prompts stay authoritative.
func (p *Processor) heartbeat() {
	disk, err := p.store.LoadQueueState()
	if err != nil {
		log.Printf("heartbeat reload failed: %v", err)
		return
	}
	p.state.MergeCounters(disk)
}

// shutdown demotes any EXECUTING prompt, persists once, and returns.
func (p *Processor) shutdown() error {
	done := make(chan struct{})
	var persistErr error
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.cancelExec != nil {
			p.cancelExec()
		}
		DemoteExecuting(p.state)
		persistErr = p.persistLocked()
		close(done)
	}()

	select {
	case <-done:
		if persistErr != nil {
			return persistErr
		}
		log.Printf("processor stopped")
		return nil
	case <-time.After(p.shutdownGrace):
		return fmt.Errorf("shutdown exceeded grace window %s", p.shutdownGrace)
	}
}

// persistLocked saves the state, retrying transient failures with a
// short backoff. Exhausting the retries is fatal to the loop: callers
// propagate the error so the process exits non-zero for an external
// supervisor to restart. Caller holds mu.
func (p *Processor) persistLocked() error {
	var err error
	for attempt := 0; attempt < persistRetries; attempt++ {
		if err = p.store.SaveQueueState(p.state); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("persist queue state after %d attempts: %w", persistRetries, err)
}

// EnqueueRequest carries the inputs for a new prompt.
type EnqueueRequest struct {
	Content          string
	Priority         int
	WorkingDirectory string
	ContextFiles     []string
	MaxRetries       int
	EstimatedTokens  int
}

// Enqueue creates a prompt, persists, and broadcasts. Returns the new
// prompt ID.
func (p *Processor) Enqueue(req EnqueueRequest) (string, error) {
	if strings.TrimSpace(req.Content) == "" {
		return "", types.ErrEmptyContent
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = p.maxRetries
	}
	if req.WorkingDirectory == "" {
		req.WorkingDirectory = p.workingDir
	}

	prompt := &types.Prompt{
		ID:               uuid.NewString(),
		Content:          req.Content,
		Priority:         req.Priority,
		WorkingDirectory: req.WorkingDirectory,
		ContextFiles:     req.ContextFiles,
		CreatedAt:        time.Now().UTC(),
		MaxRetries:       req.MaxRetries,
		Status:           types.StatusQueued,
		EstimatedTokens:  req.EstimatedTokens,
	}

	p.mu.Lock()
	p.state.Prompts = append(p.state.Prompts, prompt)
	if err := p.persistOrRollback(prompt.ID); err != nil {
		p.mu.Unlock()
		return "", err
	}
	p.mu.Unlock()

	p.broadcaster.Publish(types.NewEvent(types.EventStatusUpdate, prompt.ID, types.StatusQueued))
	return prompt.ID, nil
}

// persistOrRollback persists after an enqueue with the same bounded
// retries as the loop, removing the prompt again when persistence
// fails so callers never see a phantom ID. Caller holds mu.
func (p *Processor) persistOrRollback(id string) error {
	if err := p.persistLocked(); err != nil {
		p.state.Remove(id)
		return fmt.Errorf("persist enqueue: %w", err)
	}
	return nil
}

// Cancel transitions a prompt to CANCELLED. A prompt that is currently
// executing has its iteration context cancelled; the loop applies the
// CANCELLED transition when the executor returns.
func (p *Processor) Cancel(id string) error {
	p.mu.Lock()

	prompt := p.state.Find(id)
	if prompt == nil {
		p.mu.Unlock()
		return types.ErrPromptNotFound
	}

	if prompt.Status == types.StatusExecuting && p.executingID == id {
		p.pendingCancel = true
		cancel := p.cancelExec
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	if err := MarkCancelled(prompt); err != nil {
		p.mu.Unlock()
		return err
	}
	if err := p.persistLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	p.broadcaster.Publish(types.NewEvent(types.EventStatusUpdate, id, types.StatusCancelled))
	return nil
}

// ListPrompts returns a snapshot of prompts, optionally filtered by
// status, ordered by priority then creation time.
func (p *Processor) ListPrompts(filter types.PromptStatus) []types.Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.Prompt, 0, len(p.state.Prompts))
	for _, prompt := range p.state.Prompts {
		if filter != "" && prompt.Status != filter {
			continue
		}
		out = append(out, *prompt)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetPrompt returns a copy of one prompt by ID.
func (p *Processor) GetPrompt(id string) (types.Prompt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prompt := p.state.Find(id)
	if prompt == nil {
		return types.Prompt{}, types.ErrPromptNotFound
	}
	return *prompt, nil
}

// Stats is the counters document served by the control plane.
type Stats struct {
	TotalPrompts     int                        `json:"total_prompts"`
	TotalProcessed   int                        `json:"total_processed"`
	FailedCount      int                        `json:"failed_count"`
	RateLimitedCount int                        `json:"rate_limited_count"`
	StatusCounts     map[types.PromptStatus]int `json:"status_counts"`
	LastProcessed    *time.Time                 `json:"last_processed,omitempty"`
	WorkingDirectory string                     `json:"working_directory"`
}

// GetStats returns the current counters and per-status breakdown.
func (p *Processor) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		TotalPrompts:     len(p.state.Prompts),
		TotalProcessed:   p.state.TotalProcessed,
		FailedCount:      p.state.FailedCount,
		RateLimitedCount: p.state.RateLimitedCount,
		StatusCounts:     p.state.StatusCounts(),
		LastProcessed:    p.state.LastProcessed,
		WorkingDirectory: p.workingDir,
	}
}

// splitLogLines breaks captured output into trimmed non-empty lines.
func splitLogLines(output string) []string {
	if output == "" {
		return nil
	}
	raw := strings.Split(output, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if trimmed := strings.TrimRight(line, "\r"); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
