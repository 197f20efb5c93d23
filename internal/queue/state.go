// Package queue implements the prompt lifecycle: pure selection and
// transition rules over the queue state, and the long-running processor
// loop that drives prompts through the executor.
package queue

import (
	"time"

	"github.com/claudeutils/claude-queue/internal/types"
)

// Next returns the prompt to execute: lowest priority value among
// QUEUED prompts, ties broken by earliest creation time. Deterministic
// for any given state snapshot. Returns nil when nothing is queued.
func Next(state *types.QueueState) *types.Prompt {
	var pick *types.Prompt
	for _, p := range state.Prompts {
		if p.Status != types.StatusQueued {
			continue
		}
		if pick == nil {
			pick = p
			continue
		}
		if p.Priority < pick.Priority {
			pick = p
			continue
		}
		if p.Priority == pick.Priority && p.CreatedAt.Before(pick.CreatedAt) {
			pick = p
		}
	}
	return pick
}

// MarkExecuting transitions a QUEUED prompt to EXECUTING.
func MarkExecuting(p *types.Prompt) error {
	if p.Status != types.StatusQueued {
		return &TransitionError{From: p.Status, Event: "picked for execution"}
	}
	p.Status = types.StatusExecuting
	return nil
}

// ApplyResult applies the transition for a finished execution and
// updates the global counters. The prompt must be EXECUTING.
func ApplyResult(state *types.QueueState, p *types.Prompt, result *types.ExecutionResult, now time.Time) error {
	if p.Status != types.StatusExecuting {
		return &TransitionError{From: p.Status, Event: "execution result"}
	}

	switch {
	case result.Success:
		p.Status = types.StatusCompleted
		p.LastError = ""
		p.RateLimitResetTime = nil
		state.TotalProcessed++
		state.LastProcessed = &now

	case result.RateLimited():
		p.Status = types.StatusRateLimited
		p.RetryCount++
		p.RateLimitResetTime = result.RateLimit.ResetTime
		p.LastError = result.RateLimit.Message
		state.RateLimitedCount++

	default:
		p.Status = types.StatusFailed
		p.RetryCount++
		p.LastError = result.Error
		// A failed resumed attempt falls back to the original content on
		// the next retry.
		p.RateLimitResetTime = nil
		state.FailedCount++
	}

	return nil
}

// MarkCancelled transitions any non-terminal prompt to CANCELLED.
// Cancelling an already-CANCELLED prompt is a no-op, so repeated
// cancel requests succeed.
func MarkCancelled(p *types.Prompt) error {
	if p.Status == types.StatusCancelled {
		return nil
	}
	if p.Status.Terminal() {
		return types.ErrPromptTerminal
	}
	p.Status = types.StatusCancelled
	return nil
}

// PromoteRateLimited moves every RATE_LIMITED prompt whose reset time
// has passed back to QUEUED, returning how many were promoted.
func PromoteRateLimited(state *types.QueueState, now time.Time) int {
	promoted := 0
	for _, p := range state.Prompts {
		if p.Status != types.StatusRateLimited {
			continue
		}
		if p.RateLimitResetTime != nil && p.RateLimitResetTime.After(now) {
			continue
		}
		p.Status = types.StatusQueued
		promoted++
	}
	return promoted
}

// RequeueRetryable moves FAILED prompts that still have retries left
// back to QUEUED. The scheduler calls this on its own cadence so a
// first failure is not re-queued within the same tick.
func RequeueRetryable(state *types.QueueState) int {
	requeued := 0
	for _, p := range state.Prompts {
		if p.Status != types.StatusFailed || !p.CanRetry() {
			continue
		}
		p.Status = types.StatusQueued
		requeued++
	}
	return requeued
}

// DemoteExecuting moves any EXECUTING prompt back to QUEUED with its
// retry count unchanged. Called on shutdown so a restart is idempotent:
// EXECUTING is never persisted as the outcome of a shutdown.
func DemoteExecuting(state *types.QueueState) int {
	demoted := 0
	for _, p := range state.Prompts {
		if p.Status != types.StatusExecuting {
			continue
		}
		p.Status = types.StatusQueued
		demoted++
	}
	return demoted
}
