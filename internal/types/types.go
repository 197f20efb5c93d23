// Package types defines the data model shared by the queue, executor,
// account store, and control plane: prompts, statuses, execution results,
// and the persisted queue state.
package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// PromptStatus enumerates the lifecycle states of a queued prompt.
type PromptStatus string

const (
	// StatusQueued means the prompt is waiting to be picked.
	StatusQueued PromptStatus = "QUEUED"

	// StatusExecuting means the prompt is currently running against the
	// executor. At most one prompt holds this status per process.
	StatusExecuting PromptStatus = "EXECUTING"

	// StatusCompleted means the executor finished successfully. Terminal.
	StatusCompleted PromptStatus = "COMPLETED"

	// StatusFailed means the last execution failed. Terminal once
	// RetryCount has reached MaxRetries, otherwise re-queueable.
	StatusFailed PromptStatus = "FAILED"

	// StatusCancelled means the prompt was cancelled by a client. Terminal.
	StatusCancelled PromptStatus = "CANCELLED"

	// StatusRateLimited means the executor reported a rate limit. The
	// prompt is promoted back to QUEUED once ResetTime has passed.
	StatusRateLimited PromptStatus = "RATE_LIMITED"
)

// Valid reports whether s is one of the known status values.
func (s PromptStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusExecuting, StatusCompleted, StatusFailed, StatusCancelled, StatusRateLimited:
		return true
	}
	return false
}

// Terminal reports whether a prompt in this status can never run again.
// FAILED is conditionally terminal and is handled by Prompt.CanRetry.
func (s PromptStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// DefaultLogLines is the number of execution log lines retained per prompt.
const DefaultLogLines = 200

// LogLine is a single captured output line with its capture time.
type LogLine struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Prompt is a unit of work submitted by a client.
type Prompt struct {
	// ID is an opaque stable identifier.
	ID string `json:"id"`

	// Content is the text handed to the executor. It is never rewritten:
	// rate-limit resumption substitutes the literal "continue" token at
	// invocation time without touching this field.
	Content string `json:"content"`

	// Priority orders selection; lower runs sooner.
	Priority int `json:"priority"`

	// WorkingDirectory is the CWD for the executor invocation.
	WorkingDirectory string `json:"working_directory"`

	// ContextFiles are paths appended to the prompt for executor context.
	ContextFiles []string `json:"context_files,omitempty"`

	// CreatedAt is the enqueue time; it breaks priority ties.
	CreatedAt time.Time `json:"created_at"`

	// RetryCount counts attempts that ended in failure or rate limiting.
	RetryCount int `json:"retry_count"`

	// MaxRetries caps RetryCount.
	MaxRetries int `json:"max_retries"`

	// Status is the current lifecycle state.
	Status PromptStatus `json:"status"`

	// ExecutionLog holds the last DefaultLogLines lines of output.
	ExecutionLog []LogLine `json:"execution_log,omitempty"`

	// RateLimitResetTime is set when Status is RATE_LIMITED.
	RateLimitResetTime *time.Time `json:"rate_limit_reset_time,omitempty"`

	// LastError is the error text of the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// EstimatedTokens is advisory only; the core never interprets it.
	EstimatedTokens int `json:"estimated_tokens,omitempty"`
}

// CanRetry reports whether the prompt may be scheduled again after a
// failure or rate limit.
func (p *Prompt) CanRetry() bool {
	if p.Status != StatusFailed && p.Status != StatusRateLimited {
		return false
	}
	return p.RetryCount < p.MaxRetries
}

// ResumePending reports whether the next execution should submit the
// resumption token instead of Content: the prompt was rate limited and
// has retries left.
func (p *Prompt) ResumePending() bool {
	return p.RateLimitResetTime != nil && p.RetryCount > 0 && p.Status == StatusQueued
}

// AppendLog appends lines to the execution log, trimming to DefaultLogLines.
func (p *Prompt) AppendLog(now time.Time, lines []string) {
	for _, line := range lines {
		p.ExecutionLog = append(p.ExecutionLog, LogLine{Time: now, Text: line})
	}
	if excess := len(p.ExecutionLog) - DefaultLogLines; excess > 0 {
		p.ExecutionLog = p.ExecutionLog[excess:]
	}
}

// QueueState is the full persisted state of the queue.
type QueueState struct {
	Prompts []*Prompt `json:"prompts"`

	// Global counters. Monotonic within a process lifetime; reloads merge
	// by per-counter maximum so they never regress.
	TotalProcessed   int `json:"total_processed"`
	FailedCount      int `json:"failed_count"`
	RateLimitedCount int `json:"rate_limited_count"`

	LastProcessed *time.Time `json:"last_processed,omitempty"`
}

// NewQueueState returns an empty state.
func NewQueueState() *QueueState {
	return &QueueState{}
}

// Find returns the prompt with the given ID, or nil.
func (s *QueueState) Find(id string) *Prompt {
	for _, p := range s.Prompts {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Remove deletes the prompt with the given ID, reporting whether it existed.
func (s *QueueState) Remove(id string) bool {
	for i, p := range s.Prompts {
		if p.ID == id {
			s.Prompts = append(s.Prompts[:i], s.Prompts[i+1:]...)
			return true
		}
	}
	return false
}

// StatusCounts returns the number of prompts per status.
func (s *QueueState) StatusCounts() map[PromptStatus]int {
	counts := make(map[PromptStatus]int)
	for _, p := range s.Prompts {
		counts[p.Status]++
	}
	return counts
}

// MergeCounters folds counters from a reloaded on-disk state into s,
// taking the per-field maximum so counters never move backwards.
func (s *QueueState) MergeCounters(disk *QueueState) {
	if disk == nil {
		return
	}
	s.TotalProcessed = max(s.TotalProcessed, disk.TotalProcessed)
	s.FailedCount = max(s.FailedCount, disk.FailedCount)
	s.RateLimitedCount = max(s.RateLimitedCount, disk.RateLimitedCount)
	if disk.LastProcessed != nil {
		if s.LastProcessed == nil || disk.LastProcessed.After(*s.LastProcessed) {
			s.LastProcessed = disk.LastProcessed
		}
	}
}

// DecodeQueueState parses a serialized queue state, refusing unknown
// fields so schema drift is caught at load time rather than silently
// dropped.
func DecodeQueueState(data []byte) (*QueueState, error) {
	var state QueueState
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&state); err != nil {
		return nil, err
	}
	for _, p := range state.Prompts {
		if !p.Status.Valid() {
			return nil, &UnknownStatusError{ID: p.ID, Status: string(p.Status)}
		}
	}
	return &state, nil
}

// RateLimitInfo describes a rate-limit condition attached to an
// execution result.
type RateLimitInfo struct {
	Limited   bool       `json:"limited"`
	ResetTime *time.Time `json:"reset_time,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// ExecutionResult is the classified outcome of one executor invocation.
type ExecutionResult struct {
	Success   bool           `json:"success"`
	Output    string         `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
	RateLimit *RateLimitInfo `json:"rate_limit,omitempty"`
	ExitCode  *int           `json:"exit_code,omitempty"`
}

// RateLimited reports whether the result carries a rate-limit signal.
func (r *ExecutionResult) RateLimited() bool {
	return r.RateLimit != nil && r.RateLimit.Limited
}

// AccountMeta is the per-profile metadata stored in the accounts index.
type AccountMeta struct {
	Created          time.Time `json:"created"`
	LastUsed         time.Time `json:"last_used"`
	SubscriptionType string    `json:"type,omitempty"`
	Email            string    `json:"email,omitempty"`
}

// AccountsIndex is the persisted account registry.
type AccountsIndex struct {
	Accounts    map[string]AccountMeta `json:"accounts"`
	Active      string                 `json:"active,omitempty"`
	LastUpdated time.Time              `json:"last_updated"`
}

// NewAccountsIndex returns an empty index.
func NewAccountsIndex() *AccountsIndex {
	return &AccountsIndex{Accounts: make(map[string]AccountMeta)}
}
