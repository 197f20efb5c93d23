package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the queue data model. Using sentinels allows
// callers to match with errors.Is for reliable error handling.
var (
	// ErrPromptNotFound is returned when a prompt ID is unknown.
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrPromptTerminal is returned when a transition is attempted on a
	// prompt in a terminal status.
	ErrPromptTerminal = errors.New("prompt is in a terminal status")

	// ErrEmptyContent is returned when an enqueue carries no content.
	ErrEmptyContent = errors.New("prompt content must not be empty")
)

// UnknownStatusError is returned when a persisted prompt carries a
// status value not in the enumeration.
type UnknownStatusError struct {
	ID     string
	Status string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("prompt %s has unknown status %q", e.ID, e.Status)
}
