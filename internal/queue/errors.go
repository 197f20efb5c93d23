package queue

import (
	"errors"
	"fmt"

	"github.com/claudeutils/claude-queue/internal/types"
)

// ErrExecutorUnavailable is returned by the processor at startup when
// the connection probe fails.
var ErrExecutorUnavailable = errors.New("executor unavailable")

// TransitionError is returned when a lifecycle event is applied to a
// prompt in the wrong status.
type TransitionError struct {
	From  types.PromptStatus
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s while %s", e.Event, e.From)
}
