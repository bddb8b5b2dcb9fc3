package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/Kocoro-lab/stepflow/internal/dispatch"
)

// InputRequiredError signals that a user-input step was reached with no
// value available. A session-aware caller converts this into a suspend
// rather than a hard failure.
type InputRequiredError struct {
	StepID int
	Schema map[string]interface{}
}

func (e *InputRequiredError) Error() string {
	return fmt.Sprintf("step %d requires user input", e.StepID)
}

// StepTimeoutError reports a function-call dispatch that exceeded the
// configured per-step timeout.
type StepTimeoutError struct {
	StepID  int
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %d timed out after %s", e.StepID, e.Timeout)
}

// isInputRequired reports whether the error is the collaborator's
// input-required signal rather than a real failure.
func isInputRequired(err error) bool {
	return errors.Is(err, dispatch.ErrInputRequired)
}
