package executive

import (
	"errors"
	"fmt"
)

// GenerationError marks a failed or timed-out generation attempt. It
// consumes one attempt and is retried within the attempt budget.
type GenerationError struct {
	Attempt int
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation attempt %d failed: %v", e.Attempt, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// ErrStepAborted is returned when a step exhausts its attempts. Previously
// accepted steps are preserved.
var ErrStepAborted = errors.New("step aborted after exhausting attempts")

// ErrSessionAborted is returned when a fatal condition ends the whole
// session, leaving the repository at the last committed good state.
var ErrSessionAborted = errors.New("session aborted")
