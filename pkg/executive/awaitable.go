package executive

import (
	"context"
	"time"
)

// Outcome tags the result of a cancellable unit of work.
type Outcome int8

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimedOut
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimedOut:
		return "timed-out"
	case OutcomeFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// awaitResult carries a unit of work's tagged outcome. Err is set for
// OutcomeFailed; a timeout is reported via the tag, not the error.
type awaitResult[T any] struct {
	Outcome Outcome
	Value   T
	Err     error
}

// runAwaitable runs fn under a timeout and tags how it finished. A zero
// timeout means no time budget. Caller cancellation surfaces as a failure
// carrying the context error so it can be distinguished from the budget
// expiring.
func runAwaitable[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) awaitResult[T] {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	value, err := fn(runCtx)
	if err == nil {
		return awaitResult[T]{Outcome: OutcomeSuccess, Value: value}
	}
	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return awaitResult[T]{Outcome: OutcomeTimedOut, Err: err}
	}
	return awaitResult[T]{Outcome: OutcomeFailed, Err: err}
}
