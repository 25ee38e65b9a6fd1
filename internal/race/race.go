// Package race runs an operation against a deadline.
package race

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError reports that an operation lost its race against the deadline.
type TimeoutError struct {
	Label string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Label, e.After)
}

// Run executes op concurrently with a timer for d. If op finishes first, its
// result is returned and the timer stopped. If the timer fires first, op's
// context is cancelled, its eventual result is awaited and discarded, and the
// caller gets a *TimeoutError.
//
// The post-deadline await relies on op honoring its context at every
// suspension point; ops that need longer-lived cleanup must do it through
// their own finalizers, Run does not manage resources.
func Run[T any](ctx context.Context, d time.Duration, label string, op func(context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := op(opCtx)
		done <- outcome{val: val, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.val, out.err
	case <-timer.C:
	}

	cancel()
	<-done

	var zero T
	return zero, &TimeoutError{Label: label, After: d}
}
