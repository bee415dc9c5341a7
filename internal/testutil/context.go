// Package testutil provides shared helpers for the gateway test suites.
package testutil

import (
	"context"
	"time"
)

// CancelResult reports how a function behaved under cancellation.
type CancelResult struct {
	// Err is whatever the function returned.
	Err error
	// Completed is true if the function returned before the wait expired.
	Completed bool
	// Duration is how long the function ran.
	Duration time.Duration
}

// RunWithCancel starts fn with a cancellable context, cancels after
// cancelAfter, and waits up to timeout for fn to return. Used to verify
// that long-running loops honor their context.
func RunWithCancel(fn func(context.Context) error, cancelAfter, timeout time.Duration) CancelResult {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() { errCh <- fn(ctx) }()

	time.Sleep(cancelAfter)
	cancel()

	select {
	case err := <-errCh:
		return CancelResult{Err: err, Completed: true, Duration: time.Since(start)}
	case <-time.After(timeout):
		return CancelResult{Completed: false, Duration: time.Since(start)}
	}
}
