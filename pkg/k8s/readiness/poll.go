// Package readiness polls Kubernetes resources until they report ready.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeoutExceeded is returned when a readiness deadline is exceeded.
var ErrTimeoutExceeded = errors.New("timeout exceeded")

// pollInterval is the pause between readiness checks.
const pollInterval = 2 * time.Second

// PollForReadiness repeatedly invokes check until it reports ready, fails, or
// the deadline expires. The first check runs immediately. Transient errors
// should be swallowed by the check itself (return false, nil) so polling
// continues.
func PollForReadiness(
	ctx context.Context,
	deadline time.Duration,
	check func(ctx context.Context) (bool, error),
) error {
	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ready, err := check(pollCtx)
		if err != nil {
			return err
		}

		if ready {
			return nil
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return fmt.Errorf("readiness poll cancelled: %w", ctx.Err())
			}

			return fmt.Errorf("%w after %s", ErrTimeoutExceeded, deadline)
		case <-ticker.C:
		}
	}
}
