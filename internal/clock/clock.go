package clock

import (
	"context"
	"time"
)

// Clock abstracts time so that cache TTLs and confirmation-loop sleeps can be
// driven by a fake in tests. Now returns a time carrying a monotonic reading,
// so durations between two Now calls are safe against wall-clock jumps.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err in that case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// System returns the real clock.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
