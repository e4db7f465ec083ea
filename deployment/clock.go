package deployment

import (
	"context"
	"time"
)

// Clock abstracts time so tests can control the orchestrator's fixed grace
// periods and probe intervals.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until the context is cancelled.
	Sleep(ctx context.Context, d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
