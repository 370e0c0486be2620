// Package gather defines the common shape of background data-gathering
// jobs and a runner that executes them.
package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass and returns when it completes or ctx
	// is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether Start is not after End.
func (r DateRange) Valid() bool {
	return !r.Start.After(r.End)
}

// RunOnce executes g with an optional timeout and logs its outcome.
func RunOnce(ctx context.Context, g Gatherer, timeout time.Duration, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := g.Run(ctx); err != nil {
		log.Error("gatherer failed", "gatherer", g.Name(), "elapsed", time.Since(start).Round(time.Millisecond), "error", err)
		return fmt.Errorf("%s: %w", g.Name(), err)
	}
	log.Info("gatherer finished", "gatherer", g.Name(), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
