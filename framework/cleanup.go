package framework

import (
	"fmt"
	"slices"
	"time"
)

// Cleanup closes every tracked connection and session, newest first.
// All closers run even when some fail; their errors are joined in a CleanupError.
// Cleanup is safe to call more than once.
func (f *Framework) Cleanup() error {
	f.mu.Lock()
	tracked := f.tracked
	f.tracked = nil
	f.mu.Unlock()

	if len(tracked) == 0 {
		return nil
	}
	f.logger.Info("starting cleanup", "resources", len(tracked))

	var errs []error
	for _, res := range slices.Backward(tracked) {
		start := time.Now()
		if err := res.Closer.Close(); err != nil {
			f.logger.Warn("failed to close resource", "resource", res.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, err))
			continue
		}
		f.logger.Debug("closed resource", "resource", res.Name,
			"open_for", start.Sub(res.OpenedAt).Round(time.Millisecond))
	}

	if len(errs) > 0 {
		return NewCleanupError("close", errs...)
	}
	f.logger.Info("cleanup completed")
	return nil
}
