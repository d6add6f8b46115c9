package wait

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ErrTimeout is matched by every error returned when a wait runs out of time
var ErrTimeout = errors.New("condition not met before timeout")

// ConditionFunc reports whether the awaited state was reached.
// A non-nil error aborts the wait.
type ConditionFunc func(ctx context.Context) (bool, error)

// TimeoutError describes which wait expired
type TimeoutError struct {
	Operation string
	Waited    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v waiting for %s", e.Waited, e.Operation)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Poll evaluates cond every interval until it returns true, returns an error,
// the timeout elapses or ctx is done. cond is always evaluated at least once.
func Poll(ctx context.Context, operation string, interval, timeout time.Duration, cond ConditionFunc) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", interval)
	}
	deadline := time.Now().Add(timeout)

	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{Operation: operation, Waited: timeout}
		}
		sleep := interval
		if remaining < sleep {
			sleep = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// PollN evaluates cond up to attempts times, sleeping interval between attempts.
func PollN(ctx context.Context, operation string, interval time.Duration, attempts int, cond ConditionFunc) error {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return &TimeoutError{Operation: operation, Waited: interval * time.Duration(attempts-1)}
}

// Sleep pauses for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ForFile waits until a file matching pattern exists in dir and is no longer
// a partial browser download (.crdownload, .part, .tmp).
func ForFile(ctx context.Context, dir, pattern string, interval, timeout time.Duration) (string, error) {
	var found string
	err := Poll(ctx, "file "+pattern+" in "+dir, interval, timeout, func(context.Context) (bool, error) {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return false, err
		}
		for _, m := range matches {
			switch filepath.Ext(m) {
			case ".crdownload", ".part", ".tmp":
				continue
			}
			if info, err := os.Stat(m); err == nil && !info.IsDir() {
				found = m
				return true, nil
			}
		}
		return false, nil
	})
	return found, err
}

// ForHTTPStatus waits until GET url answers with the wanted status code.
// Transport errors count as "not yet".
func ForHTTPStatus(ctx context.Context, client *http.Client, url string, want int, interval, timeout time.Duration) error {
	if client == nil {
		client = http.DefaultClient
	}
	return Poll(ctx, "HTTP "+url, interval, timeout, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, nil
		}
		resp.Body.Close()
		return resp.StatusCode == want, nil
	})
}
