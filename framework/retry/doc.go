// Package retry retries transient failures of remote calls (HTTP facades,
// database connects, SSH dials) with exponential backoff.
//
// It is a thin policy layer over github.com/avast/retry-go: callers pass a
// context-aware function and options, and get back the last error.
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//	    _, err := client.Get(ctx, "/nifi-api/flow/about")
//	    return err
//	}, retry.WithMaxAttempts(5), retry.WithInitialDelay(time.Second))
//
// Mark an error with Permanent to stop immediately (validation failures,
// 4xx responses); it is unwrapped before Do returns:
//
//	if resp.StatusCode == http.StatusUnauthorized {
//	    return retry.Permanent(err)
//	}
//
// Use DoWithData to get a value back:
//
//	resp, err := retry.DoWithData(ctx, func(ctx context.Context) (*http.Response, error) {
//	    return httpClient.Do(req.WithContext(ctx))
//	})
package retry
