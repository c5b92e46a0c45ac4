// Package retry repeats page requests that fail with transient transport errors.
//
// Only errors classified as retryable transport failures (no response, 429,
// or 5xx) are repeated. Client errors such as 404 fail immediately, and a
// cancelled context stops the loop during the pause between attempts.
//
// Basic usage:
//
//	cfg := retry.FromConfig(appConfig.Retry, log)
//	page, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]byte, error) {
//		return client.Fetch(ctx, url)
//	}, cfg)
//
// Media downloads are not wrapped in retry; a failed download is reported
// once and the run moves on.
package retry
