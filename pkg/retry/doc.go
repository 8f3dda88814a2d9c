// Package retry re-runs operations that fail transiently.
//
// blocktally uses it around checkpoint saves and file moves, where a
// failed rename or fsync is often gone on the next attempt:
//
//	err := retry.Do(func() error {
//		return store.Save(state)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     &retry.ConstantBackoff{Delay: 200 * time.Millisecond},
//		Context:     context.WithoutCancel(ctx),
//		Logger:      log,
//	})
//
// DefaultRetryIf only retries errors classified as storage or io by
// blocktally/pkg/errors, plus unclassified errors. Codec and corrupt-state
// errors and context cancellation are returned immediately.
package retry
