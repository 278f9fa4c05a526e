package storage

import (
	"context"
	"time"

	ferrors "github.com/arkilian/xapiflat/internal/errors"
	"github.com/cenkalti/backoff/v4"
)

// defaultRetries is how many times a retryable transfer is repeated.
const defaultRetries = 2

// withRetry runs op until it succeeds, returns an error that is not
// retryable, or maxRetries repeats are used up.
func withRetry(ctx context.Context, maxRetries uint64, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !ferrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
}
