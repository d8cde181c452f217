package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kirillm/delta-bot/internal/domain"
)

// Retry parameters for idempotent exchange reads
const (
	retryMaxAttempts     = 3
	retryInitialInterval = 1 * time.Second
	retryMaxInterval     = 10 * time.Second
)

// RetryRead повторяет идемпотентную операцию чтения с экспоненциальной
// задержкой. Повторяются только transient-ошибки (domain.ErrTransport);
// отказ биржи возвращается сразу. Размещение ордеров через этот helper
// не ретраится никогда.
func RetryRead(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if domain.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, retryMaxAttempts-1), ctx))
}
