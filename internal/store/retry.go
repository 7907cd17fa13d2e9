package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/orderflow/internal/domain"
)

// DefaultAttempts bounds read-validate-commit cycles when callers pass zero.
const DefaultAttempts = 50

// Retry runs fn until it returns something other than ErrConflict. When
// attempts run out the last conflict is reported as domain.ErrConflict.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(i)):
			}
		}
		err = fn(ctx)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: concurrent modification after %d attempts: %v", domain.ErrConflict, attempts, err)
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * time.Millisecond
	if d > 20*time.Millisecond {
		d = 20 * time.Millisecond
	}
	return d
}
