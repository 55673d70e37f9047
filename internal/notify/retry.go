package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig bounds redelivery of a single webhook.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return c.BaseDelay * time.Duration(1<<attempt)
}

// deliver calls send until it succeeds, the error is permanent, attempts are
// exhausted or ctx ends. It returns the last error.
func (c RetryConfig) deliver(ctx context.Context, sink string, send func(context.Context) error) error {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = send(ctx); err == nil {
			return nil
		}

		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := c.backoff(attempt)
		log.Debug().
			Err(err).
			Str("sink", sink).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying notification delivery")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}

	return err
}
