package extractor

import (
	"context"
	"time"

	"github.com/blockedby/tg-extractor/internal/logger"
	"github.com/blockedby/tg-extractor/internal/metrics"
	"github.com/blockedby/tg-extractor/internal/telegram"
)

// sleeper suspends for d or until ctx is done.
type sleeper func(ctx context.Context, d time.Duration) error

// retryOnFlood runs op and, on a rate-limit signal, waits exactly the
// provider supplied duration and runs it once more. The second outcome is
// returned as is, whatever it is. Other errors are not retried.
func retryOnFlood(ctx context.Context, sleep sleeper, log *logger.Logger, msgID int, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	f := telegram.Classify(err)
	if f.Kind != telegram.FaultRateLimited {
		return err
	}

	metrics.FloodWait(f.Wait)
	log.Warn().
		Int("message_id", msgID).
		Float64("wait_seconds", f.Wait.Seconds()).
		Msg("rate limited, waiting before retry")

	if err := sleep(ctx, f.Wait); err != nil {
		return err
	}
	return op()
}
