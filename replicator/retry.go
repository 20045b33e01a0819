package replicator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rustyeddy/copytrader/exchange"
)

// RetryPolicy bounds the retry loop around one follower submission. Only
// retryable error kinds loop; terminal kinds fail on the first attempt.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy is one second doubling per attempt, capped at five
// attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	return p
}

// newBackOff builds the jittered exponential schedule for one submission.
// MaxElapsedTime is disabled; the attempt cap is enforced by the caller.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retryCall runs one follower call under the engine's retry policy. Each
// attempt gets a fresh submit timeout carved from ctx. A rate-limit
// retry-after hint from the venue overrides the computed delay when it is
// larger. Returns the attempt count alongside the last error.
func (e *Engine) retryCall(ctx context.Context, log *zap.SugaredLogger, call func(context.Context) error) (int, error) {
	bo := e.cfg.Retry.newBackOff()
	for attempt := 1; ; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		err := call(cctx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if !exchange.Retryable(err) || attempt >= e.cfg.Retry.MaxAttempts {
			return attempt, err
		}

		delay := bo.NextBackOff()
		if hint := exchange.RetryAfterOf(err); hint > delay {
			delay = hint
		}
		log.Debugw("submission retry", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempt, exchange.NewError(exchange.KindTransient, "submit", ctx.Err())
		case <-e.quit:
			return attempt, exchange.NewError(exchange.KindTransient, "submit", errShutdown)
		}
	}
}
