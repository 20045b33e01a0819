package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want bool
	}{
		{KindNetworkTimeout, true},
		{KindRateLimited, true},
		{KindTransient, true},
		{KindInvalidEquity, false},
		{KindInsufficientBalance, false},
		{KindInvalidSymbol, false},
		{KindUnsupportedMode, false},
		{KindAuthFailed, false},
		{KindExchangeRejected, false},
		{KindDuplicateAction, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.kind.Retryable())
		})
	}
}

func TestKindOfUnwrapsChain(t *testing.T) {
	t.Parallel()

	base := NewError(KindRateLimited, "place order", errors.New("429"))
	wrapped := fmt.Errorf("follower f1: %w", base)

	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.True(t, Retryable(wrapped))

	var ee *Error
	assert.True(t, errors.As(wrapped, &ee))
	assert.Equal(t, "place order", ee.Op)
}

func TestKindOfDefaults(t *testing.T) {
	t.Parallel()

	// Unclassified errors are terminal, never retried.
	assert.Equal(t, KindExchangeRejected, KindOf(errors.New("mystery")))
	assert.False(t, Retryable(errors.New("mystery")))

	// Deadline errors from the engine's own attempt timeouts count as
	// network timeouts.
	err := fmt.Errorf("submit: %w", context.DeadlineExceeded)
	assert.Equal(t, KindNetworkTimeout, KindOf(err))
	assert.True(t, Retryable(err))
}

func TestRetryAfterOf(t *testing.T) {
	t.Parallel()

	hinted := NewError(KindRateLimited, "place order", errors.New("banned")).
		WithRetryAfter(3 * time.Second)
	wrapped := fmt.Errorf("submit: %w", hinted)

	assert.Equal(t, 3*time.Second, RetryAfterOf(wrapped))
	assert.Zero(t, RetryAfterOf(errors.New("plain")))
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := NewError(KindInsufficientBalance, "place order BTCUSDT", errors.New("margin is insufficient"))
	assert.Equal(t, "[INSUFFICIENT_BALANCE] place order BTCUSDT: margin is insufficient", err.Error())

	bare := &Error{Kind: KindInvalidEquity, Op: "get equity"}
	assert.Equal(t, "[INVALID_EQUITY] get equity", bare.Error())
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}
