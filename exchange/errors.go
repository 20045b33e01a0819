package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a venue error for the retry policy and the replication
// report. Adapters translate raw venue errors into kinds at the boundary;
// nothing above the Exchange interface inspects venue specifics.
type Kind string

const (
	// Retryable.
	KindNetworkTimeout Kind = "NETWORK_TIMEOUT"
	KindRateLimited    Kind = "RATE_LIMITED"
	KindTransient      Kind = "TRANSIENT_EXCHANGE_ERROR"

	// Terminal.
	KindInvalidEquity       Kind = "INVALID_EQUITY"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindInvalidSymbol       Kind = "INVALID_SYMBOL"
	KindUnsupportedMode     Kind = "UNSUPPORTED_MODE"
	KindAuthFailed          Kind = "AUTHENTICATION_FAILED"
	// KindExchangeRejected is the terminal catch-all for venue rejections
	// outside the taxonomy. Unclassified errors must never be retried, or a
	// flaky mapping turns into duplicate orders.
	KindExchangeRejected Kind = "EXCHANGE_REJECTED"

	// Informational: an action id was replayed and the existing report was
	// returned. Not a failure.
	KindDuplicateAction Kind = "DUPLICATE_ACTION"
)

// Retryable reports whether a submission failing with this kind may be
// attempted again.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetworkTimeout, KindRateLimited, KindTransient:
		return true
	}
	return false
}

// Error is a classified venue error. RetryAfter carries the venue's own
// back-off hint when it supplies one (rate limits); zero means no hint.
type Error struct {
	Kind       Kind
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and the operation that failed.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithRetryAfter attaches a venue back-off hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// KindOf extracts the kind from anywhere in err's chain. Bare context errors
// classify as timeouts and cancellations; any other unclassified error
// reports KindExchangeRejected so callers treat it as terminal.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetworkTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindExchangeRejected
}

// Retryable reports whether err's kind permits another attempt.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// RetryAfterOf returns the venue back-off hint in err's chain, or zero.
func RetryAfterOf(err error) time.Duration {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.RetryAfter
	}
	return 0
}
