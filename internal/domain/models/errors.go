package models

import "errors"

var (
	// ErrSourceUnavailable marks exchange-side failures (network, rate
	// limit, 5xx). Retryable; the next tick is a fresh attempt.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrStoreUnavailable marks store connection or timeout failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInsufficientHistory is a precondition, not a failure: the
	// indicator is skipped for this call, nothing is written.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrMalformedData marks source rows failing sanity checks. Such rows
	// are discarded with a logged warning, never inserted.
	ErrMalformedData = errors.New("malformed data")
)
