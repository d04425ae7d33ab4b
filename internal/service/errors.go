package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("credential not found")
	ErrExpired             = errors.New("credential expired")
	ErrSecretMismatch      = errors.New("secret does not match")
	ErrMalformed           = errors.New("malformed token")
	ErrInvalidCredential   = errors.New("invalid or expired credential")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// RateLimitedError carries how long the caller should wait. It matches
// ErrRateLimited with errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds down, with a floor of one second.
func (e *RateLimitedError) RetryAfterSeconds() int64 {
	secs := int64(e.RetryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrUpstreamUnavailable, op, err)
}

// isVerificationFailure reports whether err is one of the outcomes that
// collapse to ErrInvalidCredential at the boundary.
func isVerificationFailure(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrSecretMismatch) ||
		errors.Is(err, ErrMalformed)
}
