package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is returned when a phone exceeded its code request budget.
	ErrRateLimited = errors.New("auth: rate limited")
	// ErrInvalidCode is returned when no live matching code exists for a phone.
	// Expired, consumed and superseded codes all fail verification the same way.
	ErrInvalidCode = errors.New("auth: invalid code")
	// ErrInvalidToken is returned for malformed, expired, mis-signed or
	// wrong-type tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInactiveActor is returned when the actor exists but is deactivated.
	ErrInactiveActor = errors.New("auth: inactive actor")
	// ErrInsufficientRole is returned when the actor's role does not meet the
	// operation's minimum.
	ErrInsufficientRole = errors.New("auth: insufficient role")
	// ErrNotFound is returned when an actor does not exist.
	ErrNotFound = errors.New("auth: not found")
	// ErrInvalidPhone is returned for keys that are not in canonical +digits form.
	ErrInvalidPhone = errors.New("auth: invalid phone")
	// ErrActorExists is returned when creating an actor whose phone is taken.
	ErrActorExists = errors.New("auth: actor already exists")
	// ErrDispatchFailed is returned when a code was issued but could not be
	// delivered. The code stays live until it expires or is superseded.
	ErrDispatchFailed = errors.New("auth: code dispatch failed")
)

// RateLimitedError carries the earliest time a retry can succeed. It wraps
// ErrRateLimited so callers can match with errors.Is.
type RateLimitedError struct {
	RetryAfter time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("auth: rate limited until %s", e.RetryAfter.Format(time.RFC3339))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }
