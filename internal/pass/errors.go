// ABOUTME: Error taxonomy for the entry pass protocol and its HTTP status mapping
// ABOUTME: Sentinel errors plus a typed RateLimitedError carrying the lockout expiry

package pass

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/matsuri-dev/entrypass/internal/token"
	"github.com/matsuri-dev/entrypass/internal/validate"
)

// Protocol errors
var (
	// ErrUnauthorized means no admin credential was presented or it did not resolve.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means a presented credential resolved but is not permitted.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means a verified token's row hash is absent from the paid set.
	ErrNotFound = errors.New("not found")
	// ErrUpstream means the store or mail provider failed.
	ErrUpstream = errors.New("upstream failure")
	// ErrConfig means a required secret or setting is missing for this action.
	ErrConfig = errors.New("server misconfigured")
)

// RateLimitedError is returned when the request or PIN limiter denies a call.
// LockedUntil is zero for plain request throttling and set when a PIN lockout
// is active, so clients can tell the user how long to wait.
type RateLimitedError struct {
	LockedUntil time.Time
}

func (e *RateLimitedError) Error() string {
	if e.LockedUntil.IsZero() {
		return "too many requests"
	}
	return fmt.Sprintf("locked out until %s", e.LockedUntil.Format(time.RFC3339))
}

// statusFor derives the HTTP status code from the error category.
// Anything outside the taxonomy is a plain bad request.
func statusFor(err error) int {
	var rl *RateLimitedError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

// clientMessage returns the error text safe to show callers. In production,
// anything outside the structural/auth taxonomy is collapsed to a generic
// message; the full detail stays in the server log.
func clientMessage(err error, production bool) string {
	if !production {
		return err.Error()
	}

	var verr *validate.Error
	var rl *RateLimitedError
	switch {
	case errors.As(err, &verr),
		errors.As(err, &rl),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotFound),
		errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrExpiredToken):
		return err.Error()
	default:
		return "an internal error occurred"
	}
}
