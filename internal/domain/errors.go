package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrVenueUnavailable    = errors.New("venue unavailable")
	ErrStalePrice          = errors.New("price is stale")
	ErrNoPriceAvailable    = errors.New("no price available")
	ErrAuthentication      = errors.New("authentication failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPartialFillMismatch = errors.New("partial fill mismatch between legs")
	ErrAlreadyFilled       = errors.New("order already filled")
	ErrCircuitOpen         = errors.New("venue circuit open")
	ErrRebalanceInProgress = errors.New("rebalance already in progress")
	ErrPositionNotActive   = errors.New("position not active")
	ErrLockHeld            = errors.New("lock already held")
	ErrUnsupported         = errors.New("operation not supported by venue")
)

// Transient reports whether an error is a retryable venue-level failure
// (timeout, rate limit, connectivity). Authentication and balance errors are
// never transient.
func Transient(err error) bool {
	return errors.Is(err, ErrVenueUnavailable)
}

// Fatal reports whether an error must abort the current action without retry.
func Fatal(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrInsufficientBalance)
}
