package domain

import "time"

// CircuitState is the per-venue circuit breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// VenueHealth is the failure-isolation state for a single venue. It is owned
// by the component guarding that venue's calls (aggregator or executor) and
// never shared beyond it.
type VenueHealth struct {
	Venue               Venue
	ConsecutiveFailures int
	State               CircuitState
	LastSuccessAt       time.Time
	OpenedAt            time.Time
}
