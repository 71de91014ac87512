package domain

import "time"

// ExecStatus is the terminal state of a two-leg execution attempt.
type ExecStatus string

const (
	ExecStatusFilled    ExecStatus = "filled"    // both legs filled
	ExecStatusCancelled ExecStatus = "cancelled" // aborted before any fill
	ExecStatusExposed   ExecStatus = "exposed"   // one leg filled, the other did not
	ExecStatusFailed    ExecStatus = "failed"    // rejected pre-flight (stale, balance, auth)
)

// ExecLeg is one side of a two-leg execution.
type ExecLeg struct {
	Venue       Venue
	Symbol      string
	Side        Side
	Price       float64
	Size        float64
	OrderID     string
	FilledSize  float64
	FilledPrice float64
	FeePaid     float64
	Status      OrderStatus
	Error       string
}

// Execution records one attempt at executing an Opportunity, successful or
// not. Every attempt is recorded; partial failures surface as
// ExecStatusExposed together with an Exposure row.
type Execution struct {
	ID             string
	OpportunityID  string
	Symbol         string
	BuyLeg         ExecLeg
	SellLeg        ExecLeg
	Status         ExecStatus
	EstProfit      float64
	RealizedProfit float64
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// Exposure is an unreconciled inventory imbalance left behind by a partially
// executed two-leg trade: exactly one leg filled. It is never dropped; it
// stays open until explicitly resolved.
type Exposure struct {
	ID            string
	OpportunityID string
	Symbol        string
	Venue         Venue
	Side          Side
	Size          float64
	Price         float64
	OrderID       string
	Reason        string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
	Resolution    string
}

// Open reports whether the exposure still awaits reconciliation.
func (e Exposure) Open() bool { return e.ResolvedAt == nil }
