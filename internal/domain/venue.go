// Package domain defines the core types, capability interfaces, and sentinel
// errors shared by every component of the arbitrage and LP engine. Concrete
// venues, stores, and caches implement the interfaces declared here; the core
// never depends on a concrete venue type.
package domain

import (
	"context"
	"time"
)

// Venue identifies a price/liquidity source (exchange or oracle).
type Venue string

// VenueKind classifies how a venue is traded against.
type VenueKind string

const (
	VenueKindCex    VenueKind = "cex"
	VenueKindDex    VenueKind = "dex"
	VenueKindOracle VenueKind = "oracle"
)

// Side indicates whether this is a buy or sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus tracks the lifecycle of an order placed on a CEX.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Filled reports whether any quantity has been executed.
func (s OrderStatus) Filled() bool {
	return s == OrderStatusFilled || s == OrderStatusPartial
}

// OrderResult is the venue's response to an order submission.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	FilledSize  float64
	FilledPrice float64
	FeePaid     float64
}

// Trade is a single public trade reported by a CEX.
type Trade struct {
	ID        string
	Venue     Venue
	Symbol    string
	Side      Side
	Price     float64
	Quantity  float64
	Timestamp time.Time
}

// CexVenue is the capability interface for centralized exchanges. Implemented
// per exchange and supplied to the core at wiring time.
type CexVenue interface {
	Name() Venue
	GetOrderBook(ctx context.Context, symbol string) (BookSnapshot, error)
	GetTicker(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, symbol string, side Side, price, quantity float64) (OrderResult, error)
	// CancelOrder returns ErrAlreadyFilled when the order completed before the
	// cancellation was accepted. Callers must treat that case as exposure.
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetBalance(ctx context.Context, asset string) (float64, error)
	GetRecentTrades(ctx context.Context, symbol string) ([]Trade, error)
}

// LPParams are the inputs for opening a bounded-range liquidity position.
type LPParams struct {
	TokenA   string
	TokenB   string
	AmountA  float64
	AmountB  float64
	MinPrice float64
	MaxPrice float64
}

// DexVenue is the capability interface for decentralized exchanges.
type DexVenue interface {
	Name() Venue
	GetPrice(ctx context.Context, tokenA, tokenB string) (float64, error)
	ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, amountIn, minAmountOut float64) (txID string, err error)
	CreatePosition(ctx context.Context, p LPParams) (positionID string, err error)
	RebalancePosition(ctx context.Context, positionID string, newMinPrice, newMaxPrice float64) error
	// WithdrawLiquidity removes all liquidity from the position and returns
	// the token amounts released. The position remains addressable so a new
	// range can be deposited afterwards.
	WithdrawLiquidity(ctx context.Context, positionID string) (amountA, amountB float64, err error)
	HarvestFees(ctx context.Context, positionID string) (fees float64, err error)
}

// OracleVenue is the capability interface for on-chain price oracles.
type OracleVenue interface {
	Name() Venue
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetPriceWithConfidence(ctx context.Context, symbol string) (price, confidence float64, err error)
}

// QuoteStreamer is implemented by venues that can push a continuous quote
// feed. The returned channel is closed when ctx is cancelled or the venue
// drops the stream; callers are expected to resubscribe.
type QuoteStreamer interface {
	StreamQuotes(ctx context.Context, symbol string) (<-chan PriceQuote, error)
}
