package domain

import "time"

// BookLevel is a single price+quantity entry in an order book.
type BookLevel struct {
	Price    float64
	Quantity float64
}

// BookSnapshot is a venue's order book for a symbol at a point in time.
// Bids are ordered by price descending, asks ascending.
type BookSnapshot struct {
	Venue     Venue
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// BestBid returns the top-of-book bid. ok is false for an empty bid side.
func (b BookSnapshot) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top-of-book ask. ok is false for an empty ask side.
func (b BookSnapshot) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[0], true
}

// Crossed reports whether the book crosses itself (best bid >= best ask).
// A venue must never publish a crossed book; crossed snapshots are rejected
// at the aggregation boundary.
func (b BookSnapshot) Crossed() bool {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	return okBid && okAsk && bid.Price >= ask.Price
}

// FreshAt reports whether the snapshot is inside the staleness bound.
func (b BookSnapshot) FreshAt(now time.Time, bound time.Duration) bool {
	return !b.Timestamp.IsZero() && now.Sub(b.Timestamp) <= bound
}
