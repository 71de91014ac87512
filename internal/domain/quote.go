package domain

import "time"

// PriceQuote is one venue's view of a symbol at a point in time. Confidence
// is the width of the price's error bound and is set only for oracle-sourced
// quotes; zero means "not an oracle quote".
type PriceQuote struct {
	Venue      Venue
	Symbol     string
	Price      float64
	Bid        float64
	Ask        float64
	Confidence float64
	Timestamp  time.Time
}

// FreshAt reports whether the quote is inside the staleness window relative
// to now.
func (q PriceQuote) FreshAt(now time.Time, window time.Duration) bool {
	return !q.Timestamp.IsZero() && now.Sub(q.Timestamp) <= window
}

// VenuePrice pairs a price with the venue it came from, as returned by
// best-price queries.
type VenuePrice struct {
	Venue Venue
	Price float64
}
