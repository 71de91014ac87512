package detector

import "github.com/dlin-quant/solarb/internal/domain"

// FeeModel estimates the per-unit fee paid when trading at price on venue.
// Models are configuration inputs, never hardcoded constants.
type FeeModel interface {
	Fee(venue domain.Venue, price float64) float64
}

// SlippageModel estimates the per-unit price degradation for executing size
// at price on venue.
type SlippageModel interface {
	Slippage(venue domain.Venue, price, size float64) float64
}

// BpsFees charges a flat per-venue rate in basis points of the trade price.
// Venues missing from the map trade free.
type BpsFees map[domain.Venue]float64

func (f BpsFees) Fee(venue domain.Venue, price float64) float64 {
	return price * f[venue] / 10000
}

// LinearSlippage models per-unit slippage as price * rate * size: larger
// orders walk further down the book. A zero rate disables the estimate.
type LinearSlippage struct {
	Rate float64
}

func (s LinearSlippage) Slippage(venue domain.Venue, price, size float64) float64 {
	return price * s.Rate * size
}

// VenueMeta carries the per-venue attributes used for deterministic
// tie-breaking between venues quoting the identical best price.
type VenueMeta struct {
	LatencyMs int64
	FeeBps    float64
}
