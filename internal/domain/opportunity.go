package domain

import "time"

// Opportunity is a detected cross-venue arbitrage: buy on BuyVenue at
// BuyPrice, sell on SellVenue at SellPrice. BuyVenue and SellVenue are always
// distinct, and EstNetProfit was strictly above the configured threshold at
// detection time.
type Opportunity struct {
	ID           string
	Symbol       string
	BuyVenue     Venue
	SellVenue    Venue
	BuyPrice     float64
	SellPrice    float64
	TradableSize float64
	EstFees      float64
	EstSlippage  float64
	EstNetProfit float64
	DetectedAt   time.Time
	Executed     bool
}

// Age returns how long ago the opportunity was detected.
func (o Opportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.DetectedAt)
}
