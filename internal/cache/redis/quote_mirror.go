package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dlin-quant/solarb/internal/domain"
)

// quoteTTL bounds how long a mirrored quote outlives its last update. Stale
// mirror entries expire rather than masquerading as live prices.
const quoteTTL = time.Minute

// QuoteMirror implements domain.QuoteMirror using Redis hashes. Each quote is
// stored at key "quote:{venue}:{symbol}" with one field per quote attribute
// and a Unix nanosecond timestamp.
type QuoteMirror struct {
	rdb *redis.Client
}

// NewQuoteMirror creates a QuoteMirror backed by the given Client.
func NewQuoteMirror(c *Client) *QuoteMirror {
	return &QuoteMirror{rdb: c.Underlying()}
}

func quoteKey(venue domain.Venue, symbol string) string {
	return "quote:" + string(venue) + ":" + symbol
}

// SetQuote mirrors the latest accepted quote for a venue/symbol.
func (m *QuoteMirror) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	key := quoteKey(q.Venue, q.Symbol)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(q.Price, 'f', -1, 64),
		"bid":   strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask":   strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"conf":  strconv.FormatFloat(q.Confidence, 'f', -1, 64),
		"ts":    strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}
	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// GetQuote retrieves the mirrored quote for a venue/symbol. It returns
// domain.ErrNotFound when the key does not exist or has expired.
func (m *QuoteMirror) GetQuote(ctx context.Context, venue domain.Venue, symbol string) (domain.PriceQuote, error) {
	key := quoteKey(venue, symbol)
	vals, err := m.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.PriceQuote{}, domain.ErrNotFound
	}

	q := domain.PriceQuote{Venue: venue, Symbol: symbol}
	if q.Price, err = parseF(vals, "price"); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse quote %s: %w", key, err)
	}
	if q.Bid, err = parseF(vals, "bid"); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse quote %s: %w", key, err)
	}
	if q.Ask, err = parseF(vals, "ask"); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse quote %s: %w", key, err)
	}
	if q.Confidence, err = parseF(vals, "conf"); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse quote %s: %w", key, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}
	q.Timestamp = time.Unix(0, tsNano)
	return q, nil
}

func parseF(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// Compile-time interface check.
var _ domain.QuoteMirror = (*QuoteMirror)(nil)
