// Package pyth implements the oracle venue interface against the Pyth
// Hermes API. Pair prices are derived from the two USD feeds of the pair's
// legs, with confidence intervals propagated through the ratio.
package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dlin-quant/solarb/internal/domain"
)

// VenueName identifies this venue in quotes and oracle reads.
const VenueName = domain.Venue("pyth")

// Pyth price feed ids for the USD price of each asset.
var feedBySymbol = map[string]string{
	"SOL":  "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d",
	"USDC": "eaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a",
	"USDT": "2b89b9dc8fdf9f34709a5b106b472f0f39bb6ca9ce04b0fd7f2e971688e2e53b",
}

// Config holds the client parameters.
type Config struct {
	HermesURL string
	WsURL     string
	// MaxConfidenceRatio rejects reads whose confidence interval exceeds
	// this fraction of the price.
	MaxConfidenceRatio float64
}

// Client reads oracle prices from Hermes. It implements domain.OracleVenue.
type Client struct {
	hermesURL          string
	wsURL              string
	maxConfidenceRatio float64
	httpClient         *http.Client
}

// NewClient creates a Pyth Hermes client.
func NewClient(cfg Config) *Client {
	maxRatio := cfg.MaxConfidenceRatio
	if maxRatio <= 0 {
		maxRatio = 0.01
	}
	return &Client{
		hermesURL:          strings.TrimRight(cfg.HermesURL, "/"),
		wsURL:              cfg.WsURL,
		maxConfidenceRatio: maxRatio,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Name returns the venue identifier.
func (c *Client) Name() domain.Venue { return VenueName }

// pairFeeds resolves "SOL/USDC" to the feed ids of both legs.
func pairFeeds(symbol string) (base, quote string, err error) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("pyth: malformed symbol %q", symbol)
	}
	base, ok := feedBySymbol[strings.ToUpper(parts[0])]
	if !ok {
		return "", "", fmt.Errorf("pyth: no feed for %q: %w", parts[0], domain.ErrNotFound)
	}
	quote, ok = feedBySymbol[strings.ToUpper(parts[1])]
	if !ok {
		return "", "", fmt.Errorf("pyth: no feed for %q: %w", parts[1], domain.ErrNotFound)
	}
	return base, quote, nil
}

// GetPrice returns the oracle pair price.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	price, _, err := c.GetPriceWithConfidence(ctx, symbol)
	return price, err
}

// GetPriceWithConfidence returns the oracle pair price and its confidence
// interval. Reads whose relative confidence exceeds the configured bound are
// rejected with ErrNoPriceAvailable.
func (c *Client) GetPriceWithConfidence(ctx context.Context, symbol string) (float64, float64, error) {
	baseFeed, quoteFeed, err := pairFeeds(symbol)
	if err != nil {
		return 0, 0, err
	}

	feeds, err := c.latest(ctx, baseFeed, quoteFeed)
	if err != nil {
		return 0, 0, err
	}

	base, ok := feeds[baseFeed]
	if !ok {
		return 0, 0, fmt.Errorf("pyth: feed %s absent from response: %w", baseFeed, domain.ErrNoPriceAvailable)
	}
	quote, ok := feeds[quoteFeed]
	if !ok {
		return 0, 0, fmt.Errorf("pyth: feed %s absent from response: %w", quoteFeed, domain.ErrNoPriceAvailable)
	}

	price, conf, err := combine(base, quote)
	if err != nil {
		return 0, 0, err
	}
	if conf/price > c.maxConfidenceRatio {
		return 0, 0, fmt.Errorf("pyth: confidence %.6f exceeds bound on price %.6f: %w",
			conf, price, domain.ErrNoPriceAvailable)
	}
	return price, conf, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// feedPrice is one feed's fixed-point price with its scaling exponent.
type feedPrice struct {
	price float64
	conf  float64
}

// combine derives the pair price base/quote and propagates both confidence
// intervals: conf = price * (confB/priceB + confQ/priceQ).
func combine(base, quote feedPrice) (float64, float64, error) {
	if base.price <= 0 || quote.price <= 0 {
		return 0, 0, fmt.Errorf("pyth: nonpositive feed price: %w", domain.ErrNoPriceAvailable)
	}
	price := base.price / quote.price
	conf := price * (base.conf/base.price + quote.conf/quote.price)
	return price, conf, nil
}

// hermesPrice is Hermes's fixed-point price representation.
type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int    `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

func (p hermesPrice) toFeedPrice() (feedPrice, error) {
	raw, err := strconv.ParseFloat(p.Price, 64)
	if err != nil {
		return feedPrice{}, fmt.Errorf("pyth: parse price: %w", err)
	}
	conf, err := strconv.ParseFloat(p.Conf, 64)
	if err != nil {
		return feedPrice{}, fmt.Errorf("pyth: parse conf: %w", err)
	}
	scale := math.Pow10(p.Expo)
	return feedPrice{price: raw * scale, conf: conf * scale}, nil
}

// latest fetches the newest update for the given feed ids.
func (c *Client) latest(ctx context.Context, feedIDs ...string) (map[string]feedPrice, error) {
	params := url.Values{}
	for _, id := range feedIDs {
		params.Add("ids[]", id)
	}

	fullURL := c.hermesURL + "/v2/updates/price/latest?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("pyth: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pyth: request: %v: %w", err, domain.ErrVenueUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pyth: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("pyth: HTTP %d: %w", resp.StatusCode, domain.ErrVenueUnavailable)
		}
		return nil, fmt.Errorf("pyth: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Parsed []struct {
			ID    string      `json:"id"`
			Price hermesPrice `json:"price"`
		} `json:"parsed"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("pyth: decode response: %w", err)
	}

	feeds := make(map[string]feedPrice, len(parsed.Parsed))
	for _, f := range parsed.Parsed {
		fp, err := f.Price.toFeedPrice()
		if err != nil {
			return nil, err
		}
		feeds[strings.TrimPrefix(f.ID, "0x")] = fp
	}
	return feeds, nil
}

// Compile-time interface check.
var _ domain.OracleVenue = (*Client)(nil)
