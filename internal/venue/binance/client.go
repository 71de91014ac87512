// Package binance implements the CEX venue interface against the Binance
// spot REST and WebSocket APIs.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dlin-quant/solarb/internal/crypto"
	"github.com/dlin-quant/solarb/internal/domain"
)

// VenueName identifies this venue in quotes, books, and executions.
const VenueName = domain.Venue("binance")

// Config holds the REST client parameters.
type Config struct {
	BaseURL   string
	WsURL     string
	ApiKey    string
	ApiSecret string
}

// Client is the Binance spot REST client. It implements domain.CexVenue.
type Client struct {
	baseURL    string
	wsURL      string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a new Binance REST client.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		wsURL:   cfg.WsURL,
		auth:    &crypto.HMACAuth{Key: cfg.ApiKey, Secret: cfg.ApiSecret},
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Name returns the venue identifier.
func (c *Client) Name() domain.Venue { return VenueName }

// binanceSymbol converts "SOL/USDC" to the exchange's "SOLUSDC" form.
func binanceSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// GetOrderBook returns a depth snapshot for the symbol.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (domain.BookSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("limit", "20")

	body, err := c.doPublic(ctx, http.MethodGet, "/api/v3/depth", params)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("binance: get order book %s: %w", symbol, err)
	}

	var resp struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("binance: decode order book: %w", err)
	}

	book := domain.BookSnapshot{
		Venue:     VenueName,
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
	}
	if book.Bids, err = parseLevels(resp.Bids); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("binance: parse bids: %w", err)
	}
	if book.Asks, err = parseLevels(resp.Asks); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("binance: parse asks: %w", err)
	}
	return book, nil
}

// GetTicker returns the last traded price for the symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))

	body, err := c.doPublic(ctx, http.MethodGet, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, fmt.Errorf("binance: get ticker %s: %w", symbol, err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("binance: decode ticker: %w", err)
	}
	return strconv.ParseFloat(resp.Price, 64)
}

// PlaceOrder submits a limit IOC order. Unfilled remainder is cancelled by
// the exchange, so the result reports the immediately executed quantity.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side domain.Side, price, quantity float64) (domain.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "IOC")
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: place order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: decode order response: %w", err)
	}
	return resp.toResult()
}

// CancelOrder cancels an open order. When the order already completed the
// exchange rejects the cancel; that surfaces as domain.ErrAlreadyFilled.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("orderId", orderID)

	_, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params)
	if err != nil {
		return fmt.Errorf("binance: cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetBalance returns the free balance for an asset.
func (c *Client) GetBalance(ctx context.Context, asset string) (float64, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return 0, fmt.Errorf("binance: get balance: %w", err)
	}

	var resp struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("binance: decode account: %w", err)
	}

	for _, b := range resp.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return strconv.ParseFloat(b.Free, 64)
		}
	}
	return 0, nil
}

// GetRecentTrades returns the latest public trades for the symbol.
func (c *Client) GetRecentTrades(ctx context.Context, symbol string) ([]domain.Trade, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("limit", "100")

	body, err := c.doPublic(ctx, http.MethodGet, "/api/v3/trades", params)
	if err != nil {
		return nil, fmt.Errorf("binance: get recent trades %s: %w", symbol, err)
	}

	var resp []struct {
		ID           int64  `json:"id"`
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		Time         int64  `json:"time"`
		IsBuyerMaker bool   `json:"isBuyerMaker"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode trades: %w", err)
	}

	trades := make([]domain.Trade, 0, len(resp))
	for _, t := range resp {
		price, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse trade price: %w", err)
		}
		qty, err := strconv.ParseFloat(t.Qty, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse trade qty: %w", err)
		}
		side := domain.SideBuy
		if t.IsBuyerMaker {
			side = domain.SideSell
		}
		trades = append(trades, domain.Trade{
			ID:        strconv.FormatInt(t.ID, 10),
			Venue:     VenueName,
			Symbol:    symbol,
			Side:      side,
			Price:     price,
			Quantity:  qty,
			Timestamp: time.UnixMilli(t.Time),
		})
	}
	return trades, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// orderResponse is the exchange's order submission/status payload.
type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Fills               []struct {
		Price      string `json:"price"`
		Qty        string `json:"qty"`
		Commission string `json:"commission"`
	} `json:"fills"`
}

func (r orderResponse) toResult() (domain.OrderResult, error) {
	res := domain.OrderResult{
		OrderID: strconv.FormatInt(r.OrderID, 10),
		Status:  mapOrderStatus(r.Status),
	}

	if r.ExecutedQty != "" {
		qty, err := strconv.ParseFloat(r.ExecutedQty, 64)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("parse executedQty: %w", err)
		}
		res.FilledSize = qty
	}

	// Volume-weighted fill price from the fills breakdown; fall back to
	// quote volume / base volume when fills are absent.
	var notional, qty, fees float64
	for _, f := range r.Fills {
		p, err := strconv.ParseFloat(f.Price, 64)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("parse fill price: %w", err)
		}
		q, err := strconv.ParseFloat(f.Qty, 64)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("parse fill qty: %w", err)
		}
		fee, err := strconv.ParseFloat(f.Commission, 64)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("parse fill commission: %w", err)
		}
		notional += p * q
		qty += q
		fees += fee
	}
	if qty > 0 {
		res.FilledPrice = notional / qty
		res.FeePaid = fees
	} else if res.FilledSize > 0 && r.CummulativeQuoteQty != "" {
		quoteQty, err := strconv.ParseFloat(r.CummulativeQuoteQty, 64)
		if err == nil && quoteQty > 0 {
			res.FilledPrice = quoteQty / res.FilledSize
		}
	}
	return res, nil
}

func mapOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "FILLED":
		return domain.OrderStatusFilled
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartial
	case "NEW":
		return domain.OrderStatusOpen
	case "CANCELED", "EXPIRED":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusRejected
	}
}

func parseLevels(raw [][2]string) ([]domain.BookLevel, error) {
	levels := make([]domain.BookLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := strconv.ParseFloat(lvl[0], 64)
		if err != nil {
			return nil, err
		}
		qty, err := strconv.ParseFloat(lvl[1], 64)
		if err != nil {
			return nil, err
		}
		levels = append(levels, domain.BookLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

// doPublic performs an unauthenticated request.
func (c *Client) doPublic(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	return c.do(ctx, method, fullURL, false)
}

// doSigned performs an HMAC-signed request with the API key header.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path + "?" + c.auth.SignQuery(params)
	return c.do(ctx, method, fullURL, true)
}

func (c *Client) do(ctx context.Context, method, fullURL string, signed bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures and timeouts are transient from the caller's view.
		return nil, fmt.Errorf("http request: %v: %w", err, domain.ErrVenueUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// apiError is the exchange's error payload.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Exchange error codes that need distinct domain sentinels.
const (
	codeInsufficientBalance = -2010
	codeUnknownOrder        = -2011
)

// checkStatus maps non-2xx responses to domain sentinel errors so the
// executor can classify them without knowing the venue.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, apiErr.Msg, domain.ErrAuthentication)
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot || statusCode >= 500:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, apiErr.Msg, domain.ErrVenueUnavailable)
	case apiErr.Code == codeInsufficientBalance:
		return fmt.Errorf("%s: %w", apiErr.Msg, domain.ErrInsufficientBalance)
	case apiErr.Code == codeUnknownOrder:
		// Cancel rejected because the order already completed.
		return fmt.Errorf("%s: %w", apiErr.Msg, domain.ErrAlreadyFilled)
	default:
		return fmt.Errorf("HTTP %d: %s (code %d)", statusCode, apiErr.Msg, apiErr.Code)
	}
}

// Compile-time interface check.
var _ domain.CexVenue = (*Client)(nil)
