// Package jupiter implements swap execution through the Jupiter aggregator
// API. Jupiter routes across pools but has no position concept, so the LP
// operations report ErrUnsupported.
package jupiter

import (
	"bytes"
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

	"github.com/dlin-quant/solarb/internal/crypto"
	"github.com/dlin-quant/solarb/internal/domain"
	"github.com/dlin-quant/solarb/internal/venue/solanarpc"
)

// VenueName identifies this venue in quotes, books, and executions.
const VenueName = domain.Venue("jupiter")

type tokenInfo struct {
	mint     string
	decimals int
}

// Well-known SPL tokens with their mint addresses and decimals.
var tokenBySymbol = map[string]tokenInfo{
	"SOL":  {mint: "So11111111111111111111111111111111111111112", decimals: 9},
	"USDC": {mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", decimals: 6},
	"USDT": {mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", decimals: 6},
}

// Config holds the client parameters.
type Config struct {
	QuoteURL    string
	SwapURL     string
	RpcURL      string
	SlippageBps int
}

// Client quotes and executes swaps via Jupiter. It implements
// domain.DexVenue.
type Client struct {
	quoteURL    string
	swapURL     string
	slippageBps int
	rpc         *solanarpc.Client
	wallet      *crypto.Wallet
	httpClient  *http.Client
}

// NewClient creates a Jupiter client signing with the given wallet.
func NewClient(cfg Config, wallet *crypto.Wallet) *Client {
	slippage := cfg.SlippageBps
	if slippage <= 0 {
		slippage = 50
	}
	return &Client{
		quoteURL:    cfg.QuoteURL,
		swapURL:     cfg.SwapURL,
		slippageBps: slippage,
		rpc:         solanarpc.NewClient(cfg.RpcURL),
		wallet:      wallet,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the venue identifier.
func (c *Client) Name() domain.Venue { return VenueName }

func tokenFor(symbol string) (tokenInfo, error) {
	info, ok := tokenBySymbol[strings.ToUpper(symbol)]
	if !ok {
		return tokenInfo{}, fmt.Errorf("jupiter: unknown token %q: %w", symbol, domain.ErrNotFound)
	}
	return info, nil
}

// quoteResponse is Jupiter's route quote. It is passed back verbatim to the
// swap endpoint, so unknown fields must survive the round trip.
type quoteResponse struct {
	OutAmount string          `json:"outAmount"`
	Raw       json.RawMessage `json:"-"`
}

// GetPrice returns the effective price of tokenA denominated in tokenB by
// quoting a one-unit swap.
func (c *Client) GetPrice(ctx context.Context, tokenA, tokenB string) (float64, error) {
	in, err := tokenFor(tokenA)
	if err != nil {
		return 0, err
	}
	out, err := tokenFor(tokenB)
	if err != nil {
		return 0, err
	}

	quote, err := c.quote(ctx, in, out, 1.0)
	if err != nil {
		return 0, fmt.Errorf("jupiter: price %s/%s: %w", tokenA, tokenB, err)
	}

	outAmount, err := strconv.ParseFloat(quote.OutAmount, 64)
	if err != nil {
		return 0, fmt.Errorf("jupiter: parse outAmount: %w", err)
	}
	return outAmount / math.Pow10(out.decimals), nil
}

// ExecuteSwap quotes the swap, requests the serialized transaction, signs,
// and submits it. It returns the transaction signature. The quote is
// rejected locally when the routed output falls below minAmountOut.
func (c *Client) ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, amountIn, minAmountOut float64) (string, error) {
	in, err := tokenFor(tokenIn)
	if err != nil {
		return "", err
	}
	out, err := tokenFor(tokenOut)
	if err != nil {
		return "", err
	}

	quote, err := c.quote(ctx, in, out, amountIn)
	if err != nil {
		return "", fmt.Errorf("jupiter: swap quote: %w", err)
	}

	outAmount, err := strconv.ParseFloat(quote.OutAmount, 64)
	if err != nil {
		return "", fmt.Errorf("jupiter: parse outAmount: %w", err)
	}
	if outAmount/math.Pow10(out.decimals) < minAmountOut {
		return "", fmt.Errorf("jupiter: routed output %s below minimum %g", quote.OutAmount, minAmountOut)
	}

	reqBody := map[string]any{
		"quoteResponse":             json.RawMessage(quote.Raw),
		"userPublicKey":             c.wallet.PublicKey(),
		"wrapAndUnwrapSol":          true,
		"asLegacyTransaction":       true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": "auto",
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	body, err := c.doPost(ctx, c.swapURL, jsonBody)
	if err != nil {
		return "", fmt.Errorf("jupiter: build swap tx: %w", err)
	}

	var resp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("jupiter: decode swap tx: %w", err)
	}
	if resp.SwapTransaction == "" {
		return "", fmt.Errorf("jupiter: empty swap transaction")
	}

	txID, err := c.rpc.SignAndSend(ctx, c.wallet, resp.SwapTransaction)
	if err != nil {
		return "", fmt.Errorf("jupiter: submit swap: %w", err)
	}
	return txID, nil
}

// CreatePosition is not supported; Jupiter is a router, not a pool.
func (c *Client) CreatePosition(context.Context, domain.LPParams) (string, error) {
	return "", fmt.Errorf("jupiter: liquidity positions: %w", domain.ErrUnsupported)
}

// RebalancePosition is not supported.
func (c *Client) RebalancePosition(context.Context, string, float64, float64) error {
	return fmt.Errorf("jupiter: liquidity positions: %w", domain.ErrUnsupported)
}

// WithdrawLiquidity is not supported.
func (c *Client) WithdrawLiquidity(context.Context, string) (float64, float64, error) {
	return 0, 0, fmt.Errorf("jupiter: liquidity positions: %w", domain.ErrUnsupported)
}

// HarvestFees is not supported.
func (c *Client) HarvestFees(context.Context, string) (float64, error) {
	return 0, fmt.Errorf("jupiter: liquidity positions: %w", domain.ErrUnsupported)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) quote(ctx context.Context, in, out tokenInfo, amountIn float64) (quoteResponse, error) {
	lamports := int64(math.Round(amountIn * math.Pow10(in.decimals)))

	params := url.Values{}
	params.Set("inputMint", in.mint)
	params.Set("outputMint", out.mint)
	params.Set("amount", strconv.FormatInt(lamports, 10))
	params.Set("slippageBps", strconv.Itoa(c.slippageBps))
	params.Set("asLegacyTransaction", "true")

	body, err := c.doGet(ctx, c.quoteURL+"?"+params.Encode())
	if err != nil {
		return quoteResponse{}, err
	}

	var quote quoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return quoteResponse{}, fmt.Errorf("decode quote: %w", err)
	}
	quote.Raw = body
	return quote, nil
}

func (c *Client) doGet(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.send(req)
}

func (c *Client) doPost(ctx context.Context, fullURL string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %v: %w", err, domain.ErrVenueUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("HTTP %d: %s: %w", resp.StatusCode, string(body), domain.ErrVenueUnavailable)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Compile-time interface check.
var _ domain.DexVenue = (*Client)(nil)
