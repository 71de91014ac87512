// Package raydium implements the DEX venue interface against the Raydium
// CLMM API, signing and submitting transactions through a Solana RPC node.
package raydium

import (
	"bytes"
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
	"github.com/dlin-quant/solarb/internal/venue/solanarpc"
)

// VenueName identifies this venue in quotes, books, and executions.
const VenueName = domain.Venue("raydium")

// Config holds the client parameters.
type Config struct {
	RpcURL string
	ApiURL string
	// SlippageBps is passed to swap quoting.
	SlippageBps int
}

// Client talks to the Raydium API for quoting and transaction building, and
// to a Solana RPC node for submission. It implements domain.DexVenue.
type Client struct {
	rpc         *solanarpc.Client
	apiURL      string
	slippageBps int
	wallet      *crypto.Wallet
	httpClient  *http.Client
}

// NewClient creates a Raydium client signing with the given wallet.
func NewClient(cfg Config, wallet *crypto.Wallet) *Client {
	slippage := cfg.SlippageBps
	if slippage <= 0 {
		slippage = 50
	}
	return &Client{
		rpc:         solanarpc.NewClient(cfg.RpcURL),
		apiURL:      strings.TrimRight(cfg.ApiURL, "/"),
		slippageBps: slippage,
		wallet:      wallet,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// signAndSend signs an API-built transaction and submits it to the node.
func (c *Client) signAndSend(ctx context.Context, txBase64 string) (string, error) {
	txID, err := c.rpc.SignAndSend(ctx, c.wallet, txBase64)
	if err != nil {
		return "", fmt.Errorf("raydium: submit transaction: %w", err)
	}
	return txID, nil
}

// Name returns the venue identifier.
func (c *Client) Name() domain.Venue { return VenueName }

func mintFor(symbol string) (string, error) {
	mint, err := solanarpc.MintFor(symbol)
	if err != nil {
		return "", fmt.Errorf("raydium: %w", err)
	}
	return mint, nil
}

// GetPrice returns the pool price of tokenA denominated in tokenB.
func (c *Client) GetPrice(ctx context.Context, tokenA, tokenB string) (float64, error) {
	mintA, err := mintFor(tokenA)
	if err != nil {
		return 0, err
	}
	mintB, err := mintFor(tokenB)
	if err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("mints", mintA+","+mintB)

	body, err := c.doAPI(ctx, http.MethodGet, "/mint/price?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("raydium: get price %s/%s: %w", tokenA, tokenB, err)
	}

	var resp struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("raydium: decode prices: %w", err)
	}

	priceA, err := parsePrice(resp.Data, mintA)
	if err != nil {
		return 0, fmt.Errorf("raydium: %s: %w", tokenA, err)
	}
	priceB, err := parsePrice(resp.Data, mintB)
	if err != nil {
		return 0, fmt.Errorf("raydium: %s: %w", tokenB, err)
	}
	if priceB == 0 {
		return 0, fmt.Errorf("raydium: zero price for %s", tokenB)
	}
	return priceA / priceB, nil
}

func parsePrice(data map[string]string, mint string) (float64, error) {
	s, ok := data[mint]
	if !ok || s == "" {
		return 0, domain.ErrNoPriceAvailable
	}
	return strconv.ParseFloat(s, 64)
}

// ExecuteSwap quotes a swap, requests the serialized transaction, signs it,
// and submits it to the RPC node. It returns the transaction signature.
func (c *Client) ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, amountIn, minAmountOut float64) (string, error) {
	mintIn, err := mintFor(tokenIn)
	if err != nil {
		return "", err
	}
	mintOut, err := mintFor(tokenOut)
	if err != nil {
		return "", err
	}

	reqBody := map[string]any{
		"inputMint":     mintIn,
		"outputMint":    mintOut,
		"amountIn":      strconv.FormatFloat(amountIn, 'f', -1, 64),
		"minAmountOut":  strconv.FormatFloat(minAmountOut, 'f', -1, 64),
		"slippageBps":   c.slippageBps,
		"ownerPubkey":   c.wallet.PublicKey(),
		"txVersion":     "LEGACY",
		"wrapUnwrapSol": true,
	}

	body, err := c.doAPI(ctx, http.MethodPost, "/transaction/swap-base-in", reqBody)
	if err != nil {
		return "", fmt.Errorf("raydium: build swap tx: %w", err)
	}

	var resp struct {
		Data []struct {
			Transaction string `json:"transaction"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("raydium: decode swap tx: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].Transaction == "" {
		return "", fmt.Errorf("raydium: empty swap transaction")
	}

	return c.signAndSend(ctx, resp.Data[0].Transaction)
}

// CreatePosition opens a bounded-range CLMM position and returns its NFT
// mint address, which identifies the position from then on.
func (c *Client) CreatePosition(ctx context.Context, p domain.LPParams) (string, error) {
	mintA, err := mintFor(p.TokenA)
	if err != nil {
		return "", err
	}
	mintB, err := mintFor(p.TokenB)
	if err != nil {
		return "", err
	}

	reqBody := map[string]any{
		"mintA":       mintA,
		"mintB":       mintB,
		"amountA":     strconv.FormatFloat(p.AmountA, 'f', -1, 64),
		"amountB":     strconv.FormatFloat(p.AmountB, 'f', -1, 64),
		"priceLower":  strconv.FormatFloat(p.MinPrice, 'f', -1, 64),
		"priceUpper":  strconv.FormatFloat(p.MaxPrice, 'f', -1, 64),
		"ownerPubkey": c.wallet.PublicKey(),
		"txVersion":   "LEGACY",
	}

	body, err := c.doAPI(ctx, http.MethodPost, "/clmm/position/open", reqBody)
	if err != nil {
		return "", fmt.Errorf("raydium: build open position tx: %w", err)
	}

	var resp struct {
		Data struct {
			Transaction  string `json:"transaction"`
			PositionMint string `json:"positionMint"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("raydium: decode open position tx: %w", err)
	}
	if resp.Data.Transaction == "" || resp.Data.PositionMint == "" {
		return "", fmt.Errorf("raydium: incomplete open position response")
	}

	if _, err := c.signAndSend(ctx, resp.Data.Transaction); err != nil {
		return "", err
	}
	return resp.Data.PositionMint, nil
}

// RebalancePosition re-deposits the position's liquidity into a new price
// range.
func (c *Client) RebalancePosition(ctx context.Context, positionID string, newMinPrice, newMaxPrice float64) error {
	reqBody := map[string]any{
		"positionMint": positionID,
		"priceLower":   strconv.FormatFloat(newMinPrice, 'f', -1, 64),
		"priceUpper":   strconv.FormatFloat(newMaxPrice, 'f', -1, 64),
		"ownerPubkey":  c.wallet.PublicKey(),
		"txVersion":    "LEGACY",
	}

	if err := c.buildSignSend(ctx, "/clmm/position/rebalance", reqBody); err != nil {
		return fmt.Errorf("raydium: rebalance position %s: %w", positionID, err)
	}
	return nil
}

// WithdrawLiquidity removes all liquidity from the position and returns the
// released token amounts. The position NFT survives for redeposit.
func (c *Client) WithdrawLiquidity(ctx context.Context, positionID string) (float64, float64, error) {
	reqBody := map[string]any{
		"positionMint":    positionID,
		"liquidityPct":    100,
		"closePosition":   false,
		"ownerPubkey":     c.wallet.PublicKey(),
		"txVersion":       "LEGACY",
		"computeReleased": true,
	}

	body, err := c.doAPI(ctx, http.MethodPost, "/clmm/position/withdraw", reqBody)
	if err != nil {
		return 0, 0, fmt.Errorf("raydium: build withdraw tx: %w", err)
	}

	var resp struct {
		Data struct {
			Transaction string `json:"transaction"`
			AmountA     string `json:"amountA"`
			AmountB     string `json:"amountB"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, fmt.Errorf("raydium: decode withdraw tx: %w", err)
	}
	if resp.Data.Transaction == "" {
		return 0, 0, fmt.Errorf("raydium: empty withdraw transaction")
	}

	amountA, err := strconv.ParseFloat(resp.Data.AmountA, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("raydium: parse withdrawn amountA: %w", err)
	}
	amountB, err := strconv.ParseFloat(resp.Data.AmountB, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("raydium: parse withdrawn amountB: %w", err)
	}

	if _, err := c.signAndSend(ctx, resp.Data.Transaction); err != nil {
		return 0, 0, err
	}
	return amountA, amountB, nil
}

// HarvestFees collects accrued trading fees from the position and returns
// the harvested amount denominated in the quote token.
func (c *Client) HarvestFees(ctx context.Context, positionID string) (float64, error) {
	reqBody := map[string]any{
		"positionMint": positionID,
		"ownerPubkey":  c.wallet.PublicKey(),
		"txVersion":    "LEGACY",
	}

	body, err := c.doAPI(ctx, http.MethodPost, "/clmm/position/harvest", reqBody)
	if err != nil {
		return 0, fmt.Errorf("raydium: build harvest tx: %w", err)
	}

	var resp struct {
		Data struct {
			Transaction string `json:"transaction"`
			FeeValue    string `json:"feeValue"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("raydium: decode harvest tx: %w", err)
	}
	if resp.Data.Transaction == "" {
		return 0, fmt.Errorf("raydium: empty harvest transaction")
	}

	fees, err := strconv.ParseFloat(resp.Data.FeeValue, 64)
	if err != nil {
		return 0, fmt.Errorf("raydium: parse harvested fees: %w", err)
	}

	if _, err := c.signAndSend(ctx, resp.Data.Transaction); err != nil {
		return 0, err
	}
	return fees, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildSignSend requests a transaction from the API, signs, and submits it.
func (c *Client) buildSignSend(ctx context.Context, path string, reqBody any) error {
	body, err := c.doAPI(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return err
	}

	var resp struct {
		Data struct {
			Transaction string `json:"transaction"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode transaction: %w", err)
	}
	if resp.Data.Transaction == "" {
		return fmt.Errorf("empty transaction")
	}

	_, err = c.signAndSend(ctx, resp.Data.Transaction)
	return err
}

// doAPI performs a request against the Raydium API.
func (c *Client) doAPI(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

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
