// Package solanarpc is a minimal JSON-RPC client for a Solana node, used by
// the DEX adapters to submit transactions built by their respective APIs.
package solanarpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr-tron/base58"

	"github.com/dlin-quant/solarb/internal/crypto"
	"github.com/dlin-quant/solarb/internal/domain"
)

// SigLen is the ed25519 signature length in a serialized transaction.
const SigLen = 64

// Client performs JSON-RPC 2.0 calls against one Solana node.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a Client for the given RPC endpoint.
func NewClient(url string) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SignAndSend signs a base64-encoded unsigned legacy transaction and submits
// it via sendTransaction, returning the transaction signature. The DEX APIs
// build single-signer transactions: a one-byte signature count of 1, a
// zeroed 64-byte signature slot, then the message. We sign the message and
// fill the slot.
func (c *Client) SignAndSend(ctx context.Context, wallet *crypto.Wallet, txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("solanarpc: decode transaction: %w", err)
	}
	if len(raw) < 1+SigLen || raw[0] != 1 {
		return "", fmt.Errorf("solanarpc: unexpected transaction layout")
	}

	message := raw[1+SigLen:]
	sig := wallet.Sign(message)
	copy(raw[1:1+SigLen], sig)

	signed := base64.StdEncoding.EncodeToString(raw)

	var result string
	err = c.Call(ctx, "sendTransaction", []any{
		signed,
		map[string]any{"encoding": "base64", "preflightCommitment": "confirmed"},
	}, &result)
	if err != nil {
		return "", err
	}
	if result == "" {
		// The node echoes the first signature back; for single-signer
		// transactions that is exactly the signature we just produced.
		result = base58.Encode(sig)
	}
	return result, nil
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Call performs one JSON-RPC 2.0 request.
func (c *Client) Call(ctx context.Context, method string, params []any, result any) error {
	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("solanarpc: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("solanarpc: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("solanarpc: request: %v: %w", err, domain.ErrVenueUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("solanarpc: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("solanarpc: HTTP %d: %w", resp.StatusCode, domain.ErrVenueUnavailable)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("solanarpc: decode response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("solanarpc: %s: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("solanarpc: decode result: %w", err)
		}
	}
	return nil
}
