package solanarpc

import (
	"context"
	"fmt"
	"strings"

	"github.com/dlin-quant/solarb/internal/domain"
)

const lamportsPerSol = 1e9

// Well-known SPL token mints shared by the DEX adapters.
var mintBySymbol = map[string]string{
	"SOL":  "So11111111111111111111111111111111111111112",
	"USDC": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"USDT": "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
}

// MintFor resolves a token symbol to its mint address.
func MintFor(symbol string) (string, error) {
	mint, ok := mintBySymbol[strings.ToUpper(symbol)]
	if !ok {
		return "", fmt.Errorf("solanarpc: unknown token %q: %w", symbol, domain.ErrNotFound)
	}
	return mint, nil
}

// Balance returns owner's spendable balance of asset. SOL reads the native
// lamport balance; SPL tokens sum the parsed token accounts for the asset's
// mint.
func (c *Client) Balance(ctx context.Context, owner, asset string) (float64, error) {
	if strings.EqualFold(asset, "SOL") {
		var result struct {
			Value uint64 `json:"value"`
		}
		if err := c.Call(ctx, "getBalance", []any{owner}, &result); err != nil {
			return 0, fmt.Errorf("solanarpc: balance of %s: %w", owner, err)
		}
		return float64(result.Value) / lamportsPerSol, nil
	}

	mint, err := MintFor(asset)
	if err != nil {
		return 0, err
	}

	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmount float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	err = c.Call(ctx, "getTokenAccountsByOwner", []any{
		owner,
		map[string]any{"mint": mint},
		map[string]any{"encoding": "jsonParsed"},
	}, &result)
	if err != nil {
		return 0, fmt.Errorf("solanarpc: token balance of %s: %w", owner, err)
	}

	var total float64
	for _, acct := range result.Value {
		total += acct.Account.Data.Parsed.Info.TokenAmount.UIAmount
	}
	return total, nil
}
