package solanarpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlin-quant/solarb/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestSolBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getBalance", req["method"])
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":1},"value":2500000000}}`))
	})

	bal, err := c.Balance(context.Background(), "owner", "SOL")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, bal, 1e-9)
}

func TestTokenBalanceSumsAccounts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getTokenAccountsByOwner", req.Method)
		require.Len(t, req.Params, 3)

		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[
			{"account":{"data":{"parsed":{"info":{"tokenAmount":{"uiAmount":120.5}}}}}},
			{"account":{"data":{"parsed":{"info":{"tokenAmount":{"uiAmount":30.0}}}}}}
		]}}`))
	})

	bal, err := c.Balance(context.Background(), "owner", "USDC")
	require.NoError(t, err)
	assert.InDelta(t, 150.5, bal, 1e-9)
}

func TestBalanceUnknownAsset(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	_, err := c.Balance(context.Background(), "owner", "DOGE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBalanceRPCErrorSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node is behind"}}`))
	})

	_, err := c.Balance(context.Background(), "owner", "SOL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node is behind")
}

func TestBalanceServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Balance(context.Background(), "owner", "SOL")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
}
