package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlin-quant/solarb/internal/crypto"
	"github.com/dlin-quant/solarb/internal/domain"
	"github.com/dlin-quant/solarb/internal/venue/solanarpc"
)

func unsignedTx(message []byte) string {
	raw := make([]byte, 1+solanarpc.SigLen+len(message))
	raw[0] = 1
	copy(raw[1+solanarpc.SigLen:], message)
	return base64.StdEncoding.EncodeToString(raw)
}

func newTestClient(t *testing.T, quote, swap, rpc http.HandlerFunc) *Client {
	t.Helper()
	quoteSrv := httptest.NewServer(quote)
	t.Cleanup(quoteSrv.Close)
	swapSrv := httptest.NewServer(swap)
	t.Cleanup(swapSrv.Close)
	rpcSrv := httptest.NewServer(rpc)
	t.Cleanup(rpcSrv.Close)

	wallet, err := crypto.GenerateWallet()
	require.NoError(t, err)

	return NewClient(Config{
		QuoteURL: quoteSrv.URL,
		SwapURL:  swapSrv.URL,
		RpcURL:   rpcSrv.URL,
	}, wallet)
}

func TestGetPriceScalesByDecimals(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		// 1 SOL in lamports.
		assert.Equal(t, "1000000000", q.Get("amount"))
		assert.Equal(t, "So11111111111111111111111111111111111111112", q.Get("inputMint"))
		// 150 USDC in 6-decimal units.
		_, _ = w.Write([]byte(`{"outAmount": "150000000"}`))
	}, nil, nil)

	price, err := c.GetPrice(context.Background(), "SOL", "USDC")
	require.NoError(t, err)
	assert.InDelta(t, 150.0, price, 1e-9)
}

func TestExecuteSwapRoundTrip(t *testing.T) {
	var swapReq map[string]json.RawMessage
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"outAmount": "149500000", "routePlan": [{"pool": "x"}]}`))
	}, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&swapReq))
		resp := map[string]string{"swapTransaction": unsignedTx([]byte("jupiter swap"))}
		_ = json.NewEncoder(w).Encode(resp)
	}, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"jupsig"}`))
	})

	txID, err := c.ExecuteSwap(context.Background(), "SOL", "USDC", 1.0, 149.0)
	require.NoError(t, err)
	assert.Equal(t, "jupsig", txID)

	// The quote must be forwarded verbatim, including fields we don't model.
	require.Contains(t, swapReq, "quoteResponse")
	assert.Contains(t, string(swapReq["quoteResponse"]), "routePlan")
}

func TestExecuteSwapRejectsLowOutput(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"outAmount": "148000000"}`))
	}, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("swap endpoint must not be called when the quote is below minimum")
	}, nil)

	_, err := c.ExecuteSwap(context.Background(), "SOL", "USDC", 1.0, 149.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below minimum")
}

func TestLPOperationsUnsupported(t *testing.T) {
	c := newTestClient(t, nil, nil, nil)

	_, err := c.CreatePosition(context.Background(), domain.LPParams{})
	assert.ErrorIs(t, err, domain.ErrUnsupported)

	err = c.RebalancePosition(context.Background(), "p", 1, 2)
	assert.ErrorIs(t, err, domain.ErrUnsupported)

	_, _, err = c.WithdrawLiquidity(context.Background(), "p")
	assert.ErrorIs(t, err, domain.ErrUnsupported)

	_, err = c.HarvestFees(context.Background(), "p")
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}

func TestQuoteServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, nil, nil)

	_, err := c.GetPrice(context.Background(), "SOL", "USDC")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
}
