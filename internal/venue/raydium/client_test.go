package raydium

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlin-quant/solarb/internal/crypto"
	"github.com/dlin-quant/solarb/internal/domain"
	"github.com/dlin-quant/solarb/internal/venue/solanarpc"
)

const sigLen = solanarpc.SigLen

// unsignedTx builds a single-signer legacy transaction blob with a zeroed
// signature slot around the given message.
func unsignedTx(message []byte) string {
	raw := make([]byte, 1+sigLen+len(message))
	raw[0] = 1
	copy(raw[1+sigLen:], message)
	return base64.StdEncoding.EncodeToString(raw)
}

func newTestClient(t *testing.T, api, rpc http.HandlerFunc) (*Client, *crypto.Wallet) {
	t.Helper()
	apiSrv := httptest.NewServer(api)
	t.Cleanup(apiSrv.Close)
	rpcSrv := httptest.NewServer(rpc)
	t.Cleanup(rpcSrv.Close)

	wallet, err := crypto.GenerateWallet()
	require.NoError(t, err)

	return NewClient(Config{RpcURL: rpcSrv.URL, ApiURL: apiSrv.URL}, wallet), wallet
}

func TestGetPriceDividesMintPrices(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mint/price", r.URL.Path)
		_, _ = w.Write([]byte(`{"data": {
			"So11111111111111111111111111111111111111112": "150.0",
			"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "1.0"
		}}`))
	}, func(http.ResponseWriter, *http.Request) {})

	price, err := c.GetPrice(context.Background(), "SOL", "USDC")
	require.NoError(t, err)
	assert.Equal(t, 150.0, price)
}

func TestGetPriceUnknownToken(t *testing.T) {
	c, _ := newTestClient(t,
		func(http.ResponseWriter, *http.Request) {},
		func(http.ResponseWriter, *http.Request) {})

	_, err := c.GetPrice(context.Background(), "DOGE", "USDC")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetPriceMissingMint(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": {
			"So11111111111111111111111111111111111111112": "150.0"
		}}`))
	}, func(http.ResponseWriter, *http.Request) {})

	_, err := c.GetPrice(context.Background(), "SOL", "USDC")
	assert.ErrorIs(t, err, domain.ErrNoPriceAvailable)
}

func TestExecuteSwapSignsAndSubmits(t *testing.T) {
	message := []byte("swap transaction message bytes")

	var sentTx string
	c, wallet := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/swap-base-in", r.URL.Path)
		resp := map[string]any{
			"data": []map[string]string{{"transaction": unsignedTx(message)}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sendTransaction", req.Method)
		sentTx, _ = req.Params[0].(string)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"txsig123"}`))
	})

	txID, err := c.ExecuteSwap(context.Background(), "SOL", "USDC", 1.0, 148.0)
	require.NoError(t, err)
	assert.Equal(t, "txsig123", txID)

	// The submitted transaction must carry a valid signature over the message.
	raw, err := base64.StdEncoding.DecodeString(sentTx)
	require.NoError(t, err)
	require.Equal(t, byte(1), raw[0])
	pub, err := base58.Decode(wallet.PublicKey())
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), raw[1+sigLen:], raw[1:1+sigLen]))
}

func TestCreatePositionReturnsMint(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/clmm/position/open", r.URL.Path)
		resp := map[string]any{
			"data": map[string]string{
				"transaction":  unsignedTx([]byte("open position")),
				"positionMint": "PosMint111",
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"sig"}`))
	})

	id, err := c.CreatePosition(context.Background(), domain.LPParams{
		TokenA: "SOL", TokenB: "USDC",
		AmountA: 10, AmountB: 1500,
		MinPrice: 140, MaxPrice: 160,
	})
	require.NoError(t, err)
	assert.Equal(t, "PosMint111", id)
}

func TestWithdrawLiquidityReturnsAmounts(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/clmm/position/withdraw", r.URL.Path)
		resp := map[string]any{
			"data": map[string]string{
				"transaction": unsignedTx([]byte("withdraw")),
				"amountA":     "9.8",
				"amountB":     "1520.5",
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"sig"}`))
	})

	a, b, err := c.WithdrawLiquidity(context.Background(), "PosMint111")
	require.NoError(t, err)
	assert.Equal(t, 9.8, a)
	assert.Equal(t, 1520.5, b)
}

func TestRPCErrorSurfaces(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{
			"data": map[string]string{
				"transaction": unsignedTx([]byte("harvest")),
				"feeValue":    "1.2",
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Blockhash not found"}}`))
	})

	_, err := c.HarvestFees(context.Background(), "PosMint111")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Blockhash not found")
}

func TestAPIServerErrorIsTransient(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(http.ResponseWriter, *http.Request) {})

	_, err := c.GetPrice(context.Background(), "SOL", "USDC")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
	assert.True(t, domain.Transient(err))
}
