package binance

import (
	"context"
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
	return NewClient(Config{
		BaseURL:   srv.URL,
		ApiKey:    "test-key",
		ApiSecret: "test-secret",
	})
}

func TestGetOrderBook(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "SOLUSDC", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{
			"bids": [["100.50", "3.0"], ["100.40", "5.0"]],
			"asks": [["100.60", "2.0"], ["100.70", "4.0"]]
		}`))
	})

	book, err := c.GetOrderBook(context.Background(), "SOL/USDC")
	require.NoError(t, err)
	assert.Equal(t, VenueName, book.Venue)
	assert.Equal(t, "SOL/USDC", book.Symbol)

	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.50, bid.Price)
	assert.Equal(t, 3.0, bid.Quantity)

	ask, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 100.60, ask.Price)
	assert.False(t, book.Crossed())
}

func TestPlaceOrderComputesVWAPFill(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
		q := r.URL.Query()
		assert.Equal(t, "SOLUSDC", q.Get("symbol"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "IOC", q.Get("timeInForce"))
		assert.NotEmpty(t, q.Get("signature"))
		assert.NotEmpty(t, q.Get("timestamp"))
		_, _ = w.Write([]byte(`{
			"orderId": 42,
			"status": "FILLED",
			"executedQty": "3.0",
			"cummulativeQuoteQty": "301.60",
			"fills": [
				{"price": "100.50", "qty": "2.0", "commission": "0.02"},
				{"price": "100.60", "qty": "1.0", "commission": "0.01"}
			]
		}`))
	})

	res, err := c.PlaceOrder(context.Background(), "SOL/USDC", domain.SideBuy, 100.60, 3.0)
	require.NoError(t, err)
	assert.Equal(t, "42", res.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, 3.0, res.FilledSize)
	assert.InDelta(t, 100.5333, res.FilledPrice, 1e-3)
	assert.InDelta(t, 0.03, res.FeePaid, 1e-9)
}

func TestPlaceOrderPartialFill(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"orderId": 7,
			"status": "EXPIRED",
			"executedQty": "1.5",
			"cummulativeQuoteQty": "150.75",
			"fills": []
		}`))
	})

	res, err := c.PlaceOrder(context.Background(), "SOL/USDC", domain.SideSell, 100.50, 3.0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, res.Status)
	assert.Equal(t, 1.5, res.FilledSize)
	assert.InDelta(t, 100.50, res.FilledPrice, 1e-9)
}

func TestAuthErrorMapsToSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code": -2014, "msg": "API-key format invalid."}`))
	})

	_, err := c.PlaceOrder(context.Background(), "SOL/USDC", domain.SideBuy, 100, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
	assert.False(t, domain.Transient(err))
}

func TestRateLimitMapsToVenueUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code": -1003, "msg": "Too many requests."}`))
	})

	_, err := c.GetOrderBook(context.Background(), "SOL/USDC")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
	assert.True(t, domain.Transient(err))
}

func TestInsufficientBalanceMapsToSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": -2010, "msg": "Account has insufficient balance."}`))
	})

	_, err := c.PlaceOrder(context.Background(), "SOL/USDC", domain.SideBuy, 100, 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.True(t, domain.Fatal(err))
}

func TestCancelFilledOrderMapsToAlreadyFilled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": -2011, "msg": "Unknown order sent."}`))
	})

	err := c.CancelOrder(context.Background(), "SOL/USDC", "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAlreadyFilled)
}

func TestGetBalanceFindsAsset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"balances": [
				{"asset": "SOL", "free": "12.5", "locked": "0"},
				{"asset": "USDC", "free": "1500.0", "locked": "10"}
			]
		}`))
	})

	bal, err := c.GetBalance(context.Background(), "USDC")
	require.NoError(t, err)
	assert.Equal(t, 1500.0, bal)

	missing, err := c.GetBalance(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Zero(t, missing)
}

func TestGetRecentTrades(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": 1, "price": "100.5", "qty": "2.0", "time": 1700000000000, "isBuyerMaker": false},
			{"id": 2, "price": "100.6", "qty": "1.0", "time": 1700000001000, "isBuyerMaker": true}
		]`))
	})

	trades, err := c.GetRecentTrades(context.Background(), "SOL/USDC")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.Equal(t, domain.SideSell, trades[1].Side)
	assert.Equal(t, 100.5, trades[0].Price)
}
