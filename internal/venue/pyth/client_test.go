package pyth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlin-quant/solarb/internal/domain"
)

const (
	solFeed  = "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"
	usdcFeed = "eaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{HermesURL: srv.URL, MaxConfidenceRatio: 0.01})
}

func feedJSON(id, price, conf string, expo int) string {
	return fmt.Sprintf(`{"id": %q, "price": {"price": %q, "conf": %q, "expo": %d, "publish_time": 1700000000}}`,
		id, price, conf, expo)
}

func TestGetPriceWithConfidenceCombinesLegs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/updates/price/latest", r.URL.Path)
		ids := r.URL.Query()["ids[]"]
		assert.Len(t, ids, 2)
		// SOL at $150.00000000, USDC at $1.00000000, both expo -8.
		_, _ = w.Write([]byte(`{"parsed": [` +
			feedJSON(solFeed, "15000000000", "7500000", -8) + `,` +
			feedJSON(usdcFeed, "100000000", "10000", -8) + `]}`))
	})

	price, conf, err := c.GetPriceWithConfidence(context.Background(), "SOL/USDC")
	require.NoError(t, err)
	assert.InDelta(t, 150.0, price, 1e-6)
	// Relative confidence: 0.075/150 + 0.0001/1 = 0.0006; conf = 150 * 0.0006.
	assert.InDelta(t, 0.09, conf, 1e-6)
}

func TestWideConfidenceRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		// SOL conf of $3 on a $150 price is 2%, above the 1% bound.
		_, _ = w.Write([]byte(`{"parsed": [` +
			feedJSON(solFeed, "15000000000", "300000000", -8) + `,` +
			feedJSON(usdcFeed, "100000000", "10000", -8) + `]}`))
	})

	_, _, err := c.GetPriceWithConfidence(context.Background(), "SOL/USDC")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoPriceAvailable)
}

func TestMissingFeedRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"parsed": [` + feedJSON(solFeed, "15000000000", "7500000", -8) + `]}`))
	})

	_, _, err := c.GetPriceWithConfidence(context.Background(), "SOL/USDC")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoPriceAvailable)
}

func TestUnknownSymbolRejected(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	_, err := c.GetPrice(context.Background(), "DOGE/USDC")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.GetPrice(context.Background(), "SOLUSDC")
	assert.Error(t, err)
}

func TestFeedIDPrefixNormalised(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"parsed": [` +
			feedJSON("0x"+solFeed, "15000000000", "7500000", -8) + `,` +
			feedJSON("0x"+usdcFeed, "100000000", "10000", -8) + `]}`))
	})

	price, err := c.GetPrice(context.Background(), "SOL/USDC")
	require.NoError(t, err)
	assert.InDelta(t, 150.0, price, 1e-6)
}

func TestServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.GetPrice(context.Background(), "SOL/USDC")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
}
