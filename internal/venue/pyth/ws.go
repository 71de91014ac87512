package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dlin-quant/solarb/internal/domain"
)

const (
	// wsHandshakeTimeout bounds the dial.
	wsHandshakeTimeout = 15 * time.Second

	// wsReadWait is the maximum silence tolerated on the stream.
	wsReadWait = 2 * time.Minute
)

// wsMessage is one Hermes stream frame.
type wsMessage struct {
	Type      string `json:"type"`
	PriceFeed struct {
		ID    string      `json:"id"`
		Price hermesPrice `json:"price"`
	} `json:"price_feed"`
}

// StreamQuotes subscribes to both of the pair's USD feeds and emits a
// combined pair quote whenever either leg updates, once both legs have been
// seen. The channel closes when ctx ends or the connection drops; the
// aggregator resubscribes.
func (c *Client) StreamQuotes(ctx context.Context, symbol string) (<-chan domain.PriceQuote, error) {
	baseFeed, quoteFeed, err := pairFeeds(symbol)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("pyth: dial stream: %w: %w", err, domain.ErrVenueUnavailable)
	}

	sub := map[string]any{
		"type": "subscribe",
		"ids":  []string{baseFeed, quoteFeed},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pyth: subscribe: %w: %w", err, domain.ErrVenueUnavailable)
	}

	out := make(chan domain.PriceQuote, 16)
	go c.readQuotes(ctx, conn, symbol, baseFeed, quoteFeed, out)
	return out, nil
}

func (c *Client) readQuotes(ctx context.Context, conn *websocket.Conn, symbol, baseFeed, quoteFeed string, out chan<- domain.PriceQuote) {
	defer close(out)
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))

	var base, quote feedPrice
	var haveBase, haveQuote bool

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "price_update" {
			continue
		}

		fp, err := msg.PriceFeed.Price.toFeedPrice()
		if err != nil {
			continue
		}

		switch strings.TrimPrefix(msg.PriceFeed.ID, "0x") {
		case baseFeed:
			base, haveBase = fp, true
		case quoteFeed:
			quote, haveQuote = fp, true
		default:
			continue
		}
		if !haveBase || !haveQuote {
			continue
		}

		price, conf, err := combine(base, quote)
		if err != nil || conf/price > c.maxConfidenceRatio {
			continue
		}

		pq := domain.PriceQuote{
			Venue:      VenueName,
			Symbol:     symbol,
			Price:      price,
			Confidence: conf,
			Timestamp:  time.Now().UTC(),
		}

		select {
		case out <- pq:
		case <-ctx.Done():
			return
		}
	}
}

// Compile-time interface check.
var _ domain.QuoteStreamer = (*Client)(nil)
