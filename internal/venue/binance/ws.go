package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dlin-quant/solarb/internal/domain"
)

const (
	// wsHandshakeTimeout bounds the dial.
	wsHandshakeTimeout = 15 * time.Second

	// wsReadWait is the maximum silence tolerated on the stream. The server
	// pings every few minutes; the default ping handler answers and the
	// deadline is pushed forward on every frame.
	wsReadWait = 5 * time.Minute
)

// bookTickerMsg is the payload of the <symbol>@bookTicker stream.
type bookTickerMsg struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// StreamQuotes subscribes to the top-of-book ticker stream for the symbol.
// The returned channel closes when ctx is cancelled or the connection drops;
// the aggregator resubscribes.
func (c *Client) StreamQuotes(ctx context.Context, symbol string) (<-chan domain.PriceQuote, error) {
	streamURL := fmt.Sprintf("%s/%s@bookTicker",
		strings.TrimRight(c.wsURL, "/"),
		strings.ToLower(binanceSymbol(symbol)))

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: dial stream %s: %w: %w", symbol, err, domain.ErrVenueUnavailable)
	}

	out := make(chan domain.PriceQuote, 16)
	go c.readQuotes(ctx, conn, symbol, out)
	return out, nil
}

func (c *Client) readQuotes(ctx context.Context, conn *websocket.Conn, symbol string, out chan<- domain.PriceQuote) {
	defer close(out)
	defer conn.Close()

	// Unblock the read loop when ctx ends.
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
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsHandshakeTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))

		var msg bookTickerMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		bid, err1 := strconv.ParseFloat(msg.BidPrice, 64)
		ask, err2 := strconv.ParseFloat(msg.AskPrice, 64)
		if err1 != nil || err2 != nil || bid <= 0 || ask <= 0 {
			continue
		}

		quote := domain.PriceQuote{
			Venue:     VenueName,
			Symbol:    symbol,
			Price:     (bid + ask) / 2,
			Bid:       bid,
			Ask:       ask,
			Timestamp: time.Now().UTC(),
		}

		select {
		case out <- quote:
		case <-ctx.Done():
			return
		}
	}
}

// Compile-time interface check.
var _ domain.QuoteStreamer = (*Client)(nil)
