package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlin-quant/solarb/internal/domain"
)

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{
		published: make(map[string][][]byte),
		streams:   make(map[string][][]byte),
	}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, domain.ErrUnsupported
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) publishedTo(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[channel]
}

func (b *memBus) streamLen(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[stream])
}

type memAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *memAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAlerter) seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func TestEmitterFansOutToBusAndRecorder(t *testing.T) {
	bus := newMemBus()
	rec := NewRecorder()
	e := NewEmitter(rec, bus, nil, slog.New(slog.DiscardHandler))

	e.Emit(domain.Event{
		Name:   domain.EventOpportunityDetected,
		At:     time.Now(),
		Fields: map[string]any{"symbol": "SOL/USDC"},
	})

	assert.Equal(t, int64(1), rec.Snapshot().OpportunitiesDetected)

	require.Eventually(t, func() bool {
		return len(bus.publishedTo("events:opportunity_detected")) == 1 &&
			bus.streamLen(eventStream) == 1
	}, time.Second, 10*time.Millisecond)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(bus.publishedTo("events:opportunity_detected")[0], &ev))
	assert.Equal(t, domain.EventOpportunityDetected, ev.Name)
	assert.Equal(t, "SOL/USDC", ev.Fields["symbol"])
}

func TestEmitterAlertsOnlyOnSevereEvents(t *testing.T) {
	alerter := &memAlerter{}
	e := NewEmitter(NewRecorder(), nil, alerter, slog.New(slog.DiscardHandler))

	e.Emit(domain.Event{Name: domain.EventOpportunityDetected})
	e.Emit(domain.Event{Name: domain.EventTradeExecuted, Fields: map[string]any{"status": "filled"}})
	e.Emit(domain.Event{Name: domain.EventPositionOrphaned, Fields: map[string]any{"position_id": "p1"}})
	e.Emit(domain.Event{Name: domain.EventCircuitOpened, Fields: map[string]any{"venue": "binance"}})

	require.Eventually(t, func() bool {
		return len(alerter.seen()) == 2
	}, time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t,
		[]string{domain.EventPositionOrphaned, domain.EventCircuitOpened},
		alerter.seen())
}
