package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dlin-quant/solarb/internal/domain"
)

func TestRecorderCountsByOutcome(t *testing.T) {
	r := NewRecorder()

	r.Observe(domain.Event{Name: domain.EventOpportunityDetected})
	r.Observe(domain.Event{Name: domain.EventOpportunityDetected})
	r.Observe(domain.Event{
		Name:   domain.EventTradeExecuted,
		Fields: map[string]any{"status": "filled", "realized_profit": 3.5},
	})
	r.Observe(domain.Event{
		Name:   domain.EventTradeExecuted,
		Fields: map[string]any{"status": "filled", "realized_profit": 1.25},
	})
	r.Observe(domain.Event{
		Name:   domain.EventTradeExecuted,
		Fields: map[string]any{"status": "exposed"},
	})
	r.Observe(domain.Event{
		Name:   domain.EventTradeExecuted,
		Fields: map[string]any{"status": "cancelled"},
	})
	r.Observe(domain.Event{
		Name:   domain.EventTradeExecuted,
		Fields: map[string]any{"status": "failed"},
	})

	rep := r.Snapshot()
	assert.Equal(t, int64(2), rep.OpportunitiesDetected)
	assert.Equal(t, int64(2), rep.TradesFilled)
	assert.Equal(t, int64(1), rep.TradesExposed)
	assert.Equal(t, int64(1), rep.TradesCancelled)
	assert.Equal(t, int64(1), rep.TradesFailed)
	assert.InDelta(t, 4.75, rep.RealizedProfit, 1e-9)
}

func TestRecorderLPAndHealthEvents(t *testing.T) {
	r := NewRecorder()

	r.Observe(domain.Event{Name: domain.EventPositionRebalanced})
	r.Observe(domain.Event{Name: domain.EventPositionOrphaned})
	r.Observe(domain.Event{Name: domain.EventFeesHarvested, Fields: map[string]any{"fees": 0.75}})
	r.Observe(domain.Event{Name: domain.EventFeesHarvested, Fields: map[string]any{"fees": 0.25}})
	r.Observe(domain.Event{Name: domain.EventCircuitOpened})
	r.Observe(domain.Event{Name: domain.EventError})

	rep := r.Snapshot()
	assert.Equal(t, int64(1), rep.Rebalances)
	assert.Equal(t, int64(1), rep.PositionsOrphaned)
	assert.InDelta(t, 1.0, rep.FeesHarvested, 1e-9)
	assert.Equal(t, int64(1), rep.CircuitsOpened)
	assert.Equal(t, int64(1), rep.Errors)
}

func TestRecorderReset(t *testing.T) {
	r := NewRecorder()
	r.Observe(domain.Event{Name: domain.EventError})

	before := r.Snapshot()
	assert.Equal(t, int64(1), before.Errors)

	r.Reset()
	after := r.Snapshot()
	assert.Zero(t, after.Errors)
	assert.False(t, after.Since.Before(before.Since))
}

func TestRecorderIgnoresUnknownFieldTypes(t *testing.T) {
	r := NewRecorder()
	r.Observe(domain.Event{
		Name:   domain.EventTradeExecuted,
		Fields: map[string]any{"status": "filled", "realized_profit": "not-a-number"},
	})

	rep := r.Snapshot()
	assert.Equal(t, int64(1), rep.TradesFilled)
	assert.Zero(t, rep.RealizedProfit)
	assert.WithinDuration(t, time.Now(), rep.Since, time.Minute)
}
