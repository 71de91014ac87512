// Package metrics collects counters from core events and fans events out to
// the log, the event bus, and operator alerts. Nothing here feeds back into
// trading decisions.
package metrics

import (
	"sync"
	"time"

	"github.com/dlin-quant/solarb/internal/domain"
)

// Report is a point-in-time snapshot of the collected counters.
type Report struct {
	Since                 time.Time
	OpportunitiesDetected int64
	TradesFilled          int64
	TradesCancelled       int64
	TradesExposed         int64
	TradesFailed          int64
	RealizedProfit        float64
	Rebalances            int64
	PositionsOrphaned     int64
	FeesHarvested         float64
	CircuitsOpened        int64
	Errors                int64
}

// Recorder accumulates counters from observed events. Safe for concurrent
// use.
type Recorder struct {
	mu     sync.Mutex
	report Report
}

// NewRecorder creates a Recorder with its window starting now.
func NewRecorder() *Recorder {
	return &Recorder{report: Report{Since: time.Now()}}
}

// Observe updates counters for one event.
func (r *Recorder) Observe(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Name {
	case domain.EventOpportunityDetected:
		r.report.OpportunitiesDetected++
	case domain.EventTradeExecuted:
		switch status, _ := ev.Fields["status"].(string); domain.ExecStatus(status) {
		case domain.ExecStatusFilled:
			r.report.TradesFilled++
			r.report.RealizedProfit += floatField(ev, "realized_profit")
		case domain.ExecStatusCancelled:
			r.report.TradesCancelled++
		case domain.ExecStatusExposed:
			r.report.TradesExposed++
		default:
			r.report.TradesFailed++
		}
	case domain.EventPositionRebalanced:
		r.report.Rebalances++
	case domain.EventPositionOrphaned:
		r.report.PositionsOrphaned++
	case domain.EventFeesHarvested:
		r.report.FeesHarvested += floatField(ev, "fees")
	case domain.EventCircuitOpened:
		r.report.CircuitsOpened++
	case domain.EventError:
		r.report.Errors++
	}
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// Reset zeroes the counters and restarts the window.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report = Report{Since: time.Now()}
}

func floatField(ev domain.Event, key string) float64 {
	switch v := ev.Fields[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
