package domain

import "time"

// Event names published to the metrics collaborator. Payloads are
// JSON-encoded maps keyed by the fields below.
const (
	EventOpportunityDetected = "opportunity_detected"
	EventTradeExecuted       = "trade_executed"
	EventPositionRebalanced  = "position_rebalanced"
	EventPositionOrphaned    = "position_orphaned"
	EventFeesHarvested       = "fees_harvested"
	EventCircuitOpened       = "venue_circuit_opened"
	EventCircuitClosed       = "venue_circuit_closed"
	EventError               = "error"
)

// Event is a structured notification emitted by core components. Consumers
// (metrics sink, event bus) never mutate core state.
type Event struct {
	Name   string         `json:"name"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Emitter receives events from the core. Implementations must be safe for
// concurrent use and must never block a core loop indefinitely.
type Emitter interface {
	Emit(ev Event)
}

// NopEmitter discards all events. Useful as a default and in tests.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}
