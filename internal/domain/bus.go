package domain

import (
	"context"
	"time"
)

// StreamMessage is a single entry read back from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus carries serialized events out of the process: pub/sub for live
// consumers and durable streams for replay.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}

// QuoteMirror exposes the freshest known quotes to out-of-process consumers.
// It mirrors the aggregator's in-memory cache and is never read by the core.
type QuoteMirror interface {
	SetQuote(ctx context.Context, q PriceQuote) error
	GetQuote(ctx context.Context, venue Venue, symbol string) (PriceQuote, error)
}

// LockManager provides distributed locking for actions that must not run on
// two hosts at once (e.g. reconciling the same orphaned position).
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when the
	// lock is owned elsewhere. The unlock function is safe to call twice.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
