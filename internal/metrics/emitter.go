package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dlin-quant/solarb/internal/domain"
)

// eventStream is the durable stream all events are appended to for replay.
const eventStream = "events"

// busTimeout bounds how long a background publish may run. The emitter must
// never block a core loop on a slow bus.
const busTimeout = 2 * time.Second

// Alerter delivers operator-facing alerts. Satisfied by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Emitter fans core events out to the structured log, the counters recorder,
// the event bus, and the operator alerter. All sinks except the recorder are
// optional.
type Emitter struct {
	recorder *Recorder
	bus      domain.EventBus
	alerter  Alerter
	logger   *slog.Logger
}

// NewEmitter creates an Emitter. bus and alerter may be nil.
func NewEmitter(recorder *Recorder, bus domain.EventBus, alerter Alerter, logger *slog.Logger) *Emitter {
	return &Emitter{
		recorder: recorder,
		bus:      bus,
		alerter:  alerter,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// Emit records, logs, and forwards one event. Bus and alert delivery happen
// in the background; Emit itself never blocks.
func (e *Emitter) Emit(ev domain.Event) {
	e.recorder.Observe(ev)
	e.log(ev)

	if e.bus != nil {
		go e.publish(ev)
	}
	if e.alerter != nil && alertWorthy(ev.Name) {
		go e.alert(ev)
	}
}

func (e *Emitter) log(ev domain.Event) {
	attrs := make([]any, 0, len(ev.Fields)+1)
	attrs = append(attrs, slog.String("event", ev.Name))
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}

	switch ev.Name {
	case domain.EventError:
		e.logger.Error("event", attrs...)
	case domain.EventPositionOrphaned, domain.EventCircuitOpened:
		e.logger.Warn("event", attrs...)
	default:
		e.logger.Info("event", attrs...)
	}
}

func (e *Emitter) publish(ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Warn("event marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, "events:"+ev.Name, payload); err != nil {
		e.logger.Warn("event publish failed", slog.String("error", err.Error()))
	}
	if err := e.bus.StreamAppend(ctx, eventStream, payload); err != nil {
		e.logger.Warn("event stream append failed", slog.String("error", err.Error()))
	}
}

func (e *Emitter) alert(ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()

	title, message := formatAlert(ev)
	if err := e.alerter.Notify(ctx, ev.Name, title, message); err != nil {
		e.logger.Warn("alert delivery failed", slog.String("error", err.Error()))
	}
}

// alertWorthy reports whether operators should be paged for this event.
// Routine activity (quotes, detections, fills) stays in the log.
func alertWorthy(name string) bool {
	switch name {
	case domain.EventPositionOrphaned, domain.EventCircuitOpened, domain.EventError:
		return true
	}
	return false
}

func formatAlert(ev domain.Event) (title, message string) {
	switch ev.Name {
	case domain.EventPositionOrphaned:
		title = "LP position orphaned"
	case domain.EventCircuitOpened:
		title = "Venue circuit opened"
	case domain.EventError:
		title = "Error"
	default:
		title = ev.Name
	}

	body := ""
	for k, v := range ev.Fields {
		body += fmt.Sprintf("%s=%v ", k, v)
	}
	return title, body
}

// Compile-time interface check.
var _ domain.Emitter = (*Emitter)(nil)
