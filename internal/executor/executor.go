// Package executor turns detected opportunities into coordinated two-leg
// trades without leaving unreconciled exposure.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dlin-quant/solarb/internal/domain"
)

// OrderPlacer is the per-venue interface through which legs are submitted.
// CEX adapters satisfy it directly; DEX adapters are wrapped at wiring time.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, symbol string, side domain.Side, price, quantity float64) (domain.OrderResult, error)
	// CancelOrder returns domain.ErrAlreadyFilled when the order completed
	// before the cancellation was accepted.
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetBalance(ctx context.Context, asset string) (float64, error)
}

// Config holds execution parameters.
type Config struct {
	// Deadline bounds both legs of a single execution attempt.
	Deadline time.Duration
	// MaxOpportunityAge rejects opportunities detected too long ago.
	MaxOpportunityAge time.Duration
	// MaxRetries bounds retry attempts for transient venue errors on a
	// single leg; Backoff is the initial delay, doubled per attempt.
	MaxRetries int
	Backoff    time.Duration
}

// Executor owns in-flight execution state for the duration of each trade.
type Executor struct {
	cfg     Config
	venues  map[domain.Venue]OrderPlacer
	execs   domain.ExecutionStore
	expos   domain.ExposureStore
	opps    domain.OpportunityStore
	emitter domain.Emitter
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Executor. The store and emitter arguments may be nil except
// expos: exposure records must never be droppable, so an exposure store is
// mandatory.
func New(
	cfg Config,
	venues map[domain.Venue]OrderPlacer,
	execs domain.ExecutionStore,
	expos domain.ExposureStore,
	opps domain.OpportunityStore,
	emitter domain.Emitter,
	logger *slog.Logger,
) *Executor {
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	return &Executor{
		cfg:     cfg,
		venues:  venues,
		execs:   execs,
		expos:   expos,
		opps:    opps,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "executor")),
		now:     time.Now,
	}
}

// Run consumes opportunities from in until ctx is cancelled or the channel
// closes. Failures on one opportunity never abort the loop.
func (e *Executor) Run(ctx context.Context, in <-chan domain.Opportunity) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := e.Execute(ctx, opp); err != nil {
				e.logger.Warn("execution failed",
					slog.String("opp_id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Execute runs both legs of opp. The returned Execution is recorded and an
// event is emitted regardless of outcome.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity) (domain.Execution, error) {
	exec := domain.Execution{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		Symbol:        opp.Symbol,
		EstProfit:     opp.EstNetProfit * opp.TradableSize,
		StartedAt:     e.now().UTC(),
		BuyLeg: domain.ExecLeg{
			Venue: opp.BuyVenue, Symbol: opp.Symbol, Side: domain.SideBuy,
			Price: opp.BuyPrice, Size: opp.TradableSize,
		},
		SellLeg: domain.ExecLeg{
			Venue: opp.SellVenue, Symbol: opp.Symbol, Side: domain.SideSell,
			Price: opp.SellPrice, Size: opp.TradableSize,
		},
	}

	if err := e.preflight(ctx, opp); err != nil {
		exec.Status = domain.ExecStatusFailed
		e.finish(ctx, &exec, false)
		return exec, err
	}

	legCtx, cancel := context.WithTimeout(ctx, e.cfg.Deadline)
	defer cancel()

	// Both legs run concurrently; the join is bounded by the deadline. A
	// failing leg does not cancel its sibling here; the reconciliation
	// below decides what to cancel once both outcomes are known.
	var g errgroup.Group
	g.Go(func() error { return e.placeLeg(legCtx, &exec.BuyLeg) })
	g.Go(func() error { return e.placeLeg(legCtx, &exec.SellLeg) })
	_ = g.Wait()

	buyFilled := exec.BuyLeg.Status.Filled()
	sellFilled := exec.SellLeg.Status.Filled()

	switch {
	case buyFilled && sellFilled:
		e.settleFilled(ctx, &exec, opp.ID)
		return exec, nil

	case !buyFilled && !sellFilled:
		// Neither side filled; cancel whatever was submitted. A fill racing
		// a cancel converts that leg into exposure, or completes the trade
		// when both cancels lose the race.
		e.cancelLeg(ctx, &exec, &exec.BuyLeg)
		e.cancelLeg(ctx, &exec, &exec.SellLeg)
		buyFilled = exec.BuyLeg.Status.Filled()
		sellFilled = exec.SellLeg.Status.Filled()
		if buyFilled && sellFilled {
			e.settleFilled(ctx, &exec, opp.ID)
			return exec, nil
		}
		if buyFilled != sellFilled {
			filled := &exec.SellLeg
			if buyFilled {
				filled = &exec.BuyLeg
			}
			exec.Status = domain.ExecStatusExposed
			e.recordExposure(ctx, &exec, filled, "fill raced cancellation")
			e.finish(ctx, &exec, false)
			return exec, fmt.Errorf("execute %s: %w", opp.ID, domain.ErrPartialFillMismatch)
		}
		if exec.Status != domain.ExecStatusExposed {
			exec.Status = domain.ExecStatusCancelled
		}
		e.finish(ctx, &exec, false)
		return exec, fmt.Errorf("execute %s: both legs failed", opp.ID)

	default:
		// Exactly one leg filled: try to cancel the other, then record the
		// filled side as open exposure. Never retried automatically.
		filled, unfilled := &exec.SellLeg, &exec.BuyLeg
		if buyFilled {
			filled, unfilled = &exec.BuyLeg, &exec.SellLeg
		}
		e.cancelLeg(ctx, &exec, unfilled)
		if unfilled.Status.Filled() {
			// The cancel lost the race and both sides are now filled.
			e.settleFilled(ctx, &exec, opp.ID)
			return exec, nil
		}
		exec.Status = domain.ExecStatusExposed
		e.recordExposure(ctx, &exec, filled, "leg "+string(unfilled.Venue)+" unfilled: "+unfilled.Error)
		e.finish(ctx, &exec, false)
		return exec, fmt.Errorf("execute %s: %w", opp.ID, domain.ErrPartialFillMismatch)
	}
}

// settleFilled finalizes an execution whose legs both landed, wherever in the
// reconciliation that was discovered.
func (e *Executor) settleFilled(ctx context.Context, exec *domain.Execution, oppID string) {
	exec.Status = domain.ExecStatusFilled
	exec.RealizedProfit = exec.SellLeg.FilledPrice*exec.SellLeg.FilledSize -
		exec.BuyLeg.FilledPrice*exec.BuyLeg.FilledSize -
		exec.BuyLeg.FeePaid - exec.SellLeg.FeePaid
	if e.opps != nil {
		if err := e.opps.MarkExecuted(ctx, oppID); err != nil {
			e.logger.Warn("mark executed failed", slog.String("error", err.Error()))
		}
	}
	e.finish(ctx, exec, true)
}

// preflight re-checks staleness and balances before committing any order.
func (e *Executor) preflight(ctx context.Context, opp domain.Opportunity) error {
	if age := opp.Age(e.now()); age > e.cfg.MaxOpportunityAge {
		return fmt.Errorf("opportunity %s aged %s: %w", opp.ID, age, domain.ErrStalePrice)
	}

	buyVenue, ok := e.venues[opp.BuyVenue]
	if !ok {
		return fmt.Errorf("no adapter for venue %s", opp.BuyVenue)
	}
	sellVenue, ok := e.venues[opp.SellVenue]
	if !ok {
		return fmt.Errorf("no adapter for venue %s", opp.SellVenue)
	}

	base, quote := splitSymbol(opp.Symbol)

	// Buying needs quote currency on the buy venue; selling needs base
	// inventory on the sell venue.
	quoteBal, err := buyVenue.GetBalance(ctx, quote)
	if err != nil {
		return fmt.Errorf("balance %s on %s: %w", quote, opp.BuyVenue, err)
	}
	if quoteBal < opp.BuyPrice*opp.TradableSize {
		return fmt.Errorf("%s on %s: have %.8f need %.8f: %w",
			quote, opp.BuyVenue, quoteBal, opp.BuyPrice*opp.TradableSize, domain.ErrInsufficientBalance)
	}
	baseBal, err := sellVenue.GetBalance(ctx, base)
	if err != nil {
		return fmt.Errorf("balance %s on %s: %w", base, opp.SellVenue, err)
	}
	if baseBal < opp.TradableSize {
		return fmt.Errorf("%s on %s: have %.8f need %.8f: %w",
			base, opp.SellVenue, baseBal, opp.TradableSize, domain.ErrInsufficientBalance)
	}
	return nil
}

// placeLeg submits one leg, retrying transient errors with bounded backoff.
// Authentication and balance errors abort immediately.
func (e *Executor) placeLeg(ctx context.Context, leg *domain.ExecLeg) error {
	venue := e.venues[leg.Venue]
	backoff := e.cfg.Backoff

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				leg.Error = ctx.Err().Error()
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		res, err := venue.PlaceOrder(ctx, leg.Symbol, leg.Side, leg.Price, leg.Size)
		if err == nil {
			leg.OrderID = res.OrderID
			leg.Status = res.Status
			leg.FilledSize = res.FilledSize
			leg.FilledPrice = res.FilledPrice
			leg.FeePaid = res.FeePaid
			return nil
		}
		lastErr = err
		if domain.Fatal(err) || !domain.Transient(err) {
			break
		}
		e.logger.Debug("transient leg error, retrying",
			slog.String("venue", string(leg.Venue)),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	leg.Status = domain.OrderStatusRejected
	leg.Error = lastErr.Error()
	return lastErr
}

// cancelLeg cancels a submitted-but-unfilled leg. When the venue reports the
// order already filled, the leg is upgraded to filled so the caller can route
// it to the exposure path.
func (e *Executor) cancelLeg(ctx context.Context, exec *domain.Execution, leg *domain.ExecLeg) {
	if leg.OrderID == "" || leg.Status.Filled() {
		return
	}
	venue := e.venues[leg.Venue]
	err := venue.CancelOrder(ctx, leg.Symbol, leg.OrderID)
	switch {
	case err == nil:
		leg.Status = domain.OrderStatusCancelled
	case domain.Transient(err):
		// Outcome unknown: assume the worst and record exposure.
		exec.Status = domain.ExecStatusExposed
		e.recordExposure(ctx, exec, leg, "cancel outcome unknown: "+err.Error())
	default:
		// ErrAlreadyFilled and friends: the order went through.
		if leg.FilledSize == 0 {
			leg.FilledSize = leg.Size
			leg.FilledPrice = leg.Price
		}
		leg.Status = domain.OrderStatusFilled
	}
}

// recordExposure persists the filled leg as an open exposure. It is never
// dropped even when the store write fails; a failed write escalates to error
// logging plus an error event so reconciliation can still find it.
func (e *Executor) recordExposure(ctx context.Context, exec *domain.Execution, leg *domain.ExecLeg, reason string) {
	size, price := leg.FilledSize, leg.FilledPrice
	if size == 0 {
		// Unknown fill state: assume the full leg is exposed.
		size, price = leg.Size, leg.Price
	}
	exp := domain.Exposure{
		ID:            uuid.New().String(),
		OpportunityID: exec.OpportunityID,
		Symbol:        leg.Symbol,
		Venue:         leg.Venue,
		Side:          leg.Side,
		Size:          size,
		Price:         price,
		OrderID:       leg.OrderID,
		Reason:        reason,
		CreatedAt:     e.now().UTC(),
	}
	if err := e.expos.Create(ctx, exp); err != nil {
		e.logger.Error("exposure record failed",
			slog.String("exposure_id", exp.ID),
			slog.String("error", err.Error()),
		)
		e.emitter.Emit(domain.Event{
			Name: domain.EventError,
			At:   e.now().UTC(),
			Fields: map[string]any{
				"kind":        "exposure_record_failed",
				"venue":       string(leg.Venue),
				"exposure_id": exp.ID,
			},
		})
		return
	}
	e.logger.Warn("open exposure recorded",
		slog.String("exposure_id", exp.ID),
		slog.String("venue", string(leg.Venue)),
		slog.String("side", string(leg.Side)),
		slog.Float64("size", exp.Size),
	)
}

// finish stamps the execution, records it, and emits the trade event. Every
// attempt, regardless of outcome, goes through here exactly once.
func (e *Executor) finish(ctx context.Context, exec *domain.Execution, success bool) {
	done := e.now().UTC()
	exec.CompletedAt = &done

	if e.execs != nil {
		if err := e.execs.Create(ctx, *exec); err != nil {
			e.logger.Warn("execution record failed", slog.String("error", err.Error()))
		}
	}
	e.emitter.Emit(domain.Event{
		Name: domain.EventTradeExecuted,
		At:   done,
		Fields: map[string]any{
			"execution_id":    exec.ID,
			"opp_id":          exec.OpportunityID,
			"symbol":          exec.Symbol,
			"status":          string(exec.Status),
			"success":         success,
			"buy_venue":       string(exec.BuyLeg.Venue),
			"sell_venue":      string(exec.SellLeg.Venue),
			"buy_price":       exec.BuyLeg.FilledPrice,
			"sell_price":      exec.SellLeg.FilledPrice,
			"size":            exec.BuyLeg.Size,
			"est_profit":      exec.EstProfit,
			"realized_profit": exec.RealizedProfit,
		},
	})
}

// splitSymbol breaks "SOL/USDC" into base and quote assets.
func splitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return symbol, symbol
	}
	return parts[0], parts[1]
}
