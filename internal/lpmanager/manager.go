// Package lpmanager tracks liquidity positions on a DEX and decides when to
// rebalance their price ranges and harvest fees.
package lpmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dlin-quant/solarb/internal/domain"
)

// MarketData supplies the price and volatility inputs for range decisions.
// Implemented by the price aggregator.
type MarketData interface {
	BestPrice(symbol string, side domain.Side) (domain.VenuePrice, error)
	OraclePrice(symbol string) (float64, error)
	Volatility(symbol string) float64
}

// Config holds position management parameters.
type Config struct {
	// RebalanceThreshold is the price deviation fraction at which a
	// rebalance fires. The boundary is inclusive: deviation equal to the
	// threshold triggers.
	RebalanceThreshold float64
	TimeHorizonHours   float64
	CheckInterval      time.Duration
	HarvestInterval    time.Duration
	MaxPositions       int
}

// Manager exclusively owns each position's status field. All mutation happens
// under a per-position lock; two rebalances on the same id can never overlap.
type Manager struct {
	cfg     Config
	dex     domain.DexVenue
	market  MarketData
	store   domain.LPPositionStore
	emitter domain.Emitter
	logger  *slog.Logger

	mu        sync.RWMutex
	positions map[string]*domain.LPPosition

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	now func() time.Time
}

// New creates a Manager. store and emitter may be nil.
func New(
	cfg Config,
	dex domain.DexVenue,
	market MarketData,
	store domain.LPPositionStore,
	emitter domain.Emitter,
	logger *slog.Logger,
) *Manager {
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	return &Manager{
		cfg:       cfg,
		dex:       dex,
		market:    market,
		store:     store,
		emitter:   emitter,
		logger:    logger.With(slog.String("component", "lp_manager")),
		positions: make(map[string]*domain.LPPosition),
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

// lock returns the mutex owning position id.
func (m *Manager) lock(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// currentPrice resolves the working price for a token pair: blended oracle
// price when available, otherwise the midpoint of the best bid and ask.
func (m *Manager) currentPrice(symbol string) (float64, error) {
	if p, err := m.market.OraclePrice(symbol); err == nil {
		return p, nil
	}
	bid, errBid := m.market.BestPrice(symbol, domain.SideSell)
	ask, errAsk := m.market.BestPrice(symbol, domain.SideBuy)
	switch {
	case errBid == nil && errAsk == nil:
		return (bid.Price + ask.Price) / 2, nil
	case errBid == nil:
		return bid.Price, nil
	case errAsk == nil:
		return ask.Price, nil
	default:
		return 0, fmt.Errorf("price for %s: %w", symbol, domain.ErrNoPriceAvailable)
	}
}

func symbolFor(tokenA, tokenB string) string { return tokenA + "/" + tokenB }

// Open creates a new bounded-range position sized from current market data.
func (m *Manager) Open(ctx context.Context, tokenA, tokenB string, amountA, amountB float64) (domain.LPPosition, error) {
	m.mu.RLock()
	count := len(m.positions)
	m.mu.RUnlock()
	if count >= m.cfg.MaxPositions {
		return domain.LPPosition{}, fmt.Errorf("open position: at capacity (%d)", m.cfg.MaxPositions)
	}

	symbol := symbolFor(tokenA, tokenB)
	price, err := m.currentPrice(symbol)
	if err != nil {
		return domain.LPPosition{}, err
	}
	minPrice, maxPrice := ComputeRange(price, m.market.Volatility(symbol), m.cfg.TimeHorizonHours)

	id, err := m.dex.CreatePosition(ctx, domain.LPParams{
		TokenA: tokenA, TokenB: tokenB,
		AmountA: amountA, AmountB: amountB,
		MinPrice: minPrice, MaxPrice: maxPrice,
	})
	if err != nil {
		return domain.LPPosition{}, fmt.Errorf("create position: %w", err)
	}

	// The deposit is journaled Pending first; activation is a recorded
	// lifecycle step, not an assumption baked into the initial row.
	pos := domain.LPPosition{
		ID:        id,
		Venue:     m.dex.Name(),
		TokenA:    tokenA,
		TokenB:    tokenB,
		AmountA:   amountA,
		AmountB:   amountB,
		MinPrice:  minPrice,
		MaxPrice:  maxPrice,
		Status:    domain.PositionPending,
		CreatedAt: m.now().UTC(),
	}
	m.mu.Lock()
	m.positions[id] = &pos
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Create(ctx, pos); err != nil {
			m.logger.Warn("position record failed", slog.String("error", err.Error()))
		}
	}

	// The venue returning an id confirms the deposit landed.
	m.setStatus(ctx, id, domain.PositionActive)

	m.logger.Info("position opened",
		slog.String("position_id", id),
		slog.Float64("min_price", minPrice),
		slog.Float64("max_price", maxPrice),
	)
	out, _ := m.Get(id)
	return out, nil
}

// Track registers an externally created position with the manager.
func (m *Manager) Track(pos domain.LPPosition) {
	m.mu.Lock()
	p := pos
	m.positions[pos.ID] = &p
	m.mu.Unlock()
}

// Get returns a snapshot of the position with id.
func (m *Manager) Get(id string) (domain.LPPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return domain.LPPosition{}, false
	}
	return *p, true
}

// Positions returns snapshots of all tracked positions.
func (m *Manager) Positions() []domain.LPPosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.LPPosition, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// NeedsRebalance reports whether the position's range has drifted at least
// the threshold away from the current price.
func (m *Manager) NeedsRebalance(pos domain.LPPosition, price float64) bool {
	return pos.Deviation(price) >= m.cfg.RebalanceThreshold
}

// Evaluate checks one position against current market data and rebalances it
// when triggered.
func (m *Manager) Evaluate(ctx context.Context, id string) error {
	pos, ok := m.Get(id)
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Status != domain.PositionActive {
		return nil
	}
	symbol := symbolFor(pos.TokenA, pos.TokenB)
	price, err := m.currentPrice(symbol)
	if err != nil {
		return err
	}
	if !m.NeedsRebalance(pos, price) {
		return nil
	}
	return m.Rebalance(ctx, id)
}

// Rebalance moves the position onto a freshly computed range. The sequence is
// two-phase: (1) harvest fees and withdraw liquidity, moving the position to
// Rebalancing; (2) compute a new range and redeposit. A phase-2 failure
// leaves the position Orphaned (withdrawn but not redeployed), which is
// reported and requires Reconcile; it is never retried silently.
//
// A rebalance request for a position already rebalancing is rejected, not
// queued.
func (m *Manager) Rebalance(ctx context.Context, id string) error {
	l := m.lock(id)
	if !l.TryLock() {
		return fmt.Errorf("rebalance %s: %w", id, domain.ErrRebalanceInProgress)
	}
	defer l.Unlock()

	m.mu.Lock()
	pos, ok := m.positions[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	if pos.Status == domain.PositionRebalancing {
		m.mu.Unlock()
		return fmt.Errorf("rebalance %s: %w", id, domain.ErrRebalanceInProgress)
	}
	if pos.Status != domain.PositionActive {
		m.mu.Unlock()
		return fmt.Errorf("rebalance %s in status %s: %w", id, pos.Status, domain.ErrPositionNotActive)
	}
	oldMin, oldMax := pos.MinPrice, pos.MaxPrice
	pos.Status = domain.PositionRebalancing
	m.mu.Unlock()
	m.persist(ctx, id)

	// Phase 1: harvest and withdraw.
	fees, err := m.dex.HarvestFees(ctx, id)
	if err != nil {
		m.logger.Warn("pre-rebalance harvest failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		// Harvest failure alone does not strand funds; back out.
		m.setStatus(ctx, id, domain.PositionActive)
		return fmt.Errorf("rebalance %s: harvest: %w", id, err)
	}
	m.addFees(ctx, id, fees)

	amountA, amountB, err := m.dex.WithdrawLiquidity(ctx, id)
	if err != nil {
		// Nothing left the pool; the position is still whole.
		m.setStatus(ctx, id, domain.PositionActive)
		return fmt.Errorf("rebalance %s: withdraw: %w", id, err)
	}

	// Phase 2: new range from current market data, then redeposit.
	err = m.redeposit(ctx, id, amountA, amountB)
	if err != nil {
		m.setStatus(ctx, id, domain.PositionOrphaned)
		m.emitter.Emit(domain.Event{
			Name:   domain.EventPositionOrphaned,
			At:     m.now().UTC(),
			Fields: map[string]any{"position_id": id},
		})
		m.logger.Error("position orphaned: withdrawn but not redeployed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("rebalance %s: redeposit: %w", id, err)
	}

	m.mu.Lock()
	pos = m.positions[id]
	newMin, newMax := pos.MinPrice, pos.MaxPrice
	pos.LastRebalanceAt = m.now().UTC()
	m.mu.Unlock()
	m.persist(ctx, id)

	m.emitter.Emit(domain.Event{
		Name: domain.EventPositionRebalanced,
		At:   m.now().UTC(),
		Fields: map[string]any{
			"position_id": id,
			"old_range":   []float64{oldMin, oldMax},
			"new_range":   []float64{newMin, newMax},
		},
	})
	m.logger.Info("position rebalanced",
		slog.String("position_id", id),
		slog.Float64("new_min", newMin),
		slog.Float64("new_max", newMax),
	)
	return nil
}

// redeposit computes a fresh range and puts the withdrawn amounts back. On
// success the position is Active on the new range.
func (m *Manager) redeposit(ctx context.Context, id string, amountA, amountB float64) error {
	pos, ok := m.Get(id)
	if !ok {
		return domain.ErrNotFound
	}
	symbol := symbolFor(pos.TokenA, pos.TokenB)
	price, err := m.currentPrice(symbol)
	if err != nil {
		return err
	}
	newMin, newMax := ComputeRange(price, m.market.Volatility(symbol), m.cfg.TimeHorizonHours)

	if err := m.dex.RebalancePosition(ctx, id, newMin, newMax); err != nil {
		return err
	}

	m.mu.Lock()
	p := m.positions[id]
	p.MinPrice, p.MaxPrice = newMin, newMax
	p.AmountA, p.AmountB = amountA, amountB
	p.Status = domain.PositionActive
	m.mu.Unlock()
	m.persist(ctx, id)
	return nil
}

// Reconcile redeploys an orphaned position's withdrawn funds onto a fresh
// range. It is the explicit recovery action for the Rebalancing→Orphaned
// failure path.
func (m *Manager) Reconcile(ctx context.Context, id string) error {
	l := m.lock(id)
	if !l.TryLock() {
		return fmt.Errorf("reconcile %s: %w", id, domain.ErrRebalanceInProgress)
	}
	defer l.Unlock()

	pos, ok := m.Get(id)
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Status != domain.PositionOrphaned {
		return fmt.Errorf("reconcile %s in status %s: %w", id, pos.Status, domain.ErrPositionNotActive)
	}
	if err := m.redeposit(ctx, id, pos.AmountA, pos.AmountB); err != nil {
		return fmt.Errorf("reconcile %s: %w", id, err)
	}
	m.logger.Info("orphaned position reconciled", slog.String("position_id", id))
	return nil
}

// Harvest collects accrued fees for one position, independent of
// rebalancing.
func (m *Manager) Harvest(ctx context.Context, id string) error {
	pos, ok := m.Get(id)
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Status != domain.PositionActive {
		return nil
	}
	fees, err := m.dex.HarvestFees(ctx, id)
	if err != nil {
		return fmt.Errorf("harvest %s: %w", id, err)
	}
	if fees <= 0 {
		return nil
	}
	m.addFees(ctx, id, fees)
	m.emitter.Emit(domain.Event{
		Name:   domain.EventFeesHarvested,
		At:     m.now().UTC(),
		Fields: map[string]any{"position_id": id, "fees": fees},
	})
	m.logger.Info("fees harvested",
		slog.String("position_id", id),
		slog.Float64("fees", fees),
	)
	return nil
}

// Close winds a position down: withdraw everything and mark it Closed.
func (m *Manager) ClosePosition(ctx context.Context, id string) error {
	l := m.lock(id)
	if !l.TryLock() {
		return fmt.Errorf("close %s: %w", id, domain.ErrRebalanceInProgress)
	}
	defer l.Unlock()

	pos, ok := m.Get(id)
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Status != domain.PositionActive && pos.Status != domain.PositionOrphaned {
		return fmt.Errorf("close %s in status %s: %w", id, pos.Status, domain.ErrPositionNotActive)
	}
	if pos.Status == domain.PositionActive {
		if fees, err := m.dex.HarvestFees(ctx, id); err == nil {
			m.addFees(ctx, id, fees)
		}
		if _, _, err := m.dex.WithdrawLiquidity(ctx, id); err != nil {
			return fmt.Errorf("close %s: withdraw: %w", id, err)
		}
	}
	m.setStatus(ctx, id, domain.PositionClosed)
	m.logger.Info("position closed", slog.String("position_id", id))
	return nil
}

// Run evaluates all positions on the check interval and harvests on the
// harvest cadence until ctx is cancelled. Failures on one position never
// abort the loop.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("lp manager started",
		slog.Float64("rebalance_threshold", m.cfg.RebalanceThreshold),
		slog.Int("positions", len(m.Positions())),
	)
	defer m.logger.Info("lp manager stopped")

	check := time.NewTicker(m.cfg.CheckInterval)
	defer check.Stop()
	harvest := time.NewTicker(m.cfg.HarvestInterval)
	defer harvest.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-check.C:
			for _, pos := range m.Positions() {
				if err := m.Evaluate(ctx, pos.ID); err != nil {
					m.logger.Warn("evaluate failed",
						slog.String("position_id", pos.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		case <-harvest.C:
			for _, pos := range m.Positions() {
				if err := m.Harvest(ctx, pos.ID); err != nil {
					m.logger.Warn("harvest failed",
						slog.String("position_id", pos.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// setStatus updates a position's status and journals the change.
func (m *Manager) setStatus(ctx context.Context, id string, status domain.PositionStatus) {
	m.mu.Lock()
	if p, ok := m.positions[id]; ok {
		p.Status = status
	}
	m.mu.Unlock()
	m.persist(ctx, id)
}

func (m *Manager) addFees(ctx context.Context, id string, fees float64) {
	if fees <= 0 {
		return
	}
	m.mu.Lock()
	if p, ok := m.positions[id]; ok {
		p.FeesAccrued += fees
	}
	m.mu.Unlock()
	m.persist(ctx, id)
}

// persist journals the position's current state; the in-memory table remains
// authoritative.
func (m *Manager) persist(ctx context.Context, id string) {
	if m.store == nil {
		return
	}
	pos, ok := m.Get(id)
	if !ok {
		return
	}
	if err := m.store.Update(ctx, pos); err != nil {
		m.logger.Warn("position journal failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
	}
}
