// Package trailing implements per-trade stop-loss advancement. A stop is
// only ever tightened: candidates that would loosen the current stop are
// rejected regardless of algorithm.
package trailing

import (
	"context"
	"math"
	"sync"

	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/indicators"
	"fxTradeBot/internal/ports"
)

// Algorithm selects the stop-advancement recurrence.
type Algorithm string

const (
	AlgorithmATR        Algorithm = "ATR"
	AlgorithmChandelier Algorithm = "CHANDELIER"
	AlgorithmParabolic  Algorithm = "PARABOLIC"
	AlgorithmFixed      Algorithm = "FIXED"
)

// Config parameterizes the manager.
type Config struct {
	Algorithm            Algorithm
	ATRPeriod            int
	ATRMultiplier        float64
	ChandelierLookback   int
	ChandelierMultiplier float64
	ParabolicAFStep      float64
	ParabolicAFMax       float64
	FixedPips            float64
	ActivationR          float64 // profit in ATR units before trailing starts
	MinStopDistancePips  float64
}

// Result reports one trailing evaluation.
type Result struct {
	Updated   bool
	NewStop   float64
	Activated bool
	Reason    string
}

// parabolicState is the per-trade SAR recurrence state.
type parabolicState struct {
	af      float64
	extreme float64
}

// Manager advances trailing stops. Per-trade parabolic state is keyed by
// trade id; callers MUST call RemoveTrade on every close path or the map
// grows without bound.
type Manager struct {
	cfg    Config
	logger ports.Logger

	mu     sync.Mutex
	states map[int64]*parabolicState
}

// New creates a trailing-stop manager.
func New(cfg Config, logger ports.Logger) *Manager {
	if cfg.ATRPeriod <= 1 {
		cfg.ATRPeriod = 14
	}
	if cfg.ChandelierLookback <= 1 {
		cfg.ChandelierLookback = 22
	}
	if cfg.ActivationR <= 0 {
		cfg.ActivationR = 1.0
	}
	return &Manager{cfg: cfg, logger: logger, states: make(map[int64]*parabolicState)}
}

// CalculateTrailingStop evaluates one open trade against the current price
// and recent history, and returns the improved stop if the algorithm
// produces one. The returned stop never loosens the trade's current
// effective stop.
func (m *Manager) CalculateTrailingStop(ctx context.Context, trade *domain.Trade, current float64, history []domain.PricePoint) Result {
	if trade == nil || !trade.IsOpen() || current <= 0 {
		return Result{Reason: "not evaluable"}
	}

	atr := m.estimateATR(trade, history)
	if atr <= 0 {
		return Result{Reason: "no volatility estimate"}
	}

	// Activation: profit must reach ActivationR in ATR units first.
	var favorableMove float64
	if trade.Direction == domain.DirectionUp {
		favorableMove = current - trade.EntryPrice
	} else {
		favorableMove = trade.EntryPrice - current
	}
	pnlInATR := favorableMove / atr
	if pnlInATR < m.cfg.ActivationR {
		return Result{Reason: "not activated"}
	}

	long := trade.Direction == domain.DirectionUp
	currentStop := trade.EffectiveStop()

	var candidate float64
	switch m.cfg.Algorithm {
	case AlgorithmChandelier:
		candidate = m.chandelierStop(long, atr, history, current)
	case AlgorithmParabolic:
		candidate = m.parabolicStop(trade.ID, long, current, currentStop)
	case AlgorithmFixed:
		candidate = m.fixedStop(long, trade.Pair, current)
	default:
		candidate = m.atrStop(long, atr, current)
	}

	// Keep at least the minimum stop distance from price.
	minDist := m.cfg.MinStopDistancePips * domain.PipSize(trade.Pair)
	if long {
		candidate = math.Min(candidate, current-minDist)
	} else {
		candidate = math.Max(candidate, current+minDist)
	}

	// Never loosen: strictly higher for longs, strictly lower for shorts.
	if long && candidate <= currentStop {
		return Result{Activated: true, Reason: "no improvement"}
	}
	if !long && candidate >= currentStop {
		return Result{Activated: true, Reason: "no improvement"}
	}

	if m.logger != nil {
		m.logger.Debug(ctx, "Trailing stop advanced", map[string]interface{}{
			"tradeID":   trade.ID,
			"pair":      trade.Pair,
			"algorithm": string(m.cfg.Algorithm),
			"oldStop":   currentStop,
			"newStop":   candidate,
		})
	}
	return Result{Updated: true, NewStop: candidate, Activated: true, Reason: string(m.cfg.Algorithm)}
}

// RemoveTrade deletes per-trade state. Must be called on every close path.
func (m *Manager) RemoveTrade(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
}

// TrackedTrades reports how many trades currently hold parabolic state.
func (m *Manager) TrackedTrades() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// estimateATR uses the close-only true-range proxy; with no usable history
// it falls back to half the trade's original stop distance.
func (m *Manager) estimateATR(trade *domain.Trade, history []domain.PricePoint) float64 {
	atr, err := indicators.ATRProxy(domain.Closes(history), m.cfg.ATRPeriod)
	if err == nil && atr > 0 {
		return atr
	}
	return math.Abs(trade.EntryPrice-trade.StopLoss) / 2
}

// atrStop trails a fixed ATR multiple behind price.
func (m *Manager) atrStop(long bool, atr, current float64) float64 {
	offset := atr * m.cfg.ATRMultiplier
	if long {
		return current - offset
	}
	return current + offset
}

// chandelierStop trails from the highest (long) / lowest (short) close over
// the lookback window, offset by the chandelier ATR multiple.
func (m *Manager) chandelierStop(long bool, atr float64, history []domain.PricePoint, current float64) float64 {
	high, low, err := indicators.HighestLowest(domain.Closes(history), m.cfg.ChandelierLookback)
	if err != nil {
		high, low = current, current
	}
	offset := atr * m.cfg.ChandelierMultiplier
	if long {
		return high - offset
	}
	return low + offset
}

// parabolicStop runs the SAR-style recurrence: the extreme point ratchets in
// the favorable direction and the acceleration factor grows by a fixed step
// up to a cap each time a new extreme is set.
func (m *Manager) parabolicStop(tradeID int64, long bool, current, prevStop float64) float64 {
	m.mu.Lock()
	st, ok := m.states[tradeID]
	if !ok {
		st = &parabolicState{af: m.cfg.ParabolicAFStep, extreme: current}
		m.states[tradeID] = st
	}
	if long && current > st.extreme {
		st.extreme = current
		st.af = math.Min(st.af+m.cfg.ParabolicAFStep, m.cfg.ParabolicAFMax)
	} else if !long && current < st.extreme {
		st.extreme = current
		st.af = math.Min(st.af+m.cfg.ParabolicAFStep, m.cfg.ParabolicAFMax)
	}
	af, extreme := st.af, st.extreme
	m.mu.Unlock()

	return prevStop + af*(extreme-prevStop)
}

// fixedStop is the legacy constant-pip trail.
func (m *Manager) fixedStop(long bool, pair string, current float64) float64 {
	offset := m.cfg.FixedPips * domain.PipSize(pair)
	if long {
		return current - offset
	}
	return current + offset
}
