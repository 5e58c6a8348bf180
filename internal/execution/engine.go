// Package execution is the mode-switchable trading façade: one engine
// routing every open, update, and close through the SIMULATION, PAPER, or
// LIVE backend selected at runtime.
package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/ports"
	"fxTradeBot/internal/sizing"
	"fxTradeBot/internal/trailing"
)

// Config holds the engine's admission limits and trailing behavior.
type Config struct {
	Pairs                 []string // allow-list
	MaxConcurrentTrades   int
	MaxDailyTrades        int
	MinConfidence         float64
	DailyLossLimitPercent float64 // realized-loss admission gate
	HoursStart            int     // UTC trading window [start, end)
	HoursEnd              int
	TrailingEnabled       bool    // advanced trailing via the trailing manager
	FixedTrailPips        float64 // legacy trail when advanced is off
	TrailActivatePips     float64
}

// AdmissionPolicy is the risk manager's veto over new entries.
type AdmissionPolicy interface {
	CanOpenNewTrade() bool
}

// Admission is the outcome of one admission-control check. Exactly one
// reason is reported: the first failing check wins.
type Admission struct {
	Allowed bool
	Reason  string
}

// Status is the engine's introspection surface.
type Status struct {
	Mode      domain.ExecutionMode
	Connected bool
	Balance   float64
}

// UpdateResult reports one UpdateAllTrades pass.
type UpdateResult struct {
	Updated []*domain.Trade
	Closed  []*domain.Trade
}

// Engine is the execution façade. The admission mutex serializes every
// check-then-create sequence so two pairs cannot jointly exceed the
// concurrent-trade limit.
type Engine struct {
	cfg      Config
	logger   ports.Logger
	trades   ports.TradeRepository
	activity ports.ActivityLogger
	sizer    *sizing.Sizer
	trailing *trailing.Manager
	risk     AdmissionPolicy
	now      func() time.Time

	mu        sync.Mutex
	mode      domain.ExecutionMode
	executors map[domain.ExecutionMode]ports.TradeExecutor
}

// New creates the engine. Executors must include the initial mode; the
// risk policy may be nil (no veto).
func New(cfg Config, logger ports.Logger, trades ports.TradeRepository, activity ports.ActivityLogger,
	sizer *sizing.Sizer, trail *trailing.Manager, risk AdmissionPolicy,
	executors map[domain.ExecutionMode]ports.TradeExecutor, initialMode domain.ExecutionMode) (*Engine, error) {

	if logger == nil {
		return nil, fmt.Errorf("logger is required for execution engine: %w", ports.ErrConfigurationError)
	}
	if trades == nil {
		return nil, fmt.Errorf("trade repository is required for execution engine: %w", ports.ErrConfigurationError)
	}
	if sizer == nil {
		return nil, fmt.Errorf("position sizer is required for execution engine: %w", ports.ErrConfigurationError)
	}
	if trail == nil {
		return nil, fmt.Errorf("trailing manager is required for execution engine: %w", ports.ErrConfigurationError)
	}
	if _, ok := executors[initialMode]; !ok {
		return nil, fmt.Errorf("no executor registered for initial mode %s: %w", initialMode, ports.ErrConfigurationError)
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		trades:    trades,
		activity:  activity,
		sizer:     sizer,
		trailing:  trail,
		risk:      risk,
		now:       time.Now,
		mode:      initialMode,
		executors: executors,
	}, nil
}

// WithClock overrides the time source for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// executor returns the active backend.
func (e *Engine) executor() ports.TradeExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executors[e.mode]
}

// SetMode switches the active backend. Open trades keep updating through
// the engine regardless of backend; only order routing changes.
func (e *Engine) SetMode(ctx context.Context, mode domain.ExecutionMode) error {
	e.mu.Lock()
	if _, ok := e.executors[mode]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("no executor registered for mode %s: %w", mode, ports.ErrWrongMode)
	}
	old := e.mode
	e.mode = mode
	e.mu.Unlock()

	if old == mode {
		return nil
	}
	e.logger.Warn(ctx, "Execution mode changed", map[string]interface{}{
		"from": string(old),
		"to":   string(mode),
	})
	e.logActivity(ctx, domain.ActivityModeChange,
		fmt.Sprintf("Execution mode %s -> %s", old, mode),
		map[string]interface{}{"from": string(old), "to": string(mode)})
	return nil
}

// Mode returns the active execution mode.
func (e *Engine) Mode() domain.ExecutionMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Status reports mode, connectivity, and balance for the control surface.
func (e *Engine) Status(ctx context.Context) Status {
	exec := e.executor()
	balance, err := exec.Balance(ctx)
	if err != nil {
		e.logger.Warn(ctx, "Failed to read balance for status", map[string]interface{}{"error": err.Error()})
	}
	return Status{Mode: exec.Mode(), Connected: exec.Connected(), Balance: balance}
}

// Balance returns the active backend's account balance.
func (e *Engine) Balance(ctx context.Context) (float64, error) {
	return e.executor().Balance(ctx)
}

// CanOpenTrade runs admission control for a prospective entry on a pair.
func (e *Engine) CanOpenTrade(ctx context.Context, pair string) (Admission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canOpenTradeLocked(ctx, pair)
}

// canOpenTradeLocked evaluates the admission checks in their fixed order.
// Callers hold e.mu.
func (e *Engine) canOpenTradeLocked(ctx context.Context, pair string) (Admission, error) {
	open, err := e.trades.FindOpen(ctx)
	if err != nil {
		return Admission{}, fmt.Errorf("admission check failed: %w", err)
	}
	if len(open) >= e.cfg.MaxConcurrentTrades {
		return Admission{Reason: "max concurrent trades reached"}, nil
	}

	for _, t := range open {
		if t.Pair == pair {
			return Admission{Reason: "pair already has an open trade"}, nil
		}
	}

	if !e.pairAllowed(pair) {
		return Admission{Reason: "pair not in allow-list"}, nil
	}

	count, err := e.trades.CountOpenedToday(ctx)
	if err != nil {
		return Admission{}, fmt.Errorf("admission check failed: %w", err)
	}
	if count >= e.cfg.MaxDailyTrades {
		return Admission{Reason: "daily trade limit reached"}, nil
	}

	realized, err := e.realizedTodayLocked(ctx)
	if err != nil {
		return Admission{}, fmt.Errorf("admission check failed: %w", err)
	}
	balance, err := e.executors[e.mode].Balance(ctx)
	if err != nil {
		return Admission{}, fmt.Errorf("admission check failed: %w", err)
	}
	if -realized >= balance*e.cfg.DailyLossLimitPercent/100 {
		return Admission{Reason: "daily loss limit reached"}, nil
	}

	if !e.withinTradingHours() {
		return Admission{Reason: "outside trading hours"}, nil
	}

	if e.risk != nil && !e.risk.CanOpenNewTrade() {
		return Admission{Reason: "risk manager denies new trades"}, nil
	}

	return Admission{Allowed: true}, nil
}

func (e *Engine) pairAllowed(pair string) bool {
	for _, p := range e.cfg.Pairs {
		if p == pair {
			return true
		}
	}
	return false
}

func (e *Engine) withinTradingHours() bool {
	if e.cfg.HoursStart == 0 && (e.cfg.HoursEnd == 0 || e.cfg.HoursEnd == 24) {
		return true
	}
	hour := e.now().UTC().Hour()
	return hour >= e.cfg.HoursStart && hour < e.cfg.HoursEnd
}

func (e *Engine) realizedTodayLocked(ctx context.Context) (float64, error) {
	closed, err := e.trades.FindClosedToday(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, t := range closed {
		total += t.PnL
	}
	return total, nil
}

// ExecuteTrade opens a position from a prediction. Admission is re-checked
// and the minimum confidence floor enforced under the same lock that guards
// the check-then-create sequence. The pair's price history feeds the
// volatility-aware sizing methods.
func (e *Engine) ExecuteTrade(ctx context.Context, pred *domain.Prediction, history []domain.PricePoint) (*domain.Trade, string, error) {
	const op = "ExecuteTrade"
	if pred == nil {
		return nil, "no prediction", nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	admission, err := e.canOpenTradeLocked(ctx, pred.Pair)
	if err != nil {
		return nil, "", err
	}
	if !admission.Allowed {
		return nil, admission.Reason, nil
	}
	if pred.Confidence < e.cfg.MinConfidence {
		return nil, fmt.Sprintf("confidence %.2f below floor %.2f", pred.Confidence, e.cfg.MinConfidence), nil
	}

	stopPips := pred.StopDistancePips()
	exec := e.executors[e.mode]
	balance, err := exec.Balance(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	decision := e.sizer.Calculate(ctx, balance, stopPips, pred.Pair, history)
	if decision.Method == sizing.MethodRejected || decision.Lots <= 0 {
		return nil, "sizing rejected: " + decision.Reason, nil
	}

	fill, err := exec.OpenOrder(ctx, pred.Pair, pred.Direction, decision.Lots, pred.EntryPrice)
	if err != nil {
		e.logger.Error(ctx, err, "Open order failed", map[string]interface{}{"op": op, "pair": pred.Pair})
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	trade := &domain.Trade{
		Pair:         pred.Pair,
		Direction:    pred.Direction,
		EntryPrice:   fill.Price,
		CurrentPrice: fill.Price,
		StopLoss:     pred.StopLoss,
		TakeProfit:   pred.TakeProfit,
		PositionSize: decision.Lots,
		Confidence:   pred.Confidence,
		Status:       domain.StatusOpen,
		OpenedAt:     e.now().UTC(),
	}
	id, err := e.trades.Create(ctx, trade)
	if err != nil {
		return nil, "", fmt.Errorf("%s: failed to persist trade: %w", op, err)
	}
	trade.ID = id

	e.logger.Info(ctx, "Trade opened", map[string]interface{}{
		"op":         op,
		"tradeID":    trade.ID,
		"pair":       trade.Pair,
		"direction":  string(trade.Direction),
		"entry":      trade.EntryPrice,
		"lots":       trade.PositionSize,
		"confidence": trade.Confidence,
	})
	e.logActivity(ctx, domain.ActivityTradeOpened,
		fmt.Sprintf("Opened %s %s at %.5f", trade.Pair, trade.Direction, trade.EntryPrice),
		map[string]interface{}{
			"tradeID": trade.ID,
			"pair":    trade.Pair,
			"lots":    trade.PositionSize,
			"method":  string(decision.Method),
		})
	return trade, "", nil
}

// UpdateAllTrades refreshes P&L, advances trailing stops, and closes trades
// whose stop or target is touched. Per-trade failures are logged and
// skipped so one pair cannot block the rest.
func (e *Engine) UpdateAllTrades(ctx context.Context, prices map[string]float64, history map[string][]domain.PricePoint) (UpdateResult, error) {
	const op = "UpdateAllTrades"
	var result UpdateResult

	open, err := e.trades.FindOpen(ctx)
	if err != nil {
		return result, fmt.Errorf("%s: %w", op, err)
	}

	for _, trade := range open {
		price, ok := prices[trade.Pair]
		if !ok || price <= 0 {
			continue
		}

		trade.CurrentPrice = price
		trade.PnLPips = trade.PnLPipsAt(price)
		trade.PnL = trade.PnLAt(price)

		e.advanceTrailingStop(ctx, trade, price, history[trade.Pair])

		if reason, hit := exitTouched(trade, price); hit {
			closed, err := e.closeTradeObject(ctx, trade, price, reason)
			if err != nil {
				e.logger.Error(ctx, err, "Failed to close trade on exit touch", map[string]interface{}{
					"op":      op,
					"tradeID": trade.ID,
				})
				continue
			}
			result.Closed = append(result.Closed, closed)
			continue
		}

		if err := e.trades.Update(ctx, trade); err != nil {
			e.logger.Error(ctx, err, "Failed to persist trade update", map[string]interface{}{
				"op":      op,
				"tradeID": trade.ID,
			})
			continue
		}
		result.Updated = append(result.Updated, trade)
	}
	return result, nil
}

// advanceTrailingStop applies either the advanced trailing manager or the
// legacy fixed-pip trail. The stop only ever tightens.
func (e *Engine) advanceTrailingStop(ctx context.Context, trade *domain.Trade, price float64, history []domain.PricePoint) {
	if e.cfg.TrailingEnabled {
		res := e.trailing.CalculateTrailingStop(ctx, trade, price, history)
		if res.Updated {
			stop := res.NewStop
			trade.TrailingStop = &stop
		}
		return
	}

	// Legacy trail: fixed pip offset once profit clears the activation bar.
	if trade.PnLPips < e.cfg.TrailActivatePips {
		return
	}
	pip := domain.PipSize(trade.Pair)
	var candidate float64
	if trade.Direction == domain.DirectionUp {
		candidate = price - e.cfg.FixedTrailPips*pip
		if candidate <= trade.EffectiveStop() {
			return
		}
	} else {
		candidate = price + e.cfg.FixedTrailPips*pip
		if candidate >= trade.EffectiveStop() {
			return
		}
	}
	trade.TrailingStop = &candidate
}

// exitTouched checks the stop/target against the current price with
// direction-mirrored comparisons.
func exitTouched(trade *domain.Trade, price float64) (domain.CloseReason, bool) {
	stop := trade.EffectiveStop()
	if trade.Direction == domain.DirectionUp {
		if price <= stop {
			return domain.CloseReasonStopLoss, true
		}
		if price >= trade.TakeProfit {
			return domain.CloseReasonTakeProfit, true
		}
		return "", false
	}
	if price >= stop {
		return domain.CloseReasonStopLoss, true
	}
	if price <= trade.TakeProfit {
		return domain.CloseReasonTakeProfit, true
	}
	return "", false
}

// CloseTrade closes one trade by id at the supplied price. Returns nil, nil
// when the trade does not exist or is not open.
func (e *Engine) CloseTrade(ctx context.Context, id int64, exitPrice float64, reason domain.CloseReason) (*domain.Trade, error) {
	trade, err := e.trades.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("CloseTrade: %w", err)
	}
	if trade == nil || !trade.IsOpen() {
		return nil, nil
	}
	return e.closeTradeObject(ctx, trade, exitPrice, reason)
}

// closeTradeObject finalizes P&L with the same formulas the live update
// uses, settles the backend, and releases per-trade trailing state.
func (e *Engine) closeTradeObject(ctx context.Context, trade *domain.Trade, exitPrice float64, reason domain.CloseReason) (*domain.Trade, error) {
	const op = "CloseTrade"
	exec := e.executor()

	fill, err := exec.CloseOrder(ctx, trade.Pair, trade.Direction, trade.PositionSize, exitPrice)
	if err != nil {
		return nil, fmt.Errorf("%s: close order failed: %w", op, err)
	}

	trade.CurrentPrice = fill.Price
	trade.PnLPips = trade.PnLPipsAt(fill.Price)
	trade.PnL = trade.PnLAt(fill.Price)
	trade.Status = domain.StatusClosed
	trade.CloseReason = reason
	trade.ClosedAt = e.now().UTC()

	if err := e.trades.Update(ctx, trade); err != nil {
		return nil, fmt.Errorf("%s: failed to persist close: %w", op, err)
	}
	if err := exec.Settle(ctx, trade.PnL); err != nil {
		e.logger.Error(ctx, err, "Failed to settle realized P&L", map[string]interface{}{
			"op":      op,
			"tradeID": trade.ID,
			"pnl":     trade.PnL,
		})
	}
	e.trailing.RemoveTrade(trade.ID)

	e.logger.Info(ctx, "Trade closed", map[string]interface{}{
		"op":      op,
		"tradeID": trade.ID,
		"pair":    trade.Pair,
		"reason":  string(reason),
		"pnlPips": trade.PnLPips,
		"pnl":     trade.PnL,
	})
	e.logActivity(ctx, domain.ActivityTradeClosed,
		fmt.Sprintf("Closed %s: %s (%.1f pips, %.2f)", trade.Pair, reason, trade.PnLPips, trade.PnL),
		map[string]interface{}{
			"tradeID": trade.ID,
			"pair":    trade.Pair,
			"reason":  string(reason),
			"pnl":     trade.PnL,
		})
	return trade, nil
}

// CloseAllTrades closes every open trade at its pair's current price.
// Pairs missing from the price map fall back to the trade's last known
// price.
func (e *Engine) CloseAllTrades(ctx context.Context, prices map[string]float64, reason domain.CloseReason) ([]*domain.Trade, error) {
	open, err := e.trades.FindOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("CloseAllTrades: %w", err)
	}

	closed := make([]*domain.Trade, 0, len(open))
	for _, trade := range open {
		price, ok := prices[trade.Pair]
		if !ok || price <= 0 {
			price = trade.CurrentPrice
		}
		t, err := e.closeTradeObject(ctx, trade, price, reason)
		if err != nil {
			e.logger.Error(ctx, err, "Failed to close trade in batch", map[string]interface{}{
				"tradeID": trade.ID,
			})
			continue
		}
		closed = append(closed, t)
	}
	return closed, nil
}

// ClosePartial realizes P&L on a fraction of an open position and keeps the
// remainder running. The fraction must be in (0, 1); the closed slice is
// rounded to the broker's 0.01-lot increment.
func (e *Engine) ClosePartial(ctx context.Context, id int64, exitPrice, fraction float64) (*domain.Trade, error) {
	const op = "ClosePartial"
	if fraction <= 0 || fraction >= 1 {
		return nil, fmt.Errorf("%s: fraction must be in (0,1): %w", op, ports.ErrInvalidRequest)
	}

	trade, err := e.trades.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if trade == nil || !trade.IsOpen() {
		return nil, fmt.Errorf("%s: %w", op, ports.ErrTradeNotOpen)
	}

	closedLots := math.Round(trade.PositionSize*fraction*100) / 100
	if closedLots < 0.01 {
		closedLots = 0.01
	}
	if closedLots >= trade.PositionSize {
		return nil, fmt.Errorf("%s: fraction leaves no remaining position: %w", op, ports.ErrInvalidRequest)
	}

	exec := e.executor()
	fill, err := exec.CloseOrder(ctx, trade.Pair, trade.Direction, closedLots, exitPrice)
	if err != nil {
		return nil, fmt.Errorf("%s: close order failed: %w", op, err)
	}

	realizedPips := trade.PnLPipsAt(fill.Price)
	realized := realizedPips * closedLots * domain.PipValuePerLot(trade.Pair)

	trade.PositionSize = math.Round((trade.PositionSize-closedLots)*100) / 100
	trade.CurrentPrice = fill.Price
	trade.PnLPips = trade.PnLPipsAt(fill.Price)
	trade.PnL = trade.PnLAt(fill.Price)

	if err := e.trades.Update(ctx, trade); err != nil {
		return nil, fmt.Errorf("%s: failed to persist partial close: %w", op, err)
	}
	if err := exec.Settle(ctx, realized); err != nil {
		e.logger.Error(ctx, err, "Failed to settle partial close", map[string]interface{}{
			"op":      op,
			"tradeID": trade.ID,
		})
	}

	e.logActivity(ctx, domain.ActivityTradePartial,
		fmt.Sprintf("Partially closed %s: %.2f lots (%.2f realized)", trade.Pair, closedLots, realized),
		map[string]interface{}{
			"tradeID":    trade.ID,
			"reason":     string(domain.CloseReasonPartial),
			"closedLots": closedLots,
			"realized":   realized,
			"remaining":  trade.PositionSize,
		})
	return trade, nil
}

// ResetAccount liquidates every open trade and resets the ledger balance.
// Defined only for SIMULATION mode; other modes are rejected.
func (e *Engine) ResetAccount(ctx context.Context, balance float64) error {
	const op = "ResetAccount"
	exec := e.executor()
	if exec.Mode() != domain.ModeSimulation {
		return fmt.Errorf("%s only available in SIMULATION mode: %w", op, ports.ErrWrongMode)
	}
	setter, ok := exec.(balanceSetter)
	if !ok {
		return fmt.Errorf("%s: simulation backend cannot reset balance: %w", op, ports.ErrWrongMode)
	}

	if _, err := e.CloseAllTrades(ctx, nil, domain.CloseReasonAccountReset); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	setter.SetBalance(balance)

	e.logger.Warn(ctx, "Account reset", map[string]interface{}{"op": op, "balance": balance})
	e.logActivity(ctx, domain.ActivityAccountReset,
		fmt.Sprintf("Simulation account reset to %.2f", balance),
		map[string]interface{}{"balance": balance})
	return nil
}

// OpenTrades lists the currently open trades for the control surface.
func (e *Engine) OpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	return e.trades.FindOpen(ctx)
}

func (e *Engine) logActivity(ctx context.Context, typ domain.ActivityType, msg string, data map[string]interface{}) {
	if e.activity == nil {
		return
	}
	if err := e.activity.Log(ctx, typ, msg, data); err != nil {
		e.logger.Warn(ctx, "Failed to write activity record", map[string]interface{}{"error": err.Error()})
	}
}
