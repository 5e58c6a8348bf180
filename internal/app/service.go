// Package app is the cycle orchestrator: one single-flight trading cycle
// sequencing price refresh, exit checks, prediction consumption, and trade
// execution, driven by fixed-interval tickers.
package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"fxTradeBot/config"
	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/execution"
	"fxTradeBot/internal/ports"
	"fxTradeBot/internal/risk"
	"fxTradeBot/internal/timeexit"
)

// settingEnabled is the persisted on/off flag for the whole bot.
const settingEnabled = "bot.enabled"

// CycleResult reports one RunCycle invocation.
type CycleResult struct {
	Skipped    bool
	SkipReason string
	Updated    int
	Closed     int
	Opened     int
	Err        error
}

// BotStatus is the control-surface snapshot.
type BotStatus struct {
	Enabled    bool
	IsRunning  bool
	LastRun    time.Time
	RunCount   int64
	Mode       domain.ExecutionMode
	HistoryLen map[string]int
}

// Bot wires the engine, risk manager, predictor, and feed into the cycle
// loop. One instance per process.
type Bot struct {
	cfg         *config.Config
	logger      ports.Logger
	engine      *execution.Engine
	risk        *risk.Manager
	timeExit    *timeexit.Manager
	compliance  ports.CompliancePolicy
	feed        ports.PriceFeed
	predictor   ports.Predictor
	prices      ports.PriceRepository
	predictions ports.PredictionRepository
	settings    ports.SettingsRepository
	activity    ports.ActivityLogger
	now         func() time.Time

	// running is the single-flight cycle guard. Set before the first
	// suspension point, cleared in a defer.
	running atomic.Bool

	mu       sync.Mutex
	enabled  bool
	lastRun  time.Time
	runCount int64
	history  map[string][]domain.PricePoint
}

// Deps bundles the bot's collaborators.
type Deps struct {
	Config      *config.Config
	Logger      ports.Logger
	Engine      *execution.Engine
	Risk        *risk.Manager
	TimeExit    *timeexit.Manager
	Compliance  ports.CompliancePolicy
	Feed        ports.PriceFeed
	Predictor   ports.Predictor
	Prices      ports.PriceRepository
	Predictions ports.PredictionRepository
	Settings    ports.SettingsRepository
	Activity    ports.ActivityLogger
}

// New creates the bot. Every dependency except the compliance policy is
// required.
func New(d Deps) (*Bot, error) {
	if d.Config == nil || d.Logger == nil || d.Engine == nil || d.Risk == nil ||
		d.TimeExit == nil || d.Feed == nil || d.Predictor == nil ||
		d.Prices == nil || d.Predictions == nil || d.Settings == nil || d.Activity == nil {
		return nil, fmt.Errorf("missing required dependencies for bot")
	}
	return &Bot{
		cfg:         d.Config,
		logger:      d.Logger,
		engine:      d.Engine,
		risk:        d.Risk,
		timeExit:    d.TimeExit,
		compliance:  d.Compliance,
		feed:        d.Feed,
		predictor:   d.Predictor,
		prices:      d.Prices,
		predictions: d.Predictions,
		settings:    d.Settings,
		activity:    d.Activity,
		now:         time.Now,
		enabled:     true,
		history:     make(map[string][]domain.PricePoint),
	}, nil
}

// WithClock overrides the time source for tests.
func (b *Bot) WithClock(now func() time.Time) *Bot {
	b.now = now
	return b
}

// Start restores persisted state, seeds the price history, and drives the
// three timers until the context is canceled: the trading cycle, the risk
// check, and the day-rollover check.
func (b *Bot) Start(ctx context.Context) error {
	const op = "Start"

	b.restoreEnabledFlag(ctx)
	b.seedHistory(ctx)

	if err := b.risk.RefreshDailyStats(ctx); err != nil {
		b.logger.Warn(ctx, "Initial risk stats refresh failed", map[string]interface{}{"op": op, "error": err.Error()})
	}

	b.logger.Info(ctx, "Bot started", map[string]interface{}{
		"op":    op,
		"mode":  string(b.engine.Mode()),
		"pairs": b.cfg.Pairs,
	})
	b.logActivity(ctx, domain.ActivityBotStarted, "Bot started", map[string]interface{}{
		"mode": string(b.engine.Mode()),
	})

	cycleTicker := time.NewTicker(b.cfg.CycleInterval)
	riskTicker := time.NewTicker(b.cfg.RiskCheckInterval)
	rolloverTicker := time.NewTicker(b.cfg.RolloverInterval)
	defer cycleTicker.Stop()
	defer riskTicker.Stop()
	defer rolloverTicker.Stop()

	// First cycle immediately rather than waiting a full interval.
	b.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info(ctx, "Bot stopping", map[string]interface{}{"op": op})
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			b.logActivity(shutdownCtx, domain.ActivityBotStopped, "Bot stopped", nil)
			cancel()
			return nil
		case <-cycleTicker.C:
			b.RunCycle(ctx)
		case <-riskTicker.C:
			b.riskCheck(ctx)
		case <-rolloverTicker.C:
			if b.risk.CheckDayRollover(ctx) {
				b.logger.Info(ctx, "Daily risk stats rolled over", map[string]interface{}{"op": op})
			}
		}
	}
}

// RunCycle executes one trading cycle. Overlapping invocations return a
// skipped result immediately; the guard is set before any suspension point
// and released in a defer even when a step panics.
func (b *Bot) RunCycle(ctx context.Context) (result CycleResult) {
	const op = "RunCycle"

	if !b.running.CompareAndSwap(false, true) {
		return CycleResult{Skipped: true, SkipReason: "already running"}
	}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("cycle panicked: %v", r)
			b.logger.Error(ctx, err, "Cycle aborted by panic", map[string]interface{}{"op": op})
			b.logActivity(ctx, domain.ActivityBotError, "Cycle panicked", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
				"stack": string(debug.Stack()),
			})
			result.Err = err
		}
		b.running.Store(false)
	}()

	b.mu.Lock()
	enabled := b.enabled
	b.mu.Unlock()
	if !enabled {
		return CycleResult{Skipped: true, SkipReason: "disabled"}
	}

	// Step 1: price fetch. A failure here aborts the whole cycle.
	rates, err := b.feed.FetchLiveRates(ctx)
	if err != nil {
		b.logger.Error(ctx, err, "Price fetch failed, aborting cycle", map[string]interface{}{"op": op})
		b.logActivity(ctx, domain.ActivityBotError, "Price fetch failed, cycle aborted", map[string]interface{}{
			"error": err.Error(),
			"stack": string(debug.Stack()),
		})
		result.Err = fmt.Errorf("%s: price fetch failed: %w", op, err)
		return result
	}
	priceMap := ports.RateMap(rates)

	// Step 2: compliance window. Past cutoff closes everything and blocks
	// the rest of the cycle.
	if b.compliance != nil && b.compliance.Enabled() {
		deadline := b.compliance.CheckDeadline(b.now().UTC())
		if deadline.PastCutoff {
			closed, err := b.engine.CloseAllTrades(ctx, priceMap, domain.CloseReasonCompliance)
			if err != nil {
				b.logger.Error(ctx, err, "Compliance force-close failed", map[string]interface{}{"op": op})
			}
			if len(closed) > 0 {
				b.logActivity(ctx, domain.ActivityCompliance,
					fmt.Sprintf("Compliance cutoff: closed %d trades", len(closed)),
					map[string]interface{}{"closed": len(closed)})
			}
			result.Closed += len(closed)
			b.finishCycle()
			return result
		}
		if deadline.WithinWarningWindow {
			b.logger.Warn(ctx, "Compliance cutoff approaching", map[string]interface{}{
				"op":      op,
				"minutes": deadline.MinutesUntilCutoff,
			})
		}
	}

	// Step 3: global time exits, then per-trade max-hold.
	if abort := b.applyTimeExits(ctx, priceMap, &result); abort {
		b.finishCycle()
		return result
	}

	// Step 4: bounded rolling history, persisted.
	b.appendHistory(ctx, rates)

	// Step 5: per-trade P&L, trailing, stop/target exits.
	histories := b.historySnapshot()
	update, err := b.engine.UpdateAllTrades(ctx, priceMap, histories)
	if err != nil {
		b.logger.Error(ctx, err, "Trade update pass failed", map[string]interface{}{"op": op})
	}
	result.Updated = len(update.Updated)
	result.Closed += len(update.Closed)

	// Step 6: resolve predictions whose target or stop has been touched.
	b.resolvePredictions(ctx, priceMap)

	// Step 7: new entries.
	result.Opened = b.generateEntries(ctx, histories)

	// Step 8: prune old price history every Nth cycle.
	b.mu.Lock()
	count := b.runCount + 1
	b.mu.Unlock()
	if b.cfg.History.PruneEveryCycles > 0 && count%int64(b.cfg.History.PruneEveryCycles) == 0 {
		cutoff := b.now().UTC().Add(-b.cfg.History.Retention)
		if pruned, err := b.prices.PruneOlderThan(ctx, cutoff); err != nil {
			b.logger.Warn(ctx, "History prune failed", map[string]interface{}{"op": op, "error": err.Error()})
		} else if pruned > 0 {
			b.logger.Debug(ctx, "Pruned price history", map[string]interface{}{"op": op, "rows": pruned})
		}
	}

	b.finishCycle()
	return result
}

// finishCycle stamps the run bookkeeping.
func (b *Bot) finishCycle() {
	b.mu.Lock()
	b.lastRun = b.now().UTC()
	b.runCount++
	b.mu.Unlock()
}

// applyTimeExits closes trades the wall-clock rules demand. A weekend hard
// block also stops the cycle before any new entries.
func (b *Bot) applyTimeExits(ctx context.Context, priceMap map[string]float64, result *CycleResult) (abort bool) {
	const op = "applyTimeExits"

	global := b.timeExit.CheckTimeExits()
	if global.ShouldExit {
		closed, err := b.engine.CloseAllTrades(ctx, priceMap, global.CloseReason())
		if err != nil {
			b.logger.Error(ctx, err, "Time-exit batch close failed", map[string]interface{}{"op": op})
		}
		result.Closed += len(closed)
		b.logger.Info(ctx, "Global time exit fired", map[string]interface{}{
			"op":     op,
			"type":   global.Type,
			"reason": global.Reason,
			"closed": len(closed),
		})
		return global.Type == "WEEKEND"
	}

	// No global rule: individual trades can still exceed their max hold.
	open, err := b.engine.OpenTrades(ctx)
	if err != nil {
		b.logger.Error(ctx, err, "Failed to list open trades for max-hold check", map[string]interface{}{"op": op})
		return false
	}
	for _, t := range open {
		d := b.timeExit.CheckMaxHoldTime(t)
		if !d.ShouldExit {
			continue
		}
		price, ok := priceMap[t.Pair]
		if !ok || price <= 0 {
			price = t.CurrentPrice
		}
		if _, err := b.engine.CloseTrade(ctx, t.ID, price, d.CloseReason()); err != nil {
			b.logger.Error(ctx, err, "Max-hold close failed", map[string]interface{}{"op": op, "tradeID": t.ID})
			continue
		}
		result.Closed++
	}
	return false
}

// appendHistory adds one sample per pair to the bounded in-memory history
// and persists it.
func (b *Bot) appendHistory(ctx context.Context, rates []domain.Rate) {
	const op = "appendHistory"

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rates {
		point := domain.PricePoint{Pair: r.Pair, Price: r.Rate, Timestamp: r.Timestamp}
		b.history[r.Pair] = append(b.history[r.Pair], point)
		if max := b.cfg.History.MaxPoints; len(b.history[r.Pair]) > max {
			b.history[r.Pair] = b.history[r.Pair][len(b.history[r.Pair])-max:]
		}
		if err := b.prices.Append(ctx, &point); err != nil {
			b.logger.Warn(ctx, "Failed to persist price sample", map[string]interface{}{
				"op":    op,
				"pair":  r.Pair,
				"error": err.Error(),
			})
		}
	}
}

// historySnapshot copies the per-pair history map for lock-free consumers.
func (b *Bot) historySnapshot() map[string][]domain.PricePoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]domain.PricePoint, len(b.history))
	for pair, points := range b.history {
		out[pair] = append([]domain.PricePoint(nil), points...)
	}
	return out
}

// resolvePredictions marks outstanding predictions WIN or LOSS once their
// target or stop level has been touched.
func (b *Bot) resolvePredictions(ctx context.Context, priceMap map[string]float64) {
	const op = "resolvePredictions"

	unresolved, err := b.predictions.FindUnresolved(ctx)
	if err != nil {
		b.logger.Warn(ctx, "Failed to load unresolved predictions", map[string]interface{}{"op": op, "error": err.Error()})
		return
	}
	for _, p := range unresolved {
		price, ok := priceMap[p.Pair]
		if !ok || price <= 0 {
			continue
		}

		var (
			outcome  domain.PredictionOutcome
			resolved bool
		)
		if p.Direction == domain.DirectionUp {
			switch {
			case price >= p.TakeProfit:
				outcome, resolved = domain.OutcomeWin, true
			case price <= p.StopLoss:
				outcome, resolved = domain.OutcomeLoss, true
			}
		} else {
			switch {
			case price <= p.TakeProfit:
				outcome, resolved = domain.OutcomeWin, true
			case price >= p.StopLoss:
				outcome, resolved = domain.OutcomeLoss, true
			}
		}
		if !resolved {
			continue
		}

		pips := (price - p.EntryPrice) / domain.PipSize(p.Pair)
		if p.Direction == domain.DirectionDown {
			pips = -pips
		}
		if err := b.predictions.Resolve(ctx, p.ID, outcome, pips); err != nil {
			b.logger.Warn(ctx, "Failed to resolve prediction", map[string]interface{}{
				"op":           op,
				"predictionID": p.ID,
				"error":        err.Error(),
			})
		}
	}
}

// generateEntries runs the prediction/admission/execution sequence per pair.
// Per-pair failures are logged and skipped.
func (b *Bot) generateEntries(ctx context.Context, histories map[string][]domain.PricePoint) int {
	const op = "generateEntries"

	if b.timeExit.ShouldBlockNewTrades() {
		b.logger.Debug(ctx, "New entries blocked by time-exit policy", map[string]interface{}{"op": op})
		return 0
	}

	opened := 0
	for _, pair := range b.cfg.Pairs {
		history := histories[pair]
		if len(history) < b.cfg.History.MinForPrediction {
			continue
		}

		pred, err := b.predictor.GeneratePrediction(ctx, pair, history)
		if err != nil {
			b.logger.Error(ctx, err, "Prediction failed", map[string]interface{}{"op": op, "pair": pair})
			continue
		}
		if pred == nil {
			continue
		}

		id, err := b.predictions.Log(ctx, pred)
		if err != nil {
			b.logger.Warn(ctx, "Failed to log prediction", map[string]interface{}{"op": op, "pair": pair, "error": err.Error()})
		} else {
			pred.ID = id
			b.logActivity(ctx, domain.ActivityPredictionMade,
				fmt.Sprintf("Prediction %s %s (%.2f confidence)", pred.Pair, pred.Direction, pred.Confidence),
				map[string]interface{}{
					"predictionID": pred.ID,
					"pair":         pred.Pair,
					"direction":    string(pred.Direction),
					"confidence":   pred.Confidence,
				})
		}

		if pred.Confidence < b.confidenceThreshold(ctx, pair) {
			continue
		}

		trade, reason, err := b.engine.ExecuteTrade(ctx, pred, history)
		if err != nil {
			b.logger.Error(ctx, err, "Trade execution failed", map[string]interface{}{"op": op, "pair": pair})
			continue
		}
		if trade == nil {
			b.logger.Debug(ctx, "Trade not admitted", map[string]interface{}{"op": op, "pair": pair, "reason": reason})
			continue
		}
		opened++
	}
	return opened
}

// confidenceThreshold lowers the entry bar while a pair has few resolved
// predictions, so the outcome sample grows faster early on.
func (b *Bot) confidenceThreshold(ctx context.Context, pair string) float64 {
	threshold := b.cfg.Trading.MinConfidence
	if b.cfg.Trading.ConfidenceDiscount <= 0 {
		return threshold
	}
	samples, err := b.predictions.CountResolvedByPair(ctx, pair)
	if err != nil {
		return threshold
	}
	if samples < b.cfg.Trading.MinSamplesPerPair {
		return threshold - b.cfg.Trading.ConfidenceDiscount
	}
	return threshold
}

// riskCheck is the 10-second timer body: refresh stats, evaluate levels.
func (b *Bot) riskCheck(ctx context.Context) {
	const op = "riskCheck"
	if err := b.risk.RefreshDailyStats(ctx); err != nil {
		b.logger.Warn(ctx, "Risk stats refresh failed", map[string]interface{}{"op": op, "error": err.Error()})
		return
	}
	balance, err := b.engine.Balance(ctx)
	if err != nil {
		b.logger.Warn(ctx, "Balance read failed during risk check", map[string]interface{}{"op": op, "error": err.Error()})
		return
	}
	if _, err := b.risk.PerformRiskCheck(ctx, balance); err != nil {
		b.logger.Error(ctx, err, "Risk check failed", map[string]interface{}{"op": op})
	}
}

// --- Control surface ---

// Status reports the bot's operational state.
func (b *Bot) Status() BotStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	lengths := make(map[string]int, len(b.history))
	for pair, points := range b.history {
		lengths[pair] = len(points)
	}
	return BotStatus{
		Enabled:    b.enabled,
		IsRunning:  b.running.Load(),
		LastRun:    b.lastRun,
		RunCount:   b.runCount,
		Mode:       b.engine.Mode(),
		HistoryLen: lengths,
	}
}

// StartTrading enables the bot, persists the flag, and audits the change.
func (b *Bot) StartTrading(ctx context.Context) error {
	return b.setEnabled(ctx, true)
}

// StopTrading disables the bot without closing open trades.
func (b *Bot) StopTrading(ctx context.Context) error {
	return b.setEnabled(ctx, false)
}

func (b *Bot) setEnabled(ctx context.Context, enabled bool) error {
	b.mu.Lock()
	changed := b.enabled != enabled
	b.enabled = enabled
	b.mu.Unlock()
	if !changed {
		return nil
	}

	value := "false"
	msg := "Trading stopped"
	if enabled {
		value = "true"
		msg = "Trading started"
	}
	if err := b.settings.Set(ctx, settingEnabled, value); err != nil {
		return fmt.Errorf("failed to persist enabled flag: %w", err)
	}
	b.logActivity(ctx, domain.ActivitySettingsChange, msg, map[string]interface{}{"enabled": enabled})
	return nil
}

// OpenTrades lists the currently open trades.
func (b *Bot) OpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	return b.engine.OpenTrades(ctx)
}

// CloseTradeAt closes one trade by id at the supplied price.
func (b *Bot) CloseTradeAt(ctx context.Context, id int64, price float64) (*domain.Trade, error) {
	return b.engine.CloseTrade(ctx, id, price, domain.CloseReasonManual)
}

// CloseAll closes every open trade at the freshest available rates.
func (b *Bot) CloseAll(ctx context.Context) ([]*domain.Trade, error) {
	rates, err := b.feed.FetchLiveRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("CloseAll: price fetch failed: %w", err)
	}
	return b.engine.CloseAllTrades(ctx, ports.RateMap(rates), domain.CloseReasonManual)
}

// Equity is the account balance plus unrealized P&L across open trades.
func (b *Bot) Equity(ctx context.Context) (float64, error) {
	balance, err := b.engine.Balance(ctx)
	if err != nil {
		return 0, err
	}
	open, err := b.engine.OpenTrades(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range open {
		balance += t.PnL
	}
	return balance, nil
}

// RiskSnapshot exposes the risk manager's current state.
func (b *Bot) RiskSnapshot() risk.Snapshot {
	return b.risk.Snapshot()
}

// RiskGauges exposes the dashboard gauges for the current balance.
func (b *Bot) RiskGauges(ctx context.Context) ([]risk.Gauge, error) {
	balance, err := b.engine.Balance(ctx)
	if err != nil {
		return nil, err
	}
	return b.risk.Gauges(balance), nil
}

// TriggerKillSwitch latches the kill switch manually.
func (b *Bot) TriggerKillSwitch(ctx context.Context, reason string) (bool, error) {
	return b.risk.TriggerKillSwitch(ctx, reason)
}

// ResetKillSwitch unlatches the kill switch manually.
func (b *Bot) ResetKillSwitch(ctx context.Context) {
	b.risk.ResetKillSwitch(ctx)
}

// GetSetting reads one persisted setting.
func (b *Bot) GetSetting(ctx context.Context, key string) (string, error) {
	return b.settings.Get(ctx, key)
}

// SetSetting writes one persisted setting and audits the change.
func (b *Bot) SetSetting(ctx context.Context, key, value string) error {
	if err := b.settings.Set(ctx, key, value); err != nil {
		return err
	}
	b.logActivity(ctx, domain.ActivitySettingsChange,
		fmt.Sprintf("Setting %s updated", key),
		map[string]interface{}{"key": key})
	return nil
}

// Settings returns every persisted setting.
func (b *Bot) Settings(ctx context.Context) (map[string]string, error) {
	return b.settings.All(ctx)
}

// restoreEnabledFlag loads the persisted on/off state; absence means enabled.
func (b *Bot) restoreEnabledFlag(ctx context.Context) {
	value, err := b.settings.Get(ctx, settingEnabled)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.enabled = value != "false"
	b.mu.Unlock()
}

// seedHistory loads the recent persisted samples per pair so predictions do
// not wait for the in-memory history to refill after a restart.
func (b *Bot) seedHistory(ctx context.Context) {
	const op = "seedHistory"
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pair := range b.cfg.Pairs {
		points, err := b.prices.RecentByPair(ctx, pair, b.cfg.History.MaxPoints)
		if err != nil {
			b.logger.Warn(ctx, "Failed to seed price history", map[string]interface{}{
				"op":    op,
				"pair":  pair,
				"error": err.Error(),
			})
			continue
		}
		if len(points) > 0 {
			b.history[pair] = points
		}
	}
}

func (b *Bot) logActivity(ctx context.Context, typ domain.ActivityType, msg string, data map[string]interface{}) {
	if err := b.activity.Log(ctx, typ, msg, data); err != nil {
		b.logger.Warn(ctx, "Failed to write activity record", map[string]interface{}{"error": err.Error()})
	}
}
