// Package risk monitors account-level exposure and owns the kill switch.
// The risk level only escalates within a trading day; it drops back to
// NORMAL at the UTC day boundary or on a manual reset.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/ports"
)

// Config holds risk limits as percentages of account balance.
type Config struct {
	MaxDailyLossPercent float64 // e.g. 2.0 = 2% of balance per day
	MaxDrawdownPercent  float64 // intraday peak-to-trough
}

// Snapshot is the externally visible risk state.
type Snapshot struct {
	Level               domain.RiskLevel
	DailyPnL            float64
	HighWaterMark       float64
	LowWaterMark        float64
	CurrentDrawdown     float64
	KillSwitchTriggered bool
	KillSwitchReason    string
	LastReset           time.Time
}

// Gauge is one dashboard metric: current value against its limit.
type Gauge struct {
	Name         string
	Current      float64
	Limit        float64
	UsagePercent float64
}

// LevelListener is notified on every risk-level transition.
type LevelListener func(old, new domain.RiskLevel)

// KillSwitchHook runs side effects when the switch latches, such as forcing
// the execution engine into simulation mode. Hooks must not call back into
// the manager.
type KillSwitchHook func(ctx context.Context, reason string)

// Manager tracks daily P&L and drawdown and enforces the hard stop. All
// state is guarded by one mutex; the risk-check timer and the cycle
// orchestrator both call in concurrently.
type Manager struct {
	cfg      Config
	logger   ports.Logger
	trades   ports.TradeRepository
	activity ports.ActivityLogger
	now      func() time.Time

	mu               sync.Mutex
	level            domain.RiskLevel
	dailyPnL         float64
	highWaterMark    float64
	lowWaterMark     float64
	currentDrawdown  float64
	killSwitch       bool
	killSwitchReason string
	lastReset        time.Time
	listeners        []LevelListener
	hooks            []KillSwitchHook
}

// New creates a risk manager.
func New(cfg Config, logger ports.Logger, trades ports.TradeRepository, activity ports.ActivityLogger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for risk manager")
	}
	if trades == nil {
		return nil, fmt.Errorf("trade repository is required for risk manager")
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		trades:    trades,
		activity:  activity,
		now:       time.Now,
		level:     domain.RiskNormal,
		lastReset: time.Now().UTC(),
	}, nil
}

// WithClock overrides the time source for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	m.mu.Lock()
	m.lastReset = now().UTC()
	m.mu.Unlock()
	return m
}

// RegisterLevelListener adds a listener for risk-level transitions.
// Listeners are invoked synchronously, outside the manager's lock.
func (m *Manager) RegisterLevelListener(l LevelListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RegisterKillSwitchHook adds a side-effect hook for kill-switch latching.
func (m *Manager) RegisterKillSwitchHook(h KillSwitchHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// RefreshDailyStats recomputes today's P&L from persisted trades: realized
// P&L of trades closed today plus unrealized P&L of open trades. Water
// marks and drawdown are updated from the combined figure.
func (m *Manager) RefreshDailyStats(ctx context.Context) error {
	const op = "RefreshDailyStats"

	closed, err := m.trades.FindClosedToday(ctx)
	if err != nil {
		m.logger.Error(ctx, err, "Failed to load today's closed trades", map[string]interface{}{"op": op})
		return fmt.Errorf("%s: %w", op, err)
	}
	open, err := m.trades.FindOpen(ctx)
	if err != nil {
		m.logger.Error(ctx, err, "Failed to load open trades", map[string]interface{}{"op": op})
		return fmt.Errorf("%s: %w", op, err)
	}

	var total float64
	for _, t := range closed {
		total += t.PnL
	}
	for _, t := range open {
		total += t.PnLAt(t.CurrentPrice)
	}

	m.mu.Lock()
	m.dailyPnL = total
	if total > m.highWaterMark {
		m.highWaterMark = total
	}
	if total < m.lowWaterMark {
		m.lowWaterMark = total
	}
	m.currentDrawdown = math.Max(0, m.highWaterMark-total)
	m.mu.Unlock()
	return nil
}

// PerformRiskCheck refreshes daily stats and escalates the risk level
// against the given account balance. ELEVATED at 80% of the daily loss
// limit or at the drawdown limit; CRITICAL at 100% of the daily loss limit,
// which also latches the kill switch and forces STOPPED.
func (m *Manager) PerformRiskCheck(ctx context.Context, balance float64) (domain.RiskLevel, error) {
	const op = "PerformRiskCheck"

	if err := m.RefreshDailyStats(ctx); err != nil {
		m.mu.Lock()
		level := m.level
		m.mu.Unlock()
		return level, err
	}

	dailyLossLimit := balance * m.cfg.MaxDailyLossPercent / 100
	drawdownLimit := balance * m.cfg.MaxDrawdownPercent / 100

	m.mu.Lock()
	loss := -m.dailyPnL
	target := domain.RiskNormal
	switch {
	case loss >= dailyLossLimit:
		target = domain.RiskCritical
	case loss >= dailyLossLimit*0.8 || m.currentDrawdown >= drawdownLimit:
		target = domain.RiskElevated
	}

	old := m.level
	// Escalate only: the level never drops mid-day.
	if target.Rank() > m.level.Rank() {
		m.level = target
	}
	newLevel := m.level
	listeners := append([]LevelListener(nil), m.listeners...)
	m.mu.Unlock()

	if newLevel != old {
		m.logger.Warn(ctx, "Risk level escalated", map[string]interface{}{
			"op":       op,
			"from":     string(old),
			"to":       string(newLevel),
			"dailyPnL": m.Snapshot().DailyPnL,
		})
		m.logActivity(ctx, domain.ActivityRiskLevel,
			fmt.Sprintf("Risk level %s -> %s", old, newLevel),
			map[string]interface{}{"from": string(old), "to": string(newLevel)})
		for _, l := range listeners {
			l(old, newLevel)
		}
	}

	if newLevel == domain.RiskCritical {
		reason := fmt.Sprintf("daily loss %.2f reached limit %.2f", loss, dailyLossLimit)
		if _, err := m.TriggerKillSwitch(ctx, reason); err != nil {
			return newLevel, err
		}
		m.mu.Lock()
		newLevel = m.level
		m.mu.Unlock()
	}
	return newLevel, nil
}

// TriggerKillSwitch latches the kill switch. Idempotent: a second call
// reports alreadyTriggered and produces no further side effects or audit
// records.
func (m *Manager) TriggerKillSwitch(ctx context.Context, reason string) (alreadyTriggered bool, err error) {
	const op = "TriggerKillSwitch"

	m.mu.Lock()
	if m.killSwitch {
		m.mu.Unlock()
		return true, nil
	}
	m.killSwitch = true
	m.killSwitchReason = reason
	old := m.level
	m.level = domain.RiskStopped
	listeners := append([]LevelListener(nil), m.listeners...)
	hooks := append([]KillSwitchHook(nil), m.hooks...)
	m.mu.Unlock()

	m.logger.Error(ctx, nil, "KILL SWITCH TRIGGERED", map[string]interface{}{
		"op":     op,
		"reason": reason,
	})
	m.logActivity(ctx, domain.ActivityKillSwitch, "Kill switch triggered: "+reason,
		map[string]interface{}{"reason": reason})

	if old != domain.RiskStopped {
		for _, l := range listeners {
			l(old, domain.RiskStopped)
		}
	}
	for _, h := range hooks {
		h(ctx, reason)
	}
	return false, nil
}

// ResetKillSwitch manually un-latches the switch and returns the level to
// NORMAL. Intended for operator use; automatic reset happens at day
// rollover.
func (m *Manager) ResetKillSwitch(ctx context.Context) {
	m.mu.Lock()
	wasLatched := m.killSwitch
	m.killSwitch = false
	m.killSwitchReason = ""
	old := m.level
	m.level = domain.RiskNormal
	listeners := append([]LevelListener(nil), m.listeners...)
	m.mu.Unlock()

	if !wasLatched && old == domain.RiskNormal {
		return
	}
	m.logger.Warn(ctx, "Kill switch reset", map[string]interface{}{"previousLevel": string(old)})
	m.logActivity(ctx, domain.ActivityKillSwitch, "Kill switch manually reset", nil)
	if old != domain.RiskNormal {
		for _, l := range listeners {
			l(old, domain.RiskNormal)
		}
	}
}

// CanTrade reports whether any trading activity is allowed.
func (m *Manager) CanTrade() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.killSwitch && m.level != domain.RiskStopped && m.level != domain.RiskCritical
}

// CanOpenNewTrade reports whether new entries are allowed. Currently the
// same predicate as CanTrade; kept separate because admission control and
// trade management may diverge.
func (m *Manager) CanOpenNewTrade() bool {
	return m.CanTrade()
}

// CheckDayRollover compares the current UTC date with the last reset date
// and, on a new day, zeroes daily stats and un-latches the kill switch.
// Intended to run on a once-a-minute timer.
func (m *Manager) CheckDayRollover(ctx context.Context) bool {
	now := m.now().UTC()

	m.mu.Lock()
	last := m.lastReset
	if now.Year() == last.Year() && now.YearDay() == last.YearDay() {
		m.mu.Unlock()
		return false
	}
	old := m.level
	m.dailyPnL = 0
	m.highWaterMark = 0
	m.lowWaterMark = 0
	m.currentDrawdown = 0
	m.killSwitch = false
	m.killSwitchReason = ""
	m.level = domain.RiskNormal
	m.lastReset = now
	listeners := append([]LevelListener(nil), m.listeners...)
	m.mu.Unlock()

	m.logger.Info(ctx, "Daily risk stats reset", map[string]interface{}{
		"date":          now.Format("2006-01-02"),
		"previousLevel": string(old),
	})
	if old != domain.RiskNormal {
		for _, l := range listeners {
			l(old, domain.RiskNormal)
		}
	}
	return true
}

// Snapshot returns a copy of the current risk state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Level:               m.level,
		DailyPnL:            m.dailyPnL,
		HighWaterMark:       m.highWaterMark,
		LowWaterMark:        m.lowWaterMark,
		CurrentDrawdown:     m.currentDrawdown,
		KillSwitchTriggered: m.killSwitch,
		KillSwitchReason:    m.killSwitchReason,
		LastReset:           m.lastReset,
	}
}

// Gauges renders the snapshot as dashboard metrics against the limits
// implied by the given balance.
func (m *Manager) Gauges(balance float64) []Gauge {
	snap := m.Snapshot()
	dailyLossLimit := balance * m.cfg.MaxDailyLossPercent / 100
	drawdownLimit := balance * m.cfg.MaxDrawdownPercent / 100

	loss := math.Max(0, -snap.DailyPnL)
	return []Gauge{
		{Name: "daily_loss", Current: loss, Limit: dailyLossLimit, UsagePercent: usagePercent(loss, dailyLossLimit)},
		{Name: "drawdown", Current: snap.CurrentDrawdown, Limit: drawdownLimit, UsagePercent: usagePercent(snap.CurrentDrawdown, drawdownLimit)},
	}
}

func usagePercent(current, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Min(100, current/limit*100)
}

func (m *Manager) logActivity(ctx context.Context, typ domain.ActivityType, msg string, data map[string]interface{}) {
	if m.activity == nil {
		return
	}
	if err := m.activity.Log(ctx, typ, msg, data); err != nil {
		m.logger.Warn(ctx, "Failed to write activity record", map[string]interface{}{"error": err.Error()})
	}
}
