// Package sizing converts account balance, stop distance and volatility into
// a position size under one of several risk policies.
package sizing

import (
	"context"
	"fmt"
	"math"

	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/indicators"
	"fxTradeBot/internal/ports"
)

// Method names the sizing policy that produced a decision.
type Method string

const (
	MethodFixed      Method = "FIXED"
	MethodVolatility Method = "VOLATILITY"
	MethodKelly      Method = "KELLY"
	MethodRiskParity Method = "RISK_PARITY"
	MethodRejected   Method = "REJECTED"
)

// Lot bounds applied to every decision.
const (
	MinLots = 0.01
	MaxLots = 1.0
)

// Decision is the output-only sizing result; it is recomputed per entry and
// never persisted.
type Decision struct {
	Lots        float64
	RiskPercent float64
	RiskAmount  float64
	Method      Method
	Reason      string
}

// Config parameterizes the sizer. Percentages are whole numbers (1.0 = 1%).
type Config struct {
	Method           Method
	RiskPercent      float64 // base risk per trade
	MinRiskPercent   float64
	MaxRiskPercent   float64
	TargetVolPips    float64 // assumed average forex volatility, in pips
	ATRPeriod        int
	KellyFraction    float64 // e.g. 0.25 for quarter-Kelly
	KellyLookback    int     // closed trades examined
	KellyMinSamples  int     // below this, fall back to KellyDefaultRisk
	KellyDefaultRisk float64
	TotalRiskBudget  float64 // risk parity: total % split across slots
	MaxConcurrent    int     // risk parity slots
}

// Sizer computes position sizes. It reads closed-trade history through the
// trade repository for the Kelly policy.
type Sizer struct {
	cfg        Config
	logger     ports.Logger
	trades     ports.TradeRepository
	compliance ports.CompliancePolicy
}

// New creates a position sizer. The trade repository may be nil when the
// Kelly policy is not in use; the compliance policy may be nil.
func New(cfg Config, logger ports.Logger, trades ports.TradeRepository, compliance ports.CompliancePolicy) (*Sizer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for sizer")
	}
	if cfg.Method == MethodKelly && trades == nil {
		return nil, fmt.Errorf("trade repository is required for Kelly sizing")
	}
	if cfg.ATRPeriod <= 1 {
		cfg.ATRPeriod = 14
	}
	return &Sizer{cfg: cfg, logger: logger, trades: trades, compliance: compliance}, nil
}

// Calculate produces a sizing decision for one prospective entry.
// Invalid inputs are rejected with lots 0, never an error.
func (s *Sizer) Calculate(ctx context.Context, balance, stopLossPips float64, pair string, history []domain.PricePoint) Decision {
	if balance <= 0 {
		return Decision{Method: MethodRejected, Reason: "balance must be positive"}
	}
	if stopLossPips <= 0 {
		return Decision{Method: MethodRejected, Reason: "stop distance must be positive"}
	}

	var (
		riskPct float64
		method  Method
		reason  string
	)
	switch s.cfg.Method {
	case MethodVolatility:
		riskPct, reason = s.volatilityRisk(pair, history)
		method = MethodVolatility
	case MethodKelly:
		riskPct, reason = s.kellyRisk(ctx)
		method = MethodKelly
	case MethodRiskParity:
		riskPct, reason = s.riskParityRisk(pair, history)
		method = MethodRiskParity
	default:
		riskPct = s.cfg.RiskPercent
		method = MethodFixed
		reason = "fixed fractional risk"
	}

	riskAmount := balance * riskPct / 100
	lots := riskAmount / (stopLossPips * domain.PipValuePerLot(pair))
	lots = clamp(lots, MinLots, MaxLots)

	// Leverage-capped compliance mode: lots × standardLot ≤ balance × maxLeverage.
	if s.compliance != nil && s.compliance.Enabled() && s.compliance.LeverageCapped() {
		maxByLeverage := balance * s.compliance.MaxLeverage() / domain.StandardLotUnits
		if lots > maxByLeverage {
			lots = math.Max(MinLots, maxByLeverage)
			reason = reason + "; capped by leverage limit"
		}
	}

	s.logger.Debug(ctx, "Position sized", map[string]interface{}{
		"pair":        pair,
		"method":      string(method),
		"riskPercent": riskPct,
		"stopPips":    stopLossPips,
		"lots":        lots,
	})

	return Decision{
		Lots:        roundLots(lots),
		RiskPercent: riskPct,
		RiskAmount:  riskAmount,
		Method:      method,
		Reason:      reason,
	}
}

// volatilityRisk scales the base risk by targetVol/currentVol, clamped to
// [0.25×, 2×] of base, then to the configured global bounds.
func (s *Sizer) volatilityRisk(pair string, history []domain.PricePoint) (float64, string) {
	base := s.cfg.RiskPercent
	atr, err := indicators.ATRProxy(domain.Closes(history), s.cfg.ATRPeriod)
	if err != nil || atr <= 0 {
		return clamp(base, s.cfg.MinRiskPercent, s.cfg.MaxRiskPercent), "volatility unknown, base risk"
	}
	currentVolPips := atr / domain.PipSize(pair)
	scale := clamp(s.cfg.TargetVolPips/currentVolPips, 0.25, 2.0)
	risk := clamp(base*scale, s.cfg.MinRiskPercent, s.cfg.MaxRiskPercent)
	return risk, fmt.Sprintf("volatility-adjusted ×%.2f", scale)
}

// kellyRisk derives risk from realized performance:
// kelly = winRate − (1−winRate)/(avgWin/avgLoss), scaled by the configured
// Kelly fraction and capped at MaxRiskPercent. Falls back to the default
// fraction below the minimum sample count.
func (s *Sizer) kellyRisk(ctx context.Context) (float64, string) {
	closed, err := s.trades.FindRecentClosed(ctx, s.cfg.KellyLookback)
	if err != nil {
		s.logger.Warn(ctx, "Kelly sizing falling back to default risk", map[string]interface{}{"error": err.Error()})
		return s.cfg.KellyDefaultRisk, "history unavailable, default fraction"
	}
	st := ComputeTradeStats(closed)
	if st.Samples < s.cfg.KellyMinSamples || st.AvgLoss == 0 || st.AvgWin == 0 {
		return s.cfg.KellyDefaultRisk, fmt.Sprintf("insufficient samples (%d), default fraction", st.Samples)
	}

	payoff := st.AvgWin / st.AvgLoss
	kelly := st.WinRate - (1-st.WinRate)/payoff
	if kelly <= 0 {
		return s.cfg.MinRiskPercent, "negative Kelly edge, minimum risk"
	}
	risk := math.Min(kelly*100*s.cfg.KellyFraction, s.cfg.MaxRiskPercent)
	return risk, fmt.Sprintf("kelly %.3f × fraction %.2f", kelly, s.cfg.KellyFraction)
}

// riskParityRisk splits the total risk budget evenly across the maximum
// concurrent positions, then volatility-adjusts the slice the same way the
// volatility policy does.
func (s *Sizer) riskParityRisk(pair string, history []domain.PricePoint) (float64, string) {
	slots := s.cfg.MaxConcurrent
	if slots <= 0 {
		slots = 1
	}
	perPosition := s.cfg.TotalRiskBudget / float64(slots)

	atr, err := indicators.ATRProxy(domain.Closes(history), s.cfg.ATRPeriod)
	if err != nil || atr <= 0 {
		return clamp(perPosition, s.cfg.MinRiskPercent, s.cfg.MaxRiskPercent), "risk parity, volatility unknown"
	}
	currentVolPips := atr / domain.PipSize(pair)
	scale := clamp(s.cfg.TargetVolPips/currentVolPips, 0.25, 2.0)
	risk := clamp(perPosition*scale, s.cfg.MinRiskPercent, s.cfg.MaxRiskPercent)
	return risk, fmt.Sprintf("risk parity %.2f%% ×%.2f", perPosition, scale)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// roundLots rounds to the 0.01-lot broker increment.
func roundLots(lots float64) float64 {
	return math.Round(lots*100) / 100
}
