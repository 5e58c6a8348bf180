// Package predictor is the in-process prediction service: a
// technical-indicator model combining a moving-average crossover with an
// RSI overextension filter. It satisfies ports.Predictor so an external ML
// service can replace it without touching the engine.
package predictor

import (
	"context"
	"fmt"
	"math"
	"time"

	"fxTradeBot/config"
	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/indicators"
	"fxTradeBot/internal/ports"
)

// Predictor generates signals from close-only price history.
type Predictor struct {
	cfg    config.PredictorConfig
	logger ports.Logger
}

// New creates a technical-indicator predictor.
func New(cfg config.PredictorConfig, logger ports.Logger) (*Predictor, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for predictor")
	}
	if cfg.ShortMAPeriod >= cfg.LongMAPeriod {
		return nil, fmt.Errorf("short MA period (%d) must be below long MA period (%d)", cfg.ShortMAPeriod, cfg.LongMAPeriod)
	}
	return &Predictor{cfg: cfg, logger: logger}, nil
}

// GeneratePrediction evaluates the pair's history and returns a signal, or
// nil when the indicators do not line up. Stop and target are placed at
// ATR multiples from the entry.
func (p *Predictor) GeneratePrediction(ctx context.Context, pair string, history []domain.PricePoint) (*domain.Prediction, error) {
	closes := domain.Closes(history)
	if len(closes) < p.cfg.LongMAPeriod+1 {
		return nil, nil
	}

	shortMA, err := indicators.SMA(closes, p.cfg.ShortMAPeriod)
	if err != nil {
		return nil, fmt.Errorf("GeneratePrediction: %w", err)
	}
	longMA, err := indicators.SMA(closes, p.cfg.LongMAPeriod)
	if err != nil {
		return nil, fmt.Errorf("GeneratePrediction: %w", err)
	}
	rsi, err := indicators.RSI(closes, p.cfg.RSIPeriod)
	if err != nil {
		return nil, fmt.Errorf("GeneratePrediction: %w", err)
	}
	atr, err := indicators.ATRProxy(closes, p.cfg.ATRPeriod)
	if err != nil || atr <= 0 {
		return nil, nil
	}

	entry := closes[len(closes)-1]
	maGap := shortMA - longMA

	// The crossover must clear a noise floor relative to volatility.
	if math.Abs(maGap) < 0.1*atr {
		return nil, nil
	}

	var direction domain.Direction
	if maGap > 0 {
		direction = domain.DirectionUp
	} else {
		direction = domain.DirectionDown
	}

	// Momentum must agree with the crossover.
	momentum := entry - closes[len(closes)-1-p.cfg.ShortMAPeriod]
	if (direction == domain.DirectionUp && momentum <= 0) ||
		(direction == domain.DirectionDown && momentum >= 0) {
		return nil, nil
	}

	// Skip overextended entries.
	if direction == domain.DirectionUp && rsi >= p.cfg.RSIOverbought {
		return nil, nil
	}
	if direction == domain.DirectionDown && rsi <= p.cfg.RSIOversold {
		return nil, nil
	}

	// Confidence grows with crossover strength relative to volatility.
	confidence := 0.55 + 0.3*math.Min(1, math.Abs(maGap)/atr)
	if confidence > 0.95 {
		confidence = 0.95
	}

	var stop, target float64
	if direction == domain.DirectionUp {
		stop = entry - atr*p.cfg.StopATRMult
		target = entry + atr*p.cfg.TargetATRMult
	} else {
		stop = entry + atr*p.cfg.StopATRMult
		target = entry - atr*p.cfg.TargetATRMult
	}

	pred := &domain.Prediction{
		Pair:       pair,
		Direction:  direction,
		Signal:     "MA_CROSS_RSI",
		Confidence: confidence,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Reasoning: fmt.Sprintf("MA %d/%d gap %.5f, RSI %.1f, ATR %.5f",
			p.cfg.ShortMAPeriod, p.cfg.LongMAPeriod, maGap, rsi, atr),
		CreatedAt: time.Now().UTC(),
	}

	p.logger.Debug(ctx, "Prediction generated", map[string]interface{}{
		"pair":       pair,
		"direction":  string(direction),
		"confidence": confidence,
		"entry":      entry,
	})
	return pred, nil
}
