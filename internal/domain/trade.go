package domain

import "time"

// Trade represents a position held by the bot.
// At most one OPEN trade may exist per pair at any time.
type Trade struct {
	ID           int64       // Unique identifier (assigned by the repository)
	Pair         string      // Currency pair (e.g., "EUR/USD")
	Direction    Direction   // UP (long) or DOWN (short)
	EntryPrice   float64     // Price at which the trade was entered
	CurrentPrice float64     // Latest known price, refreshed every cycle
	StopLoss     float64     // Initial protective stop level
	TakeProfit   float64     // Profit target level
	TrailingStop *float64    // Advanced stop; overrides StopLoss when set
	PositionSize float64     // Size in lots
	Confidence   float64     // Prediction confidence at entry
	Status       TradeStatus // OPEN or CLOSED (CLOSED is terminal)
	PnLPips      float64     // Profit/loss in pips
	PnL          float64     // Profit/loss in account currency
	CloseReason  CloseReason // Why the trade was closed (empty while open)
	OpenedAt     time.Time   // Entry timestamp
	ClosedAt     time.Time   // Exit timestamp (zero value while open)
}

// IsOpen reports whether the trade is still open.
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// EffectiveStop returns the stop level the exit check uses:
// the trailing stop when one has been set, else the initial stop loss.
func (t *Trade) EffectiveStop() float64 {
	if t.TrailingStop != nil {
		return *t.TrailingStop
	}
	return t.StopLoss
}

// PnLPipsAt returns the unrealized profit in pips at the given price.
func (t *Trade) PnLPipsAt(price float64) float64 {
	pip := PipSize(t.Pair)
	if t.Direction == DirectionUp {
		return (price - t.EntryPrice) / pip
	}
	return (t.EntryPrice - price) / pip
}

// PnLAt returns the unrealized profit in account currency at the given price.
// pnl = pnlPips × positionSize × pipValuePerLot.
func (t *Trade) PnLAt(price float64) float64 {
	return t.PnLPipsAt(price) * t.PositionSize * PipValuePerLot(t.Pair)
}
