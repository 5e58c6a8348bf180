package domain

import "time"

// PredictionOutcome records how a logged prediction resolved.
type PredictionOutcome string

const (
	OutcomeWin  PredictionOutcome = "WIN"
	OutcomeLoss PredictionOutcome = "LOSS"
)

// Prediction is a trade signal produced by the prediction service.
type Prediction struct {
	ID         int64
	Pair       string
	Direction  Direction
	Signal     string  // Short signal tag (e.g., "MA_CROSS_RSI")
	Confidence float64 // [0,1]
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Reasoning  string
	CreatedAt  time.Time

	// Resolution state, filled in once the target or stop is touched.
	Resolved   bool
	Outcome    PredictionOutcome
	ResultPips float64
	ResolvedAt time.Time
}

// StopDistancePips returns the entry-to-stop distance in pips.
func (p *Prediction) StopDistancePips() float64 {
	d := p.EntryPrice - p.StopLoss
	if d < 0 {
		d = -d
	}
	return d / PipSize(p.Pair)
}
