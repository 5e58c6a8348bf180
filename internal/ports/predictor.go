package ports

import (
	"context"

	"fxTradeBot/internal/domain"
)

// Predictor generates trade signals from a pair's price history.
// A nil prediction with a nil error means "no signal right now".
// The in-process technical-indicator implementation lives in
// internal/predictor; an external ML service can replace it behind
// this same boundary.
type Predictor interface {
	GeneratePrediction(ctx context.Context, pair string, history []domain.PricePoint) (*domain.Prediction, error)
}
