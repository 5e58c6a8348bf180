package ports

import (
	"context"

	"fxTradeBot/internal/domain"
)

// PriceFeed supplies live rates for the tracked pairs.
// Implementations own their source priority/fallback chain and freshness
// caching; the engine only consumes the pair→rate projection.
type PriceFeed interface {
	FetchLiveRates(ctx context.Context) ([]domain.Rate, error)
}

// RateMap projects a rate slice into the pair→rate form the engine consumes.
func RateMap(rates []domain.Rate) map[string]float64 {
	m := make(map[string]float64, len(rates))
	for _, r := range rates {
		m[r.Pair] = r.Rate
	}
	return m
}
