package domain

import "time"

// Rate is a single live quote from the price feed.
type Rate struct {
	Pair      string
	Rate      float64
	Timestamp time.Time
}

// PricePoint is one persisted sample of a pair's rolling price history.
type PricePoint struct {
	ID        int64
	Pair      string
	Price     float64
	Timestamp time.Time
}

// Closes extracts the close prices of a history slice, oldest first.
func Closes(points []PricePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}
