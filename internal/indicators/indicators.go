// Package indicators provides close-price technical indicators. The price
// history the engine keeps is close-only, so the ATR here is the
// true-range proxy |Δclose| × 1.5 rather than the high/low form.
package indicators

import (
	"fmt"
	"math"
)

// TrueRangeFactor scales |Δclose| to approximate the full true range when
// only close prices are available.
const TrueRangeFactor = 1.5

// SMA computes the simple moving average of the last period closes.
func SMA(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("SMA period must be positive, got %d", period)
	}
	if len(closes) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(closes), period)
	}
	total := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		total += closes[i]
	}
	return total / float64(period), nil
}

// EMA computes the exponential moving average, seeded with the SMA of the
// first period closes.
func EMA(closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(closes), period)
	}
	seed, err := SMA(closes[:period], period)
	if err != nil {
		return 0, err
	}
	multiplier := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(closes); i++ {
		ema = (closes[i]-ema)*multiplier + ema
	}
	return ema, nil
}

// RSI computes the Relative Strength Index using Wilder's smoothing.
func RSI(closes []float64, period int) (float64, error) {
	if len(closes) <= period {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(closes), period)
	}

	changes := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		changes = append(changes, closes[i]-closes[i-1])
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*float64(period-1) + changes[i]) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - changes[i]) / float64(period)
		}
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}

	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	return math.Max(0, math.Min(100, rsi)), nil
}

// ATRProxy estimates the Average True Range from close-only data: the mean
// of |Δclose| × TrueRangeFactor over the last period deltas.
func ATRProxy(closes []float64, period int) (float64, error) {
	if len(closes) < 2 {
		return 0, fmt.Errorf("not enough data (%d) to estimate ATR", len(closes))
	}
	if period <= 0 {
		return 0, fmt.Errorf("ATR period must be positive, got %d", period)
	}

	start := len(closes) - period - 1
	if start < 0 {
		start = 0
	}
	sum, n := 0.0, 0
	for i := start + 1; i < len(closes); i++ {
		sum += math.Abs(closes[i]-closes[i-1]) * TrueRangeFactor
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("not enough data (%d) to estimate ATR", len(closes))
	}
	return sum / float64(n), nil
}

// HighestLowest returns the highest and lowest close over the last
// lookback samples (or all samples when fewer exist).
func HighestLowest(closes []float64, lookback int) (high, low float64, err error) {
	if len(closes) == 0 {
		return 0, 0, fmt.Errorf("no data for highest/lowest")
	}
	start := len(closes) - lookback
	if start < 0 {
		start = 0
	}
	high, low = closes[start], closes[start]
	for _, c := range closes[start+1:] {
		if c > high {
			high = c
		}
		if c < low {
			low = c
		}
	}
	return high, low, nil
}
