package sizing

import "fxTradeBot/internal/domain"

// TradeStats summarizes closed-trade performance for the Kelly policy.
type TradeStats struct {
	Samples int
	Wins    int
	Losses  int
	WinRate float64
	AvgWin  float64 // mean positive P&L
	AvgLoss float64 // mean |negative P&L|
}

// ComputeTradeStats derives win rate and average win/loss from a set of
// closed trades. Zero-P&L trades count as samples but as neither win nor
// loss.
func ComputeTradeStats(trades []*domain.Trade) TradeStats {
	st := TradeStats{}
	var winSum, lossSum float64
	for _, t := range trades {
		if t.Status != domain.StatusClosed {
			continue
		}
		st.Samples++
		switch {
		case t.PnL > 0:
			st.Wins++
			winSum += t.PnL
		case t.PnL < 0:
			st.Losses++
			lossSum += -t.PnL
		}
	}
	if st.Samples > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Samples)
	}
	if st.Wins > 0 {
		st.AvgWin = winSum / float64(st.Wins)
	}
	if st.Losses > 0 {
		st.AvgLoss = lossSum / float64(st.Losses)
	}
	return st
}
