package ports

import (
	"context"
	"time"

	"fxTradeBot/internal/domain"
)

// OrderFill is the essential result of an executed order.
type OrderFill struct {
	OrderID   string    // Backend order id (uuid for sim/paper, broker id for live)
	Pair      string    // Pair the order was filled on
	Price     float64   // Fill price
	Lots      float64   // Filled size in lots
	Timestamp time.Time // Fill time
}

// TradeExecutor is one execution backend behind the engine façade.
// Exactly three implementations exist: the simulated ledger, the paper
// broker, and the live broker adapter.
type TradeExecutor interface {
	// Mode identifies which backend this is.
	Mode() domain.ExecutionMode
	// OpenOrder fills an opening order at the supplied market price.
	OpenOrder(ctx context.Context, pair string, direction domain.Direction, lots, price float64) (*OrderFill, error)
	// CloseOrder fills a closing order at the supplied market price.
	CloseOrder(ctx context.Context, pair string, direction domain.Direction, lots, price float64) (*OrderFill, error)
	// Settle applies realized P&L to the backend's account.
	// The live broker settles on its own side; its implementation is a no-op.
	Settle(ctx context.Context, pnl float64) error
	// Balance returns the current account balance.
	Balance(ctx context.Context) (float64, error)
	// Connected reports whether the backend is reachable.
	Connected() bool
}
