package ports

import (
	"context"
	"time"

	"fxTradeBot/internal/domain"
)

// TradeRepository stores and retrieves trades.
type TradeRepository interface {
	// Create saves a new trade and returns its assigned ID.
	Create(ctx context.Context, trade *domain.Trade) (int64, error)
	// Update modifies an existing trade.
	Update(ctx context.Context, trade *domain.Trade) error
	// FindByID retrieves a trade by ID. Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Trade, error)
	// FindOpen retrieves all OPEN trades, oldest first.
	FindOpen(ctx context.Context) ([]*domain.Trade, error)
	// FindOpenByPair retrieves the OPEN trade for a pair, if any.
	// Returns nil, nil when the pair has no open trade.
	FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error)
	// FindClosedToday retrieves trades closed since the current UTC midnight.
	FindClosedToday(ctx context.Context) ([]*domain.Trade, error)
	// FindOpenedToday retrieves trades opened since the current UTC midnight.
	FindOpenedToday(ctx context.Context) ([]*domain.Trade, error)
	// CountOpenedToday counts trades opened since the current UTC midnight.
	CountOpenedToday(ctx context.Context) (int, error)
	// FindRecentClosed retrieves the most recently closed trades, newest first.
	FindRecentClosed(ctx context.Context, limit int) ([]*domain.Trade, error)
}

// SettingsRepository is a key-value store with JSON-encoded values and a
// per-key last-updated timestamp.
type SettingsRepository interface {
	// Get returns the JSON value for a key. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) (string, error)
	// Set upserts the JSON value for a key.
	Set(ctx context.Context, key string, value string) error
	// All returns every stored key → JSON value.
	All(ctx context.Context) (map[string]string, error)
}

// PredictionRepository logs predictions and their eventual outcomes.
type PredictionRepository interface {
	// Log saves a new prediction and returns its assigned ID.
	Log(ctx context.Context, p *domain.Prediction) (int64, error)
	// Resolve marks a prediction WIN or LOSS with its pip result.
	Resolve(ctx context.Context, id int64, outcome domain.PredictionOutcome, resultPips float64) error
	// FindUnresolved retrieves predictions that have not resolved yet.
	FindUnresolved(ctx context.Context) ([]*domain.Prediction, error)
	// CountResolvedByPair counts resolved predictions for a pair.
	CountResolvedByPair(ctx context.Context, pair string) (int, error)
}

// PriceRepository persists the rolling per-pair price history.
type PriceRepository interface {
	// Append stores one new price sample.
	Append(ctx context.Context, point *domain.PricePoint) error
	// RecentByPair returns the most recent samples for a pair, oldest first.
	RecentByPair(ctx context.Context, pair string, limit int) ([]domain.PricePoint, error)
	// PruneOlderThan deletes samples older than the cutoff and reports how many.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ActivityLogger is the append-only activity/audit log.
type ActivityLogger interface {
	// Log appends one activity record. Implementations must never fail the
	// caller's operation for a logging error beyond returning it.
	Log(ctx context.Context, typ domain.ActivityType, message string, data map[string]interface{}) error
	// Recent returns the newest records, most recent first.
	Recent(ctx context.Context, limit int) ([]*domain.ActivityRecord, error)
}
