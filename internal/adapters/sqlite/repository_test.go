package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func openTrade(pair string) *domain.Trade {
	return &domain.Trade{
		Pair:         pair,
		Direction:    domain.DirectionUp,
		EntryPrice:   1.0850,
		CurrentPrice: 1.0850,
		StopLoss:     1.0800,
		TakeProfit:   1.0920,
		PositionSize: 0.10,
		Confidence:   0.72,
		Status:       domain.StatusOpen,
		OpenedAt:     time.Now().UTC(),
	}
}

func TestTradeLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	trade := openTrade("EUR/USD")
	id, err := repo.Create(ctx, trade)
	require.NoError(t, err)
	assert.Equal(t, id, trade.ID)

	found, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "EUR/USD", found.Pair)
	assert.Equal(t, domain.StatusOpen, found.Status)
	assert.Nil(t, found.TrailingStop)
	assert.Empty(t, found.CloseReason)

	// Advance the trailing stop and persist.
	stop := 1.0870
	trade.TrailingStop = &stop
	trade.CurrentPrice = 1.0900
	require.NoError(t, repo.Update(ctx, trade))

	found, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found.TrailingStop)
	assert.InDelta(t, 1.0870, *found.TrailingStop, 1e-9)

	// Close it.
	trade.Status = domain.StatusClosed
	trade.CloseReason = domain.CloseReasonTakeProfit
	trade.PnLPips = 50
	trade.PnL = 50
	trade.ClosedAt = time.Now().UTC()
	require.NoError(t, repo.Update(ctx, trade))

	found, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, found.Status)
	assert.Equal(t, domain.CloseReasonTakeProfit, found.CloseReason)
	assert.False(t, found.ClosedAt.IsZero())
}

func TestFindByIDNotFoundIsNilNil(t *testing.T) {
	repo := newTestRepo(t)

	found, err := repo.FindByID(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestUpdateMissingTradeReturnsNotFound(t *testing.T) {
	repo := newTestRepo(t)

	trade := openTrade("EUR/USD")
	trade.ID = 42
	err := repo.Update(context.Background(), trade)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestOpenTradeQueries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	eur := openTrade("EUR/USD")
	gbp := openTrade("GBP/USD")
	_, err := repo.Create(ctx, eur)
	require.NoError(t, err)
	_, err = repo.Create(ctx, gbp)
	require.NoError(t, err)

	open, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	byPair, err := repo.FindOpenByPair(ctx, "EUR/USD")
	require.NoError(t, err)
	require.NotNil(t, byPair)
	assert.Equal(t, eur.ID, byPair.ID)

	byPair, err = repo.FindOpenByPair(ctx, "USD/JPY")
	require.NoError(t, err)
	assert.Nil(t, byPair)

	count, err := repo.CountOpenedToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTodayAndRecentClosedQueries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// One trade closed today, one yesterday.
	today := openTrade("EUR/USD")
	_, err := repo.Create(ctx, today)
	require.NoError(t, err)
	today.Status = domain.StatusClosed
	today.CloseReason = domain.CloseReasonStopLoss
	today.PnL = -25
	today.ClosedAt = time.Now().UTC()
	require.NoError(t, repo.Update(ctx, today))

	yesterday := openTrade("GBP/USD")
	yesterday.OpenedAt = time.Now().UTC().Add(-30 * time.Hour)
	_, err = repo.Create(ctx, yesterday)
	require.NoError(t, err)
	yesterday.Status = domain.StatusClosed
	yesterday.CloseReason = domain.CloseReasonTakeProfit
	yesterday.PnL = 40
	yesterday.ClosedAt = time.Now().UTC().Add(-26 * time.Hour)
	require.NoError(t, repo.Update(ctx, yesterday))

	closedToday, err := repo.FindClosedToday(ctx)
	require.NoError(t, err)
	require.Len(t, closedToday, 1)
	assert.Equal(t, today.ID, closedToday[0].ID)

	recent, err := repo.FindRecentClosed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, today.ID, recent[0].ID) // newest first
}

func TestSettingsUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "min_confidence")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, repo.Set(ctx, "min_confidence", `0.65`))
	require.NoError(t, repo.Set(ctx, "min_confidence", `0.70`)) // overwrite

	value, err := repo.Get(ctx, "min_confidence")
	require.NoError(t, err)
	assert.Equal(t, `0.70`, value)

	require.NoError(t, repo.Set(ctx, "pairs", `["EUR/USD","GBP/USD"]`))
	all, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, `0.70`, all["min_confidence"])
}

func TestPredictionLogAndResolve(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pred := &domain.Prediction{
		Pair:       "EUR/USD",
		Direction:  domain.DirectionUp,
		Signal:     "MA_CROSS_RSI",
		Confidence: 0.7,
		EntryPrice: 1.0850,
		StopLoss:   1.0800,
		TakeProfit: 1.0920,
		Reasoning:  "test",
		CreatedAt:  time.Now().UTC(),
	}
	id, err := repo.Log(ctx, pred)
	require.NoError(t, err)

	unresolved, err := repo.FindUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, id, unresolved[0].ID)
	assert.False(t, unresolved[0].Resolved)

	require.NoError(t, repo.Resolve(ctx, id, domain.OutcomeWin, 70))

	unresolved, err = repo.FindUnresolved(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	count, err := repo.CountResolvedByPair(ctx, "EUR/USD")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Resolving twice fails.
	err = repo.Resolve(ctx, id, domain.OutcomeLoss, -10)
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestPriceHistoryAppendRecentPrune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-10 * time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Append(ctx, &domain.PricePoint{
			Pair:      "EUR/USD",
			Price:     1.0850 + float64(i)*0.0001,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	points, err := repo.RecentByPair(ctx, "EUR/USD", 3)
	require.NoError(t, err)
	require.Len(t, points, 3)
	// Chronological order, newest 3 samples.
	assert.InDelta(t, 1.0852, points[0].Price, 1e-9)
	assert.InDelta(t, 1.0854, points[2].Price, 1e-9)
	assert.True(t, points[0].Timestamp.Before(points[2].Timestamp))

	deleted, err := repo.PruneOlderThan(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	points, err = repo.RecentByPair(ctx, "EUR/USD", 10)
	require.NoError(t, err)
	assert.Len(t, points, 3)
}

func TestClosedDatabaseSurfacesSentinelErrors(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Close())

	_, err := repo.FindOpen(ctx)
	assert.ErrorIs(t, err, ports.ErrQueryFailed)

	_, err = repo.Get(ctx, "min_confidence")
	assert.ErrorIs(t, err, ports.ErrQueryFailed)

	_, err = repo.Create(ctx, openTrade("EUR/USD"))
	assert.ErrorIs(t, err, ports.ErrUpdateFailed)

	err = repo.Set(ctx, "min_confidence", `0.70`)
	assert.ErrorIs(t, err, ports.ErrUpdateFailed)
}

func TestActivityLogRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	activity := repo.Activity()
	ctx := context.Background()

	require.NoError(t, activity.Log(ctx, domain.ActivityBotStarted, "Bot started", nil))
	require.NoError(t, activity.Log(ctx, domain.ActivityTradeOpened, "Opened EUR/USD",
		map[string]interface{}{"tradeID": float64(1), "pair": "EUR/USD"}))

	records, err := activity.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Most recent first.
	assert.Equal(t, domain.ActivityTradeOpened, records[0].Type)
	assert.Equal(t, "EUR/USD", records[0].Data["pair"])
	assert.Equal(t, domain.ActivityBotStarted, records[1].Type)
	assert.Nil(t, records[1].Data)
}
