package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxTradeBot/config"
	"fxTradeBot/internal/compliance"
	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/execution"
	"fxTradeBot/internal/ports"
	"fxTradeBot/internal/risk"
	"fxTradeBot/internal/sizing"
	"fxTradeBot/internal/timeexit"
	"fxTradeBot/internal/trailing"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// stubFeed returns fixed rates; gate, when set, blocks the fetch until
// released so overlap tests can hold a cycle mid-flight.
type stubFeed struct {
	mu    sync.Mutex
	rates []domain.Rate
	err   error
	gate  chan struct{}
}

func (f *stubFeed) FetchLiveRates(ctx context.Context) ([]domain.Rate, error) {
	f.mu.Lock()
	gate := f.gate
	rates := append([]domain.Rate(nil), f.rates...)
	err := f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return rates, err
}

func (f *stubFeed) set(rates []domain.Rate, err error) {
	f.mu.Lock()
	f.rates = rates
	f.err = err
	f.mu.Unlock()
}

type stubPredictor struct {
	pred *domain.Prediction
	err  error
}

func (p *stubPredictor) GeneratePrediction(ctx context.Context, pair string, history []domain.PricePoint) (*domain.Prediction, error) {
	if p.pred == nil || p.pred.Pair != pair {
		return nil, p.err
	}
	copied := *p.pred
	return &copied, p.err
}

type panicPredictor struct{}

func (p *panicPredictor) GeneratePrediction(ctx context.Context, pair string, history []domain.PricePoint) (*domain.Prediction, error) {
	panic("indicator window out of range")
}

type memTradeRepo struct {
	mu     sync.Mutex
	nextID int64
	trades map[int64]*domain.Trade
}

func newMemTradeRepo() *memTradeRepo {
	return &memTradeRepo{nextID: 1, trades: make(map[int64]*domain.Trade)}
}

func (r *memTradeRepo) Create(ctx context.Context, t *domain.Trade) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	copied := *t
	copied.ID = id
	r.trades[id] = &copied
	return id, nil
}

func (r *memTradeRepo) Update(ctx context.Context, t *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trades[t.ID]; !ok {
		return ports.ErrNotFound
	}
	copied := *t
	r.trades[t.ID] = &copied
	return nil
}

func (r *memTradeRepo) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[id]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

func (r *memTradeRepo) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for id := int64(1); id < r.nextID; id++ {
		if t, ok := r.trades[id]; ok && t.IsOpen() {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memTradeRepo) FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error) {
	open, _ := r.FindOpen(ctx)
	for _, t := range open {
		if t.Pair == pair {
			return t, nil
		}
	}
	return nil, nil
}

func (r *memTradeRepo) FindClosedToday(ctx context.Context) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for id := int64(1); id < r.nextID; id++ {
		if t, ok := r.trades[id]; ok && !t.IsOpen() {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memTradeRepo) FindOpenedToday(ctx context.Context) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for id := int64(1); id < r.nextID; id++ {
		if t, ok := r.trades[id]; ok {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memTradeRepo) CountOpenedToday(ctx context.Context) (int, error) {
	opened, err := r.FindOpenedToday(ctx)
	return len(opened), err
}

func (r *memTradeRepo) FindRecentClosed(ctx context.Context, limit int) ([]*domain.Trade, error) {
	closed, err := r.FindClosedToday(ctx)
	if err != nil || len(closed) <= limit {
		return closed, err
	}
	return closed[len(closed)-limit:], nil
}

type memPrices struct {
	mu     sync.Mutex
	points []domain.PricePoint
	pruned int
}

func (p *memPrices) Append(ctx context.Context, point *domain.PricePoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points = append(p.points, *point)
	return nil
}

func (p *memPrices) RecentByPair(ctx context.Context, pair string, limit int) ([]domain.PricePoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.PricePoint
	for _, pt := range p.points {
		if pt.Pair == pair {
			out = append(out, pt)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (p *memPrices) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruned++
	return 0, nil
}

type memPredictions struct {
	mu     sync.Mutex
	nextID int64
	preds  map[int64]*domain.Prediction
}

func newMemPredictions() *memPredictions {
	return &memPredictions{nextID: 1, preds: make(map[int64]*domain.Prediction)}
}

func (p *memPredictions) Log(ctx context.Context, pred *domain.Prediction) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	copied := *pred
	copied.ID = id
	p.preds[id] = &copied
	return id, nil
}

func (p *memPredictions) Resolve(ctx context.Context, id int64, outcome domain.PredictionOutcome, resultPips float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pred, ok := p.preds[id]
	if !ok || pred.Resolved {
		return ports.ErrNotFound
	}
	pred.Resolved = true
	pred.Outcome = outcome
	pred.ResultPips = resultPips
	return nil
}

func (p *memPredictions) FindUnresolved(ctx context.Context) ([]*domain.Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*domain.Prediction
	for id := int64(1); id < p.nextID; id++ {
		if pred, ok := p.preds[id]; ok && !pred.Resolved {
			copied := *pred
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (p *memPredictions) CountResolvedByPair(ctx context.Context, pair string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, pred := range p.preds {
		if pred.Pair == pair && pred.Resolved {
			n++
		}
	}
	return n, nil
}

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings() *memSettings {
	return &memSettings{values: make(map[string]string)}
}

func (s *memSettings) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", ports.ErrNotFound
	}
	return v, nil
}

func (s *memSettings) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memSettings) All(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

type mockActivity struct {
	mu      sync.Mutex
	records []*domain.ActivityRecord
}

func (m *mockActivity) Log(ctx context.Context, typ domain.ActivityType, msg string, data map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, &domain.ActivityRecord{Type: typ, Message: msg, Data: data})
	return nil
}

func (m *mockActivity) Recent(ctx context.Context, limit int) ([]*domain.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, nil
}

func (m *mockActivity) countByType(typ domain.ActivityType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Type == typ {
			n++
		}
	}
	return n
}

// fixture bundles the bot with the collaborators tests inspect.
type fixture struct {
	bot         *Bot
	feed        *stubFeed
	predictor   *stubPredictor
	trades      *memTradeRepo
	prices      *memPrices
	predictions *memPredictions
	settings    *memSettings
	activity    *mockActivity
	engine      *execution.Engine
	risk        *risk.Manager
	timeExit    *timeexit.Manager
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Pairs = []string{"EUR/USD"}
	cfg.History.MinForPrediction = 1
	cfg.TimeExit.WeekendExitEnabled = false
	cfg.Trading.MinConfidence = 0.70
	cfg.Trading.ConfidenceDiscount = 0
	return cfg
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	logger := &mockLogger{}
	trades := newMemTradeRepo()
	activity := &mockActivity{}

	sizer, err := sizing.New(sizing.Config{
		Method:         sizing.Method(cfg.Sizing.Method),
		RiskPercent:    cfg.Sizing.RiskPercent,
		MinRiskPercent: cfg.Sizing.MinRiskPercent,
		MaxRiskPercent: cfg.Sizing.MaxRiskPercent,
		TargetVolPips:  cfg.Sizing.TargetVolPips,
		ATRPeriod:      cfg.Sizing.ATRPeriod,
	}, logger, trades, nil)
	require.NoError(t, err)
	trail := trailing.New(trailing.Config{Algorithm: trailing.AlgorithmATR}, logger)

	riskMgr, err := risk.New(risk.Config{
		MaxDailyLossPercent: cfg.Risk.MaxDailyLossPercent,
		MaxDrawdownPercent:  cfg.Risk.MaxDrawdownPercent,
	}, logger, trades, activity)
	require.NoError(t, err)

	sim := execution.NewSimExecutor(cfg.InitialBalance, logger)
	executors := map[domain.ExecutionMode]ports.TradeExecutor{domain.ModeSimulation: sim}
	engine, err := execution.New(execution.Config{
		Pairs:                 cfg.Pairs,
		MaxConcurrentTrades:   cfg.Trading.MaxConcurrentTrades,
		MaxDailyTrades:        cfg.Trading.MaxDailyTrades,
		MinConfidence:         cfg.Trading.MinConfidence,
		DailyLossLimitPercent: cfg.Risk.MaxDailyLossPercent,
		HoursStart:            cfg.Trading.HoursStart,
		HoursEnd:              cfg.Trading.HoursEnd,
		TrailingEnabled:       false,
		FixedTrailPips:        cfg.Trading.FixedTrailPips,
		TrailActivatePips:     cfg.Trading.TrailActivatePips,
	}, logger, trades, activity, sizer, trail, riskMgr, executors, domain.ModeSimulation)
	require.NoError(t, err)

	feed := &stubFeed{rates: []domain.Rate{{Pair: "EUR/USD", Rate: 1.0850, Timestamp: time.Now().UTC()}}}
	pred := &stubPredictor{}
	prices := &memPrices{}
	predictions := newMemPredictions()
	settings := newMemSettings()
	timeExit := timeexit.New(timeexit.Config{
		WeekendExitEnabled: cfg.TimeExit.WeekendExitEnabled,
		WeekendCutoffHour:  cfg.TimeExit.WeekendCutoffHour,
		SessionExitEnabled: cfg.TimeExit.SessionExitEnabled,
		SessionEndHour:     cfg.TimeExit.SessionEndHour,
		MaxHoldTime:        cfg.TimeExit.MaxHoldTime,
	})

	bot, err := New(Deps{
		Config:      cfg,
		Logger:      logger,
		Engine:      engine,
		Risk:        riskMgr,
		TimeExit:    timeExit,
		Compliance:  compliance.New(cfg.Compliance),
		Feed:        feed,
		Predictor:   pred,
		Prices:      prices,
		Predictions: predictions,
		Settings:    settings,
		Activity:    activity,
	})
	require.NoError(t, err)

	return &fixture{
		bot: bot, feed: feed, predictor: pred, trades: trades, prices: prices,
		predictions: predictions, settings: settings, activity: activity,
		engine: engine, risk: riskMgr, timeExit: timeExit,
	}
}

func TestRunCycleSingleFlight(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	gate := make(chan struct{})
	f.feed.mu.Lock()
	f.feed.gate = gate
	f.feed.mu.Unlock()

	firstDone := make(chan CycleResult, 1)
	go func() { firstDone <- f.bot.RunCycle(ctx) }()

	// Wait until the first cycle holds the guard inside the price fetch.
	require.Eventually(t, func() bool { return f.bot.running.Load() }, time.Second, time.Millisecond)

	// Concurrent invocations all skip instead of queueing.
	var wg sync.WaitGroup
	skipped := make([]CycleResult, 8)
	for i := range skipped {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			skipped[i] = f.bot.RunCycle(ctx)
		}(i)
	}
	wg.Wait()
	for _, r := range skipped {
		assert.True(t, r.Skipped)
		assert.Equal(t, "already running", r.SkipReason)
	}

	close(gate)
	first := <-firstDone
	assert.False(t, first.Skipped)

	// Guard released: the next cycle runs.
	f.feed.mu.Lock()
	f.feed.gate = nil
	f.feed.mu.Unlock()
	again := f.bot.RunCycle(ctx)
	assert.False(t, again.Skipped)
}

func TestRunCycleSkipsWhenDisabled(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	require.NoError(t, f.bot.StopTrading(ctx))
	res := f.bot.RunCycle(ctx)
	assert.True(t, res.Skipped)
	assert.Equal(t, "disabled", res.SkipReason)
	assert.Empty(t, f.prices.points, "disabled cycle must have no side effects")

	// The flag is persisted and audited.
	v, err := f.settings.Get(ctx, settingEnabled)
	require.NoError(t, err)
	assert.Equal(t, "false", v)
	assert.Equal(t, 1, f.activity.countByType(domain.ActivitySettingsChange))
}

func TestRunCycleAbortsOnFetchFailure(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.feed.set(nil, errors.New("all sources down"))
	res := f.bot.RunCycle(ctx)
	require.Error(t, res.Err)
	assert.Equal(t, 1, f.activity.countByType(domain.ActivityBotError))

	// The guard must be released even after an abort.
	f.feed.set([]domain.Rate{{Pair: "EUR/USD", Rate: 1.0850, Timestamp: time.Now().UTC()}}, nil)
	res = f.bot.RunCycle(ctx)
	assert.False(t, res.Skipped)
	assert.NoError(t, res.Err)
}

func TestRunCyclePanicIsReportedAndGuardReleased(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.bot.predictor = &panicPredictor{}
	res := f.bot.RunCycle(ctx)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "panicked")
	assert.Equal(t, 1, f.activity.countByType(domain.ActivityBotError))

	// Guard released: a healthy predictor runs the next cycle normally.
	f.bot.predictor = f.predictor
	res = f.bot.RunCycle(ctx)
	assert.False(t, res.Skipped)
	assert.NoError(t, res.Err)
}

func TestCycleOpensTradeFromPrediction(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.predictor.pred = &domain.Prediction{
		Pair:       "EUR/USD",
		Direction:  domain.DirectionUp,
		Confidence: 0.85,
		EntryPrice: 1.08500,
		StopLoss:   1.08000,
		TakeProfit: 1.09200,
	}

	res := f.bot.RunCycle(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Opened)

	open, err := f.trades.FindOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "EUR/USD", open[0].Pair)

	// The prediction was logged and audited regardless of execution.
	unresolved, err := f.predictions.FindUnresolved(ctx)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)
	assert.Equal(t, 1, f.activity.countByType(domain.ActivityPredictionMade))
}

func TestCycleSizesEntriesFromPriceHistory(t *testing.T) {
	cfg := testConfig()
	cfg.Sizing.Method = string(sizing.MethodVolatility)
	cfg.Sizing.TargetVolPips = 60
	cfg.Sizing.ATRPeriod = 4
	cfg.History.MinForPrediction = 5
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.predictor.pred = &domain.Prediction{
		Pair:       "EUR/USD",
		Direction:  domain.DirectionUp,
		Confidence: 0.85,
		EntryPrice: 1.08500,
		StopLoss:   1.08000,
		TakeProfit: 1.09200,
	}

	// Feed constant 20-pip swings across the first cycles so the rolling
	// history carries 30 pips of measured volatility into the last one.
	swings := []float64{1.08500, 1.08700, 1.08500, 1.08700, 1.08500}
	var res CycleResult
	for _, rate := range swings {
		f.feed.set([]domain.Rate{{Pair: "EUR/USD", Rate: rate, Timestamp: time.Now().UTC()}}, nil)
		res = f.bot.RunCycle(ctx)
		require.NoError(t, res.Err)
		if res.Opened > 0 {
			break
		}
	}
	require.Equal(t, 1, res.Opened)

	// Half the 60-pip target doubles the 1% base risk: 2% of 10000 over a
	// 50-pip stop at $10/pip-lot = 0.40 lots, not the 0.20 base size.
	open, err := f.trades.FindOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.InDelta(t, 0.40, open[0].PositionSize, 1e-9)
}

func TestLowConfidencePredictionLoggedButNotTraded(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.predictor.pred = &domain.Prediction{
		Pair:       "EUR/USD",
		Direction:  domain.DirectionUp,
		Confidence: 0.55,
		EntryPrice: 1.08500,
		StopLoss:   1.08000,
		TakeProfit: 1.09200,
	}

	res := f.bot.RunCycle(ctx)
	require.NoError(t, res.Err)
	assert.Zero(t, res.Opened)

	unresolved, err := f.predictions.FindUnresolved(ctx)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1, "low-confidence predictions still go into the outcome sample")
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.History.MaxPoints = 3
	f := newFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := f.bot.RunCycle(ctx)
		require.NoError(t, res.Err)
	}

	status := f.bot.Status()
	assert.Equal(t, 3, status.HistoryLen["EUR/USD"])
	assert.Equal(t, int64(5), status.RunCount)
	// Every sample was persisted even though memory is bounded.
	assert.Len(t, f.prices.points, 5)
}

func TestPredictionResolution(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	id, err := f.predictions.Log(ctx, &domain.Prediction{
		Pair:       "EUR/USD",
		Direction:  domain.DirectionUp,
		Confidence: 0.80,
		EntryPrice: 1.08000,
		StopLoss:   1.07500,
		TakeProfit: 1.08400,
	})
	require.NoError(t, err)

	// Price at the target resolves WIN with the pip distance from entry.
	f.feed.set([]domain.Rate{{Pair: "EUR/USD", Rate: 1.08400, Timestamp: time.Now().UTC()}}, nil)
	res := f.bot.RunCycle(ctx)
	require.NoError(t, res.Err)

	f.predictions.mu.Lock()
	resolved := f.predictions.preds[id]
	f.predictions.mu.Unlock()
	require.True(t, resolved.Resolved)
	assert.Equal(t, domain.OutcomeWin, resolved.Outcome)
	assert.InDelta(t, 40.0, resolved.ResultPips, 1e-9)
}

func TestComplianceCutoffForceClosesAndBlocksEntries(t *testing.T) {
	cfg := testConfig()
	cfg.Compliance.Enabled = true
	cfg.Compliance.CutoffHour = 20
	f := newFixture(t, cfg)
	ctx := context.Background()

	// Re-wire the bot clock to 21:00 UTC, past the cutoff.
	f.bot.WithClock(func() time.Time {
		return time.Date(2024, 6, 5, 21, 0, 0, 0, time.UTC)
	})

	_, err := f.trades.Create(ctx, &domain.Trade{
		Pair: "EUR/USD", Direction: domain.DirectionUp,
		EntryPrice: 1.08000, CurrentPrice: 1.08500,
		StopLoss: 1.07500, TakeProfit: 1.09500,
		PositionSize: 0.10, Status: domain.StatusOpen,
		OpenedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	f.predictor.pred = &domain.Prediction{
		Pair: "EUR/USD", Direction: domain.DirectionUp, Confidence: 0.90,
		EntryPrice: 1.08500, StopLoss: 1.08000, TakeProfit: 1.09200,
	}

	res := f.bot.RunCycle(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Closed)
	assert.Zero(t, res.Opened, "no new entries past the compliance cutoff")

	open, err := f.trades.FindOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	closed, err := f.trades.FindClosedToday(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonCompliance, closed[0].CloseReason)
	assert.Equal(t, 1, f.activity.countByType(domain.ActivityCompliance))
}

func TestWeekendExitClosesAllAndBlocksEntries(t *testing.T) {
	cfg := testConfig()
	cfg.TimeExit.WeekendExitEnabled = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	saturday := func() time.Time { return time.Date(2024, 6, 8, 12, 0, 0, 0, time.UTC) }
	f.timeExit.WithClock(saturday)
	f.bot.WithClock(saturday)

	_, err := f.trades.Create(ctx, &domain.Trade{
		Pair: "EUR/USD", Direction: domain.DirectionUp,
		EntryPrice: 1.08000, CurrentPrice: 1.08500,
		StopLoss: 1.07500, TakeProfit: 1.09500,
		PositionSize: 0.10, Status: domain.StatusOpen,
		OpenedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	f.predictor.pred = &domain.Prediction{
		Pair: "EUR/USD", Direction: domain.DirectionUp, Confidence: 0.90,
		EntryPrice: 1.08500, StopLoss: 1.08000, TakeProfit: 1.09200,
	}

	res := f.bot.RunCycle(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Closed)
	assert.Zero(t, res.Opened)

	closed, err := f.trades.FindClosedToday(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonWeekend, closed[0].CloseReason)
}

func TestMaxHoldTimeExit(t *testing.T) {
	cfg := testConfig()
	cfg.TimeExit.MaxHoldTime = 48 * time.Hour
	f := newFixture(t, cfg)
	ctx := context.Background()

	_, err := f.trades.Create(ctx, &domain.Trade{
		Pair: "EUR/USD", Direction: domain.DirectionUp,
		EntryPrice: 1.08000, CurrentPrice: 1.08100,
		StopLoss: 1.07500, TakeProfit: 1.09500,
		PositionSize: 0.10, Status: domain.StatusOpen,
		OpenedAt: time.Now().UTC().Add(-50 * time.Hour),
	})
	require.NoError(t, err)

	res := f.bot.RunCycle(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Closed)

	closed, err := f.trades.FindClosedToday(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonMaxHold, closed[0].CloseReason)
}

func TestConfidenceThresholdDiscount(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.MinConfidence = 0.70
	cfg.Trading.ConfidenceDiscount = 0.05
	cfg.Trading.MinSamplesPerPair = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	// No resolved samples yet: the bar drops to 0.65.
	assert.InDelta(t, 0.65, f.bot.confidenceThreshold(ctx, "EUR/USD"), 1e-9)

	for i := 0; i < 2; i++ {
		id, err := f.predictions.Log(ctx, &domain.Prediction{
			Pair: "EUR/USD", Direction: domain.DirectionUp,
			EntryPrice: 1.0800, StopLoss: 1.0750, TakeProfit: 1.0850,
		})
		require.NoError(t, err)
		require.NoError(t, f.predictions.Resolve(ctx, id, domain.OutcomeWin, 50))
	}

	// Enough samples: the full threshold applies.
	assert.InDelta(t, 0.70, f.bot.confidenceThreshold(ctx, "EUR/USD"), 1e-9)
}

func TestHistoryPruneEveryNthCycle(t *testing.T) {
	cfg := testConfig()
	cfg.History.PruneEveryCycles = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		res := f.bot.RunCycle(ctx)
		require.NoError(t, res.Err)
	}
	f.prices.mu.Lock()
	pruned := f.prices.pruned
	f.prices.mu.Unlock()
	assert.Equal(t, 2, pruned)
}

func TestManualCloseAndStatus(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	id, err := f.trades.Create(ctx, &domain.Trade{
		Pair: "EUR/USD", Direction: domain.DirectionUp,
		EntryPrice: 1.08000, CurrentPrice: 1.08500,
		StopLoss: 1.07500, TakeProfit: 1.09500,
		PositionSize: 0.10, Status: domain.StatusOpen,
		OpenedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	closed, err := f.bot.CloseTradeAt(ctx, id, 1.08500)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, domain.CloseReasonManual, closed.CloseReason)
	assert.InDelta(t, 50.0, closed.PnLPips, 1e-9)

	status := f.bot.Status()
	assert.True(t, status.Enabled)
	assert.False(t, status.IsRunning)
	assert.Equal(t, domain.ModeSimulation, status.Mode)
}
