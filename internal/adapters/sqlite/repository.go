package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the persistence ports (trades, settings,
// predictions, price history, activity log) using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_bot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the cycle and risk timers.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		current_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		trailing_stop REAL DEFAULT NULL,
		position_size REAL NOT NULL,
		confidence REAL NOT NULL,
		status TEXT NOT NULL,
		pnl_pips REAL NOT NULL DEFAULT 0,
		pnl REAL NOT NULL DEFAULT 0,
		close_reason TEXT DEFAULT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS predictions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		direction TEXT NOT NULL,
		signal TEXT NOT NULL,
		confidence REAL NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		outcome TEXT DEFAULT NULL,
		result_pips REAL NOT NULL DEFAULT 0,
		resolved_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		price REAL NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activity_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		data TEXT DEFAULT NULL,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_pair_status ON trades (pair, status);
	CREATE INDEX IF NOT EXISTS idx_trades_status_opened ON trades (status, opened_at);
	CREATE INDEX IF NOT EXISTS idx_predictions_resolved ON predictions (resolved, pair);
	CREATE INDEX IF NOT EXISTS idx_price_history_pair_ts ON price_history (pair, timestamp);
	CREATE INDEX IF NOT EXISTS idx_activity_log_ts ON activity_log (timestamp);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// utcMidnight returns the start of the current UTC day, the boundary all
// "today" queries use.
func utcMidnight() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// --- TradeRepository implementation ---

const tradeColumns = `id, pair, direction, entry_price, current_price, stop_loss, take_profit,
       trailing_stop, position_size, confidence, status, pnl_pips, pnl, close_reason,
       opened_at, closed_at`

// Create saves a new trade and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (pair, direction, entry_price, current_price, stop_loss, take_profit,
	                    trailing_stop, position_size, confidence, status, pnl_pips, pnl, opened_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Pair, trade.Direction, trade.EntryPrice, trade.CurrentPrice, trade.StopLoss,
		trade.TakeProfit, nullFloat(trade.TrailingStop), trade.PositionSize, trade.Confidence,
		trade.Status, trade.PnLPips, trade.PnL, trade.OpenedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for pair %s: %w: %w", trade.Pair, ports.ErrUpdateFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Pair, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "pair": trade.Pair})
	return id, nil
}

// Update modifies an existing trade based on its ID.
func (r *Repository) Update(ctx context.Context, trade *domain.Trade) error {
	const query = `
	UPDATE trades
	SET current_price = ?, stop_loss = ?, take_profit = ?, trailing_stop = ?, status = ?,
	    pnl_pips = ?, pnl = ?, close_reason = ?, closed_at = ?
	WHERE id = ?`

	var closedAt sql.NullTime
	if !trade.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: trade.ClosedAt, Valid: true}
	}
	var closeReason sql.NullString
	if trade.CloseReason != "" {
		closeReason = sql.NullString{String: string(trade.CloseReason), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		trade.CurrentPrice, trade.StopLoss, trade.TakeProfit, nullFloat(trade.TrailingStop),
		trade.Status, trade.PnLPips, trade.PnL, closeReason, closedAt, trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w: %w", trade.ID, ports.ErrUpdateFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update trade ID %d: %w", trade.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", trade.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": trade.ID, "status": trade.Status})
	return nil
}

// FindByID retrieves a trade by its unique ID. Returns nil, nil when absent.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`

	trade, err := scanTrade(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by ID %d: %w: %w", id, ports.ErrQueryFailed, err)
	}
	return trade, nil
}

// FindOpen retrieves all OPEN trades, oldest first.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? ORDER BY opened_at ASC`
	return r.queryTrades(ctx, query, domain.StatusOpen)
}

// FindOpenByPair retrieves the OPEN trade for a pair, if any.
func (r *Repository) FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE pair = ? AND status = ?`

	trade, err := scanTrade(r.db.QueryRowContext(ctx, query, pair, domain.StatusOpen))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open trade for pair %s: %w: %w", pair, ports.ErrQueryFailed, err)
	}
	return trade, nil
}

// FindClosedToday retrieves trades closed since the current UTC midnight.
func (r *Repository) FindClosedToday(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? AND closed_at >= ? ORDER BY closed_at ASC`
	return r.queryTrades(ctx, query, domain.StatusClosed, utcMidnight())
}

// FindOpenedToday retrieves trades opened since the current UTC midnight.
func (r *Repository) FindOpenedToday(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE opened_at >= ? ORDER BY opened_at ASC`
	return r.queryTrades(ctx, query, utcMidnight())
}

// CountOpenedToday counts trades opened since the current UTC midnight.
func (r *Repository) CountOpenedToday(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE opened_at >= ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, utcMidnight()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades opened today: %w: %w", ports.ErrQueryFailed, err)
	}
	return count, nil
}

// FindRecentClosed retrieves the most recently closed trades, newest first.
func (r *Repository) FindRecentClosed(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? ORDER BY closed_at DESC LIMIT ?`
	return r.queryTrades(ctx, query, domain.StatusClosed, limit)
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// --- SettingsRepository implementation ---

// Get returns the JSON value for a key.
func (r *Repository) Get(ctx context.Context, key string) (string, error) {
	const query = `SELECT value FROM settings WHERE key = ?`
	var value string
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("setting %q: %w", key, ports.ErrNotFound)
		}
		return "", fmt.Errorf("failed to query setting %q: %w: %w", key, ports.ErrQueryFailed, err)
	}
	return value, nil
}

// Set upserts the JSON value for a key.
func (r *Repository) Set(ctx context.Context, key string, value string) error {
	const query = `
	INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert setting %q: %w: %w", key, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Setting stored", map[string]interface{}{"key": key})
	return nil
}

// All returns every stored key → JSON value.
func (r *Repository) All(ctx context.Context) (map[string]string, error) {
	const query = `SELECT key, value FROM settings`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		settings[key] = value
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating setting rows: %w", err)
	}
	return settings, nil
}

// --- PredictionRepository implementation ---

// Log saves a new prediction and returns its assigned ID.
func (r *Repository) Log(ctx context.Context, p *domain.Prediction) (int64, error) {
	const query = `
	INSERT INTO predictions (pair, direction, signal, confidence, entry_price, stop_loss,
	                         take_profit, reasoning, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		p.Pair, p.Direction, p.Signal, p.Confidence, p.EntryPrice, p.StopLoss,
		p.TakeProfit, p.Reasoning, p.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert prediction for pair %s: %w: %w", p.Pair, ports.ErrUpdateFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for prediction %s: %w", p.Pair, err)
	}
	p.ID = id
	return id, nil
}

// Resolve marks a prediction WIN or LOSS with its pip result.
func (r *Repository) Resolve(ctx context.Context, id int64, outcome domain.PredictionOutcome, resultPips float64) error {
	const query = `
	UPDATE predictions SET resolved = 1, outcome = ?, result_pips = ?, resolved_at = ?
	WHERE id = ? AND resolved = 0`

	result, err := r.db.ExecContext(ctx, query, outcome, resultPips, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve prediction ID %d: %w: %w", id, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for prediction ID %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("prediction ID %d not found or already resolved: %w", id, ports.ErrNotFound)
	}
	return nil
}

// FindUnresolved retrieves predictions that have not resolved yet, oldest first.
func (r *Repository) FindUnresolved(ctx context.Context) ([]*domain.Prediction, error) {
	const query = `
	SELECT id, pair, direction, signal, confidence, entry_price, stop_loss, take_profit,
	       reasoning, created_at, resolved, outcome, result_pips, resolved_at
	FROM predictions WHERE resolved = 0 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved predictions: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	preds := make([]*domain.Prediction, 0)
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction row: %w", err)
		}
		preds = append(preds, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prediction rows: %w", err)
	}
	return preds, nil
}

// CountResolvedByPair counts resolved predictions for a pair.
func (r *Repository) CountResolvedByPair(ctx context.Context, pair string) (int, error) {
	const query = `SELECT COUNT(*) FROM predictions WHERE pair = ? AND resolved = 1`
	var count int
	if err := r.db.QueryRowContext(ctx, query, pair).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count resolved predictions for pair %s: %w: %w", pair, ports.ErrQueryFailed, err)
	}
	return count, nil
}

// --- PriceRepository implementation ---

// Append stores one new price sample.
func (r *Repository) Append(ctx context.Context, point *domain.PricePoint) error {
	const query = `INSERT INTO price_history (pair, price, timestamp) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, point.Pair, point.Price, point.Timestamp); err != nil {
		return fmt.Errorf("failed to insert price sample for pair %s: %w: %w", point.Pair, ports.ErrUpdateFailed, err)
	}
	return nil
}

// RecentByPair returns the most recent samples for a pair, oldest first.
func (r *Repository) RecentByPair(ctx context.Context, pair string, limit int) ([]domain.PricePoint, error) {
	// Select newest-first, then reverse, so LIMIT applies to the tail.
	const query = `
	SELECT pair, price, timestamp FROM price_history
	WHERE pair = ? ORDER BY timestamp DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history for pair %s: %w: %w", pair, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	points := make([]domain.PricePoint, 0, limit)
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.Pair, &p.Price, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		points = append(points, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price rows: %w", err)
	}
	// Reverse in place: callers want chronological order.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// PruneOlderThan deletes samples older than the cutoff and reports how many.
func (r *Repository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM price_history WHERE timestamp < ?`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune price history: %w: %w", ports.ErrUpdateFailed, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for price prune: %w", err)
	}
	if deleted > 0 {
		r.logger.Debug(ctx, "Pruned price history", map[string]interface{}{"deleted": deleted, "cutoff": cutoff})
	}
	return deleted, nil
}

// --- ActivityLogger implementation ---

// LogActivity appends one activity record.
func (r *Repository) LogActivity(ctx context.Context, typ domain.ActivityType, message string, data map[string]interface{}) error {
	var encoded sql.NullString
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode activity data: %w", err)
		}
		encoded = sql.NullString{String: string(raw), Valid: true}
	}

	const query = `INSERT INTO activity_log (type, message, data, timestamp) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, typ, message, encoded, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert activity record: %w: %w", ports.ErrUpdateFailed, err)
	}
	return nil
}

// RecentActivity returns the newest records, most recent first.
func (r *Repository) RecentActivity(ctx context.Context, limit int) ([]*domain.ActivityRecord, error) {
	const query = `
	SELECT id, type, message, data, timestamp FROM activity_log
	ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity log: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	records := make([]*domain.ActivityRecord, 0, limit)
	for rows.Next() {
		rec := &domain.ActivityRecord{}
		var typ string
		var data sql.NullString
		if err := rows.Scan(&rec.ID, &typ, &rec.Message, &data, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		rec.Type = domain.ActivityType(typ)
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &rec.Data); err != nil {
				return nil, fmt.Errorf("failed to decode activity data for record %d: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}
	return records, nil
}

// --- Helper scan functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var (
		direction, status string
		trailingStop      sql.NullFloat64
		closeReason       sql.NullString
		closedAt          sql.NullTime
	)
	err := s.Scan(
		&t.ID, &t.Pair, &direction, &t.EntryPrice, &t.CurrentPrice, &t.StopLoss, &t.TakeProfit,
		&trailingStop, &t.PositionSize, &t.Confidence, &status, &t.PnLPips, &t.PnL, &closeReason,
		&t.OpenedAt, &closedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Direction = domain.Direction(direction)
	t.Status = domain.TradeStatus(status)
	if trailingStop.Valid {
		v := trailingStop.Float64
		t.TrailingStop = &v
	}
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	}
	if closedAt.Valid {
		t.ClosedAt = closedAt.Time
	}
	return t, nil
}

// scanPrediction scans a row into a domain.Prediction struct.
func scanPrediction(s scanner) (*domain.Prediction, error) {
	p := &domain.Prediction{}
	var (
		direction  string
		resolved   int
		outcome    sql.NullString
		resolvedAt sql.NullTime
	)
	err := s.Scan(
		&p.ID, &p.Pair, &direction, &p.Signal, &p.Confidence, &p.EntryPrice, &p.StopLoss,
		&p.TakeProfit, &p.Reasoning, &p.CreatedAt, &resolved, &outcome, &p.ResultPips, &resolvedAt)
	if err != nil {
		return nil, err
	}
	p.Direction = domain.Direction(direction)
	p.Resolved = resolved != 0
	if outcome.Valid {
		p.Outcome = domain.PredictionOutcome(outcome.String)
	}
	if resolvedAt.Valid {
		p.ResolvedAt = resolvedAt.Time
	}
	return p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// ActivityLog adapts the repository to ports.ActivityLogger. A separate type
// is needed because the prediction repository already claims the Log method
// name on Repository.
type ActivityLog struct {
	repo *Repository
}

// Activity returns the activity-log view of the repository.
func (r *Repository) Activity() *ActivityLog {
	return &ActivityLog{repo: r}
}

// Log appends one activity record.
func (a *ActivityLog) Log(ctx context.Context, typ domain.ActivityType, message string, data map[string]interface{}) error {
	return a.repo.LogActivity(ctx, typ, message, data)
}

// Recent returns the newest records, most recent first.
func (a *ActivityLog) Recent(ctx context.Context, limit int) ([]*domain.ActivityRecord, error) {
	return a.repo.RecentActivity(ctx, limit)
}

var (
	_ ports.TradeRepository      = (*Repository)(nil)
	_ ports.SettingsRepository   = (*Repository)(nil)
	_ ports.PredictionRepository = (*Repository)(nil)
	_ ports.PriceRepository      = (*Repository)(nil)
	_ ports.ActivityLogger       = (*ActivityLog)(nil)
)
