// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"nine15-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the journal database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per completed round trip
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		entry_time DATETIME NOT NULL,
		exit_price REAL,
		exit_time DATETIME,
		exit_reason TEXT,
		pnl REAL,
		pnl_percent REAL,
		hold_duration INTEGER,
		slippage REAL,
		is_paper INTEGER DEFAULT 0,
		degraded INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

	-- One row per day cycle, traded or not
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		state TEXT NOT NULL,
		underlying TEXT,
		option_symbol TEXT,
		change_percent REAL,
		pcr REAL,
		quantity INTEGER,
		notional REAL,
		entry_jitter_ms INTEGER,
		skip_reasons TEXT,
		error TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_date ON cycles(date);

	-- Risk guard audit trail
	CREATE TABLE IF NOT EXISTS risk_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_risk_events_timestamp ON risk_events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LogTrade appends a completed trade to the journal.
func (s *SQLiteStore) LogTrade(ctx context.Context, trade *models.Trade) error {
	isPaper := 0
	if trade.IsPaper {
		isPaper = 1
	}
	degraded := 0
	if trade.Degraded {
		degraded = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, exchange, side, product, quantity, entry_price, entry_time, exit_price, exit_time, exit_reason, pnl, pnl_percent, hold_duration, slippage, is_paper, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.Symbol, trade.Exchange, trade.Side, trade.Product, trade.Quantity,
		trade.EntryPrice, trade.EntryTime, trade.ExitPrice, trade.ExitTime, string(trade.ExitReason),
		trade.PnL, trade.PnLPercent, trade.HoldDuration.Nanoseconds(), trade.Slippage, isPaper, degraded)
	if err != nil {
		return fmt.Errorf("failed to log trade: %w", err)
	}
	return nil
}

// GetTrades retrieves journal entries matching the filter.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := "SELECT id, symbol, exchange, side, product, quantity, entry_price, entry_time, exit_price, exit_time, exit_reason, pnl, pnl_percent, hold_duration, slippage, is_paper, degraded FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.StartDate.IsZero() {
		query += " AND entry_time >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND entry_time <= ?"
		args = append(args, filter.EndDate)
	}
	if filter.IsPaper != nil {
		isPaper := 0
		if *filter.IsPaper {
			isPaper = 1
		}
		query += " AND is_paper = ?"
		args = append(args, isPaper)
	}

	query += " ORDER BY entry_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var exitReason string
		var holdNs int64
		var isPaper, degraded int

		if err := rows.Scan(&t.ID, &t.Symbol, &t.Exchange, &t.Side, &t.Product, &t.Quantity,
			&t.EntryPrice, &t.EntryTime, &t.ExitPrice, &t.ExitTime, &exitReason,
			&t.PnL, &t.PnLPercent, &holdNs, &t.Slippage, &isPaper, &degraded); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.ExitReason = models.ExitReason(exitReason)
		t.HoldDuration = time.Duration(holdNs)
		t.IsPaper = isPaper == 1
		t.Degraded = degraded == 1
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveCycle persists the outcome of a day cycle.
func (s *SQLiteStore) SaveCycle(ctx context.Context, record *CycleRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycles (id, date, state, underlying, option_symbol, change_percent, pcr, quantity, notional, entry_jitter_ms, skip_reasons, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.Date, record.State, record.Underlying, record.OptionSymbol,
		record.ChangePercent, record.PCR, record.Quantity, record.Notional,
		record.EntryJitterMs, record.SkipReasons, record.Error, record.StartedAt, record.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to save cycle: %w", err)
	}
	return nil
}

// GetCycles returns the most recent day cycles.
func (s *SQLiteStore) GetCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	query := "SELECT id, date, state, underlying, option_symbol, change_percent, pcr, quantity, notional, entry_jitter_ms, skip_reasons, error, started_at, finished_at FROM cycles ORDER BY date DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var r CycleRecord
		if err := rows.Scan(&r.ID, &r.Date, &r.State, &r.Underlying, &r.OptionSymbol,
			&r.ChangePercent, &r.PCR, &r.Quantity, &r.Notional, &r.EntryJitterMs,
			&r.SkipReasons, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveRiskEvent appends a risk event to the audit trail.
func (s *SQLiteStore) SaveRiskEvent(ctx context.Context, event *RiskEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_events (timestamp, kind, detail) VALUES (?, ?, ?)
	`, event.Timestamp, event.Kind, event.Detail)
	if err != nil {
		return fmt.Errorf("failed to save risk event: %w", err)
	}
	return nil
}

// DailySummary aggregates the journal for one calendar day.
func (s *SQLiteStore) DailySummary(ctx context.Context, date time.Time) (*DaySummary, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	trades, err := s.GetTrades(ctx, TradeFilter{StartDate: dayStart, EndDate: dayEnd})
	if err != nil {
		return nil, err
	}

	summary := &DaySummary{
		Date:        dayStart.Format("2006-01-02"),
		ExitReasons: make(map[string]int),
	}
	for i, t := range trades {
		summary.TotalTrades++
		summary.TotalPnL += t.PnL
		if t.PnL > 0 {
			summary.WinningTrades++
		} else if t.PnL < 0 {
			summary.LosingTrades++
		}
		if i == 0 || t.PnL > summary.BestPnL {
			summary.BestPnL = t.PnL
		}
		if i == 0 || t.PnL < summary.WorstPnL {
			summary.WorstPnL = t.PnL
		}
		summary.ExitReasons[string(t.ExitReason)]++
	}
	if summary.TotalTrades > 0 {
		summary.WinRate = float64(summary.WinningTrades) / float64(summary.TotalTrades) * 100
	}
	return summary, nil
}

// Ensure SQLiteStore implements DataStore interface
var _ DataStore = (*SQLiteStore)(nil)
