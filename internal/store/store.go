// Package store provides data persistence for the trade journal, cycle
// history and risk events.
package store

import (
	"context"
	"time"

	"nine15-trader/internal/models"
)

// DataStore defines the persistence operations used by the engine.
type DataStore interface {
	// Trade journal
	LogTrade(ctx context.Context, trade *models.Trade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	// Day cycle history
	SaveCycle(ctx context.Context, record *CycleRecord) error
	GetCycles(ctx context.Context, limit int) ([]CycleRecord, error)

	// Risk events (breaker trips, emergency stops, blocked entries)
	SaveRiskEvent(ctx context.Context, event *RiskEvent) error

	// Aggregation
	DailySummary(ctx context.Context, date time.Time) (*DaySummary, error)

	Close() error
}

// TradeFilter narrows journal queries.
type TradeFilter struct {
	Symbol    string
	StartDate time.Time
	EndDate   time.Time
	IsPaper   *bool
	Limit     int
}

// CycleRecord is the persisted outcome of one day cycle.
type CycleRecord struct {
	ID            string
	Date          string // YYYY-MM-DD
	State         string // terminal cycle state
	Underlying    string
	OptionSymbol  string
	ChangePercent float64
	PCR           float64
	Quantity      int
	Notional      float64
	EntryJitterMs int64
	SkipReasons   string // semicolon-joined when the cycle closed without a trade
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// RiskEvent records a risk-guard action for the audit trail.
type RiskEvent struct {
	ID        int64
	Timestamp time.Time
	Kind      string // "breaker", "emergency_stop", "blocked_entry"
	Detail    string
}

// DaySummary aggregates one day of journal entries.
type DaySummary struct {
	Date          string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	WinRate       float64
	BestPnL       float64
	WorstPnL      float64
	ExitReasons   map[string]int
}
