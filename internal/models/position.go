package models

import "time"

// PositionStatus represents the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitReasonTarget       ExitReason = "target"
	ExitReasonTrailingStop ExitReason = "trailing_stop"
	ExitReasonStopLoss     ExitReason = "stoploss"
	ExitReasonTimeExit     ExitReason = "time_exit"
	ExitReasonManual       ExitReason = "manual"
	ExitReasonEmergency    ExitReason = "emergency"
	ExitReasonDegraded     ExitReason = "degraded_quote"
)

// Position represents the single open position of a day cycle. It is owned
// exclusively by the position monitor while open; once closed it is handed to
// the risk guard as a read-only record.
type Position struct {
	Symbol       string
	Exchange     Exchange
	Product      ProductType
	Quantity     int
	LotSize      int
	EntryPrice   float64
	EntryTime    time.Time
	EntryOrderID string

	CurrentPrice float64
	HighestPrice float64
	StopPrice    float64
	StopPercent  float64
	TargetPrice  float64

	Status      PositionStatus
	ExitPrice   float64
	ExitTime    time.Time
	ExitReason  ExitReason
	ExitOrderID string
	Degraded    bool // exit used last-known price after sustained quote failures
}

// PnL returns the signed rupee P&L at the given price.
func (p *Position) PnL(price float64) float64 {
	return (price - p.EntryPrice) * float64(p.Quantity)
}

// PnLPercent returns the percentage P&L at the given price.
func (p *Position) PnLPercent(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return ((price - p.EntryPrice) / p.EntryPrice) * 100
}

// Close marks the position closed. It is a no-op if already closed; the
// Open -> Closed transition happens exactly once.
func (p *Position) Close(price float64, at time.Time, reason ExitReason) bool {
	if p.Status == PositionClosed {
		return false
	}
	p.Status = PositionClosed
	p.ExitPrice = price
	p.ExitTime = at
	p.ExitReason = reason
	return true
}

// Trade is the persisted record of a completed round trip, one per closed
// position, appended to the day-scoped trade journal.
type Trade struct {
	ID           string
	Symbol       string
	Exchange     Exchange
	Side         OrderSide
	Product      ProductType
	Quantity     int
	EntryPrice   float64
	EntryTime    time.Time
	ExitPrice    float64
	ExitTime     time.Time
	ExitReason   ExitReason
	PnL          float64
	PnLPercent   float64
	HoldDuration time.Duration
	Slippage     float64
	IsPaper      bool
	Degraded     bool
}

// TradeFromPosition builds the journal record for a closed position.
func TradeFromPosition(p *Position, id string, isPaper bool) *Trade {
	return &Trade{
		ID:           id,
		Symbol:       p.Symbol,
		Exchange:     p.Exchange,
		Side:         OrderSideBuy,
		Product:      p.Product,
		Quantity:     p.Quantity,
		EntryPrice:   p.EntryPrice,
		EntryTime:    p.EntryTime,
		ExitPrice:    p.ExitPrice,
		ExitTime:     p.ExitTime,
		ExitReason:   p.ExitReason,
		PnL:          p.PnL(p.ExitPrice),
		PnLPercent:   p.PnLPercent(p.ExitPrice),
		HoldDuration: p.ExitTime.Sub(p.EntryTime),
		IsPaper:      isPaper,
		Degraded:     p.Degraded,
	}
}
