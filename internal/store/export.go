package store

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"nine15-trader/internal/models"
)

// TradeCSV is the flat journal row used for CSV export.
type TradeCSV struct {
	ID         string  `csv:"id"`
	Symbol     string  `csv:"symbol"`
	Exchange   string  `csv:"exchange"`
	Side       string  `csv:"side"`
	Product    string  `csv:"product"`
	Quantity   int     `csv:"quantity"`
	EntryPrice float64 `csv:"entry_price"`
	EntryTime  string  `csv:"entry_time"`
	ExitPrice  float64 `csv:"exit_price"`
	ExitTime   string  `csv:"exit_time"`
	ExitReason string  `csv:"exit_reason"`
	PnL        float64 `csv:"pnl"`
	PnLPercent float64 `csv:"pnl_percent"`
	HoldMins   float64 `csv:"hold_minutes"`
	IsPaper    bool    `csv:"is_paper"`
	Degraded   bool    `csv:"degraded"`
}

// ExportTradesCSV writes the trades to w as CSV with a header row.
func ExportTradesCSV(w io.Writer, trades []models.Trade) error {
	rows := make([]TradeCSV, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, TradeCSV{
			ID:         t.ID,
			Symbol:     t.Symbol,
			Exchange:   string(t.Exchange),
			Side:       string(t.Side),
			Product:    string(t.Product),
			Quantity:   t.Quantity,
			EntryPrice: t.EntryPrice,
			EntryTime:  t.EntryTime.Format(time.RFC3339),
			ExitPrice:  t.ExitPrice,
			ExitTime:   t.ExitTime.Format(time.RFC3339),
			ExitReason: string(t.ExitReason),
			PnL:        t.PnL,
			PnLPercent: t.PnLPercent,
			HoldMins:   t.HoldDuration.Minutes(),
			IsPaper:    t.IsPaper,
			Degraded:   t.Degraded,
		})
	}

	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to export trades: %w", err)
	}
	return nil
}
