package store

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nine15-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrade(id string, pnl float64, entry time.Time) *models.Trade {
	exitPrice := 100.0 + pnl/550.0
	return &models.Trade{
		ID:           id,
		Symbol:       "HDFCBANK26SEP900CE",
		Exchange:     models.NFO,
		Side:         models.OrderSideBuy,
		Product:      models.ProductMIS,
		Quantity:     550,
		EntryPrice:   100.0,
		EntryTime:    entry,
		ExitPrice:    exitPrice,
		ExitTime:     entry.Add(45 * time.Minute),
		ExitReason:   models.ExitReasonTarget,
		PnL:          pnl,
		PnLPercent:   (exitPrice - 100.0),
		HoldDuration: 45 * time.Minute,
		IsPaper:      true,
	}
}

func TestLogAndGetTrades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	if err := s.LogTrade(ctx, sampleTrade("t1", 4400, entry)); err != nil {
		t.Fatalf("LogTrade: %v", err)
	}
	if err := s.LogTrade(ctx, sampleTrade("t2", -2200, entry.Add(24*time.Hour))); err != nil {
		t.Fatalf("LogTrade: %v", err)
	}

	trades, err := s.GetTrades(ctx, TradeFilter{})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	// Most recent first
	if trades[0].ID != "t2" {
		t.Errorf("expected t2 first, got %s", trades[0].ID)
	}
	got := trades[1]
	if got.ExitReason != models.ExitReasonTarget {
		t.Errorf("exit reason = %q", got.ExitReason)
	}
	if got.HoldDuration != 45*time.Minute {
		t.Errorf("hold duration = %v", got.HoldDuration)
	}
	if !got.IsPaper {
		t.Error("expected paper trade")
	}
}

func TestGetTradesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	s.LogTrade(ctx, sampleTrade("t1", 1000, entry))
	tr := sampleTrade("t2", 2000, entry.Add(24*time.Hour))
	tr.Symbol = "RELIANCE26SEP1400CE"
	tr.IsPaper = false
	s.LogTrade(ctx, tr)

	bySymbol, err := s.GetTrades(ctx, TradeFilter{Symbol: "RELIANCE26SEP1400CE"})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(bySymbol) != 1 || bySymbol[0].ID != "t2" {
		t.Fatalf("symbol filter returned %d trades", len(bySymbol))
	}

	paper := true
	byPaper, err := s.GetTrades(ctx, TradeFilter{IsPaper: &paper})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(byPaper) != 1 || byPaper[0].ID != "t1" {
		t.Fatalf("paper filter returned %d trades", len(byPaper))
	}

	byDate, err := s.GetTrades(ctx, TradeFilter{StartDate: entry.Add(12 * time.Hour)})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(byDate) != 1 || byDate[0].ID != "t2" {
		t.Fatalf("date filter returned %d trades", len(byDate))
	}

	limited, err := s.GetTrades(ctx, TradeFilter{Limit: 1})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit filter returned %d trades", len(limited))
	}
}

func TestSaveAndGetCycles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &CycleRecord{
		ID:            "cycle-2026-03-02",
		Date:          "2026-03-02",
		State:         "CLOSED",
		Underlying:    "HDFCBANK",
		OptionSymbol:  "HDFCBANK26SEP900CE",
		ChangePercent: 2.8,
		PCR:           0.9,
		Quantity:      550,
		Notional:      55000,
		EntryJitterMs: 12,
		StartedAt:     time.Date(2026, 3, 2, 9, 14, 0, 0, time.UTC),
		FinishedAt:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	if err := s.SaveCycle(ctx, rec); err != nil {
		t.Fatalf("SaveCycle: %v", err)
	}
	skipped := &CycleRecord{
		ID:          "cycle-2026-03-03",
		Date:        "2026-03-03",
		State:       "CLOSED",
		SkipReasons: "daily loss limit hit; VIX 32.00 above threshold",
		StartedAt:   time.Date(2026, 3, 3, 9, 14, 0, 0, time.UTC),
		FinishedAt:  time.Date(2026, 3, 3, 9, 15, 0, 0, time.UTC),
	}
	if err := s.SaveCycle(ctx, skipped); err != nil {
		t.Fatalf("SaveCycle: %v", err)
	}

	cycles, err := s.GetCycles(ctx, 10)
	if err != nil {
		t.Fatalf("GetCycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(cycles))
	}
	if cycles[0].Date != "2026-03-03" {
		t.Errorf("expected newest cycle first, got %s", cycles[0].Date)
	}
	if cycles[1].EntryJitterMs != 12 {
		t.Errorf("jitter = %d", cycles[1].EntryJitterMs)
	}
	if !strings.Contains(cycles[0].SkipReasons, "VIX") {
		t.Errorf("skip reasons = %q", cycles[0].SkipReasons)
	}
}

func TestSaveCycleUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &CycleRecord{ID: "c1", Date: "2026-03-02", State: "SCANNING"}
	s.SaveCycle(ctx, rec)
	rec.State = "CLOSED"
	s.SaveCycle(ctx, rec)

	cycles, err := s.GetCycles(ctx, 0)
	if err != nil {
		t.Fatalf("GetCycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected upsert, got %d rows", len(cycles))
	}
	if cycles[0].State != "CLOSED" {
		t.Errorf("state = %s", cycles[0].State)
	}
}

func TestSaveRiskEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := &RiskEvent{
		Timestamp: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		Kind:      "breaker",
		Detail:    "daily loss limit hit",
	}
	if err := s.SaveRiskEvent(ctx, ev); err != nil {
		t.Fatalf("SaveRiskEvent: %v", err)
	}
}

func TestDailySummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	s.LogTrade(ctx, sampleTrade("t1", 4400, day.Add(9*time.Hour)))
	lose := sampleTrade("t2", -2200, day.Add(10*time.Hour))
	lose.ExitReason = models.ExitReasonStopLoss
	s.LogTrade(ctx, lose)
	// Next day, must not appear
	s.LogTrade(ctx, sampleTrade("t3", 9999, day.Add(30*time.Hour)))

	summary, err := s.DailySummary(ctx, day)
	if err != nil {
		t.Fatalf("DailySummary: %v", err)
	}
	if summary.TotalTrades != 2 {
		t.Fatalf("total trades = %d", summary.TotalTrades)
	}
	if summary.WinningTrades != 1 || summary.LosingTrades != 1 {
		t.Errorf("win/loss = %d/%d", summary.WinningTrades, summary.LosingTrades)
	}
	if summary.TotalPnL != 2200 {
		t.Errorf("total pnl = %.2f", summary.TotalPnL)
	}
	if summary.WinRate != 50 {
		t.Errorf("win rate = %.2f", summary.WinRate)
	}
	if summary.BestPnL != 4400 || summary.WorstPnL != -2200 {
		t.Errorf("best/worst = %.2f/%.2f", summary.BestPnL, summary.WorstPnL)
	}
	if summary.ExitReasons["target"] != 1 || summary.ExitReasons["stoploss"] != 1 {
		t.Errorf("exit reasons = %v", summary.ExitReasons)
	}
}

func TestExportTradesCSV(t *testing.T) {
	entry := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	trades := []models.Trade{*sampleTrade("t1", 4400, entry)}

	var buf bytes.Buffer
	if err := ExportTradesCSV(&buf, trades); err != nil {
		t.Fatalf("ExportTradesCSV: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "id,symbol,exchange") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "HDFCBANK26SEP900CE") {
		t.Errorf("missing symbol row: %q", out)
	}
	if !strings.Contains(out, "target") {
		t.Errorf("missing exit reason: %q", out)
	}
}
