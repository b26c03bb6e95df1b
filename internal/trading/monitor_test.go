package trading

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nine15-trader/internal/config"
	"nine15-trader/internal/models"
	"nine15-trader/internal/risk"
	"nine15-trader/pkg/utils"
)

type monitorFixture struct {
	monitor *Monitor
	clk     *testClock
	broker  *fakeBroker
	guard   *risk.Guard
}

func newMonitorFixture(t *testing.T, cfg *config.Config) *monitorFixture {
	t.Helper()
	start := time.Date(2026, 3, 2, 9, 15, 1, 0, utils.IndiaLocation)
	clk := &testClock{now: start}
	b := newFakeBroker()
	guard := risk.NewGuard(cfg, zerolog.Nop(), utils.IndiaLocation)
	guard.SetNowFunc(clk.Now)
	m := NewMonitor(b, guard, clk, &fakeNotifier{}, cfg, zerolog.Nop())
	return &monitorFixture{monitor: m, clk: clk, broker: b, guard: guard}
}

func openPosition(cfg *config.Config, entry float64) *models.Position {
	return &models.Position{
		Symbol:       "HDFCBANK26SEP900CE",
		Exchange:     models.NFO,
		Product:      models.ProductMIS,
		Quantity:     550,
		LotSize:      550,
		EntryPrice:   entry,
		EntryTime:    time.Date(2026, 3, 2, 9, 15, 0, 0, utils.IndiaLocation),
		CurrentPrice: entry,
		HighestPrice: entry,
		TargetPrice:  entry * (1 + cfg.Trading.ProfitTargetPercent/100),
		StopPrice:    entry * (1 - cfg.Trading.StopLossPercent/100),
		StopPercent:  -cfg.Trading.StopLossPercent,
		Status:       models.PositionOpen,
	}
}

func TestWatchExitsAtTarget(t *testing.T) {
	cfg := testConfig()
	f := newMonitorFixture(t, cfg)
	f.broker.pushQuotes(optionQuoteKey, 50000, 101, 105, 108.5)

	pos, err := f.monitor.Watch(context.Background(), openPosition(cfg, 100))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if pos.ExitReason != models.ExitReasonTarget {
		t.Errorf("exit reason = %s", pos.ExitReason)
	}
	if pos.ExitPrice != 108.5 {
		t.Errorf("exit price = %.2f", pos.ExitPrice)
	}
	if pos.Status != models.PositionClosed {
		t.Errorf("status = %s", pos.Status)
	}
}

// TestWatchTrailingOverridesTargetExit runs the shipped defaults: 8% target,
// 30% initial stop, trailing on. Touching the target at 109 must not close
// the trade; it locks the stop at entry+5% and the pullback to 104 ends it.
func TestWatchTrailingOverridesTargetExit(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.TrailingEnabled = true
	f := newMonitorFixture(t, cfg)
	f.broker.pushQuotes(optionQuoteKey, 50000, 107, 109, 104)

	pos, err := f.monitor.Watch(context.Background(), openPosition(cfg, 100))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if pos.ExitReason != models.ExitReasonTrailingStop {
		t.Errorf("exit reason = %s, want trailing_stop", pos.ExitReason)
	}
	if pos.ExitPrice != 104 {
		t.Errorf("exit price = %.2f", pos.ExitPrice)
	}
	if pos.StopPrice != 105 {
		t.Errorf("stop price = %.2f, want entry+5%%", pos.StopPrice)
	}
	if pos.HighestPrice != 109 {
		t.Errorf("highest price = %.2f", pos.HighestPrice)
	}
}

func TestWatchTrailingStopRatchet(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.TrailingEnabled = true
	// High enough target that the ratchet, not the target, ends the trade.
	cfg.Trading.ProfitTargetPercent = 20
	f := newMonitorFixture(t, cfg)
	// Peak at +9% locks the stop at entry+5%; the pullback to 104 trips it.
	f.broker.pushQuotes(optionQuoteKey, 50000, 104, 107, 108, 109, 104)

	pos, err := f.monitor.Watch(context.Background(), openPosition(cfg, 100))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if pos.ExitReason != models.ExitReasonTrailingStop {
		t.Errorf("exit reason = %s", pos.ExitReason)
	}
	if pos.ExitPrice != 104 {
		t.Errorf("exit price = %.2f", pos.ExitPrice)
	}
	if pos.StopPrice != 105 {
		t.Errorf("stop price = %.2f", pos.StopPrice)
	}
	if pos.HighestPrice != 109 {
		t.Errorf("highest price = %.2f", pos.HighestPrice)
	}
}

func TestWatchStopNeverLowers(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.TrailingEnabled = true
	cfg.Trading.ProfitTargetPercent = 50
	f := newMonitorFixture(t, cfg)
	// After the 12% step locks entry+9%, a drift back to 10% profit must not
	// loosen the stop back to the 8% step's level.
	f.broker.pushQuotes(optionQuoteKey, 50000, 112, 110, 110, 108)

	pos, err := f.monitor.Watch(context.Background(), openPosition(cfg, 100))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if pos.StopPrice != 109 {
		t.Errorf("stop price = %.2f", pos.StopPrice)
	}
	if pos.ExitReason != models.ExitReasonTrailingStop {
		t.Errorf("exit reason = %s", pos.ExitReason)
	}
}

func TestWatchInitialStopLoss(t *testing.T) {
	cfg := testConfig()
	f := newMonitorFixture(t, cfg)
	f.broker.pushQuotes(optionQuoteKey, 50000, 95, 80, 69)

	pos, err := f.monitor.Watch(context.Background(), openPosition(cfg, 100))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if pos.ExitReason != models.ExitReasonStopLoss {
		t.Errorf("exit reason = %s", pos.ExitReason)
	}
	if pos.ExitPrice != 69 {
		t.Errorf("exit price = %.2f", pos.ExitPrice)
	}
}

func TestWatchForceExitAtSquareOff(t *testing.T) {
	cfg := testConfig()
	cfg.Timing.ForceExitTime = "09:15:05"
	f := newMonitorFixture(t, cfg)
	f.broker.pushQuotes(optionQuoteKey, 50000, 101)

	pos, err := f.monitor.Watch(context.Background(), openPosition(cfg, 100))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if pos.ExitReason != models.ExitReasonTimeExit {
		t.Errorf("exit reason = %s", pos.ExitReason)
	}
	if pos.ExitPrice != 101 {
		t.Errorf("exit price = %.2f", pos.ExitPrice)
	}
}

func TestWatchDegradedExitAfterQuoteFailures(t *testing.T) {
	cfg := testConfig()
	f := newMonitorFixture(t, cfg)
	// One good tick establishes a last-known price, then the feed dies.
	f.broker.pushQuotes(optionQuoteKey, 50000, 102, -1, -1, -1, -1, -1)

	pos, err := f.monitor.Watch(context.Background(), openPosition(cfg, 100))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if pos.ExitReason != models.ExitReasonDegraded {
		t.Errorf("exit reason = %s", pos.ExitReason)
	}
	if !pos.Degraded {
		t.Error("degraded flag not set")
	}
	if pos.ExitPrice != 102 {
		t.Errorf("exit price = %.2f, want last known 102", pos.ExitPrice)
	}
}

func TestWatchRecoversFromTransientQuoteFailures(t *testing.T) {
	cfg := testConfig()
	f := newMonitorFixture(t, cfg)
	// Failures below the limit reset on the next good tick.
	f.broker.pushQuotes(optionQuoteKey, 50000, 101, -1, -1, 103, -1, 108.5)

	pos, err := f.monitor.Watch(context.Background(), openPosition(cfg, 100))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if pos.ExitReason != models.ExitReasonTarget {
		t.Errorf("exit reason = %s", pos.ExitReason)
	}
	if pos.Degraded {
		t.Error("degraded flag should not be set")
	}
}

func TestWatchEmergencyStopExit(t *testing.T) {
	cfg := testConfig()
	f := newMonitorFixture(t, cfg)
	f.guard.EmergencyStop("manual kill switch")

	pos, err := f.monitor.Watch(context.Background(), openPosition(cfg, 100))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if pos.ExitReason != models.ExitReasonEmergency {
		t.Errorf("exit reason = %s", pos.ExitReason)
	}
}

func TestWatchManualExitOnCancel(t *testing.T) {
	cfg := testConfig()
	f := newMonitorFixture(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pos, err := f.monitor.Watch(ctx, openPosition(cfg, 100))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if pos.ExitReason != models.ExitReasonManual {
		t.Errorf("exit reason = %s", pos.ExitReason)
	}
	if pos.ExitPrice != 100 {
		t.Errorf("exit price = %.2f, want entry as last known", pos.ExitPrice)
	}
}
