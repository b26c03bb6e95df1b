package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nine15-trader/internal/config"
	"nine15-trader/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			Capital:             100000,
			ProfitTargetPercent: 8,
			StopLossPercent:     30,
		},
		Risk: config.RiskConfig{
			MaxDailyLossPercent:    2,
			MaxPositionPercent:     5,
			MaxDailyTrades:         3,
			MaxOpenPositions:       1,
			ConsecutiveLossLimit:   3,
			MaxLotsPerTrade:        2,
			MaxVIXThreshold:        25,
			MinLiquidityScore:      0.7,
			CapitalFloorPercent:    80,
			EmergencyFloorPercent:  70,
			MinTradeSpacingSeconds: 60,
			LossCooldownMinutes:    120,
			HistoryWindow:          1000,
			MinTradesForKelly:      10,
		},
	}
}

func testGuard(t *testing.T) (*Guard, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 14, 0, 0, time.UTC)
	g := NewGuard(testConfig(), zerolog.Nop(), time.UTC)
	g.SetNowFunc(func() time.Time { return now })
	return g, &now
}

func okIndicators() Indicators {
	return Indicators{VIX: 15, LiquidityScore: 0.9, PCR: 1.0}
}

func closedTrade(pnl float64) *models.Trade {
	return &models.Trade{Symbol: "NIFTY2630224500CE", PnL: pnl}
}

func TestCheckPreTradeAllowsCleanState(t *testing.T) {
	g, _ := testGuard(t)
	d := g.CheckPreTrade(4000, okIndicators())
	if !d.Allowed {
		t.Fatalf("clean state should allow entry, got reasons: %v", d.Reasons)
	}
	if len(d.Reasons) != 0 {
		t.Errorf("allowed decision should carry no reasons, got %v", d.Reasons)
	}
}

func TestCheckPreTradeCollectsAllViolations(t *testing.T) {
	g, _ := testGuard(t)
	g.EmergencyStop("manual halt")
	// Notional over cap and hostile indicators at the same time.
	d := g.CheckPreTrade(20000, Indicators{VIX: 40, LiquidityScore: 0.1})
	if d.Allowed {
		t.Fatal("expected block")
	}
	if len(d.Reasons) < 4 {
		t.Errorf("expected every violation collected, got %d: %v", len(d.Reasons), d.Reasons)
	}
}

func TestCheckPreTradeSingleConditions(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(g *Guard, now *time.Time)
		notional float64
		ind      Indicators
		want     string
	}{
		{
			name:     "emergency stop",
			mutate:   func(g *Guard, _ *time.Time) { g.EmergencyStop("capital floor") },
			notional: 4000, ind: okIndicators(),
			want: "emergency stop",
		},
		{
			name: "daily loss limit",
			mutate: func(g *Guard, _ *time.Time) {
				g.OnOrderFilled(4000)
				g.OnPositionClosed(closedTrade(-2500))
			},
			notional: 4000, ind: okIndicators(),
			want: "daily loss limit",
		},
		{
			name: "trade limit",
			mutate: func(g *Guard, now *time.Time) {
				for i := 0; i < 3; i++ {
					g.OnOrderFilled(4000)
					g.OnPositionClosed(closedTrade(100))
					*now = now.Add(5 * time.Minute)
				}
			},
			notional: 4000, ind: okIndicators(),
			want: "trade limit",
		},
		{
			name:     "open position limit",
			mutate:   func(g *Guard, _ *time.Time) { g.OnOrderFilled(4000) },
			notional: 4000, ind: okIndicators(),
			want: "open position limit",
		},
		{
			name:     "notional cap",
			mutate:   func(_ *Guard, _ *time.Time) {},
			notional: 5001, ind: okIndicators(),
			want: "position cap",
		},
		{
			name:     "vix threshold",
			mutate:   func(_ *Guard, _ *time.Time) {},
			notional: 4000, ind: Indicators{VIX: 26, LiquidityScore: 0.9},
			want: "VIX",
		},
		{
			name:     "liquidity floor",
			mutate:   func(_ *Guard, _ *time.Time) {},
			notional: 4000, ind: Indicators{VIX: 15, LiquidityScore: 0.5},
			want: "liquidity",
		},
		{
			name: "trade spacing",
			mutate: func(g *Guard, now *time.Time) {
				g.OnOrderFilled(4000)
				g.OnPositionClosed(closedTrade(100))
				*now = now.Add(30 * time.Second)
			},
			notional: 4000, ind: okIndicators(),
			want: "spacing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, now := testGuard(t)
			tt.mutate(g, now)
			d := g.CheckPreTrade(tt.notional, tt.ind)
			if d.Allowed {
				t.Fatalf("expected block for %s", tt.name)
			}
			found := false
			for _, r := range d.Reasons {
				if strings.Contains(r, tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("reasons %v missing %q", d.Reasons, tt.want)
			}
		})
	}
}

func TestConsecutiveLossBreakerBlocksWithCooldown(t *testing.T) {
	g, now := testGuard(t)

	for i := 0; i < 3; i++ {
		g.OnOrderFilled(4000)
		g.OnPositionClosed(closedTrade(-100))
		*now = now.Add(5 * time.Minute)
	}

	d := g.CheckPreTrade(4000, okIndicators())
	if d.Allowed {
		t.Fatal("expected block after three consecutive losses")
	}

	// Two hours later the cooldown has expired; only the loss streak
	// itself still blocks until a winner resets it.
	*now = now.Add(2 * time.Hour)
	d = g.CheckPreTrade(4000, okIndicators())
	for _, r := range d.Reasons {
		if strings.Contains(r, "blocked until") {
			t.Errorf("cooldown should have expired, got %v", d.Reasons)
		}
	}
}

func TestWinResetsConsecutiveLosses(t *testing.T) {
	g, now := testGuard(t)

	g.OnOrderFilled(4000)
	g.OnPositionClosed(closedTrade(-100))
	*now = now.Add(5 * time.Minute)
	g.OnOrderFilled(4000)
	g.OnPositionClosed(closedTrade(250))

	if s := g.Metrics(15); s.ConsecutiveLosses != 0 {
		t.Errorf("win should reset the loss streak, got %d", s.ConsecutiveLosses)
	}
}

func TestDailyLossBlockExpiresAtMidnight(t *testing.T) {
	g, _ := testGuard(t)

	g.OnOrderFilled(4000)
	g.OnPositionClosed(closedTrade(-2500))

	s := g.Metrics(15)
	if !s.Blocked {
		t.Fatal("expected block after daily loss breach")
	}
	wantExpiry := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if !s.BlockedUntil.Equal(wantExpiry) {
		t.Errorf("block expiry = %v, want next midnight %v", s.BlockedUntil, wantExpiry)
	}
}

func TestEmergencyStopOnCapitalFloor(t *testing.T) {
	g, _ := testGuard(t)

	g.OnOrderFilled(4000)
	g.OnPositionClosed(closedTrade(-31000)) // capital 69k < 70% floor

	if !g.EmergencyStopped() {
		t.Fatal("expected emergency stop below 70% capital floor")
	}
	// ResetDay must not lift the emergency stop.
	g.ResetDay()
	if !g.EmergencyStopped() {
		t.Error("ResetDay must not clear the emergency stop")
	}
	g.ClearEmergencyStop()
	if g.EmergencyStopped() {
		t.Error("ClearEmergencyStop should lift the stop")
	}
}

func TestResetDayClearsCounters(t *testing.T) {
	g, now := testGuard(t)

	g.OnOrderFilled(4000)
	g.OnPositionClosed(closedTrade(-500))
	*now = now.Add(24 * time.Hour)
	g.ResetDay()

	s := g.Metrics(15)
	if s.TradesToday != 0 || s.DailyPnL != 0 || s.ConsecutiveLosses != 0 {
		t.Errorf("counters not reset: %+v", s)
	}
	if s.HistorySize != 1 {
		t.Errorf("history should survive the reset, got %d", s.HistorySize)
	}
	if s.CurrentCapital != 99500 {
		t.Errorf("capital should carry over, got %.2f", s.CurrentCapital)
	}
}

func TestMetricsLevelClassification(t *testing.T) {
	g, now := testGuard(t)
	if s := g.Metrics(15); s.Level != RiskLevelLow {
		t.Errorf("fresh day should be LOW, got %s", s.Level)
	}

	g.OnOrderFilled(4000)
	g.OnPositionClosed(closedTrade(-1600)) // 1.6% of 100k, past 75% of the 2% limit
	*now = now.Add(5 * time.Minute)
	if s := g.Metrics(15); s.Level != RiskLevelHigh {
		t.Errorf("near daily loss limit should be HIGH, got %s", s.Level)
	}

	g.EmergencyStop("test")
	if s := g.Metrics(15); s.Level != RiskLevelBlocked {
		t.Errorf("emergency stop should be BLOCKED, got %s", s.Level)
	}
}
