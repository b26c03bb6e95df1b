package risk

import "time"

// RiskLevel is a coarse operator-facing classification of the day state.
type RiskLevel string

const (
	RiskLevelLow     RiskLevel = "LOW"
	RiskLevelMedium  RiskLevel = "MEDIUM"
	RiskLevelHigh    RiskLevel = "HIGH"
	RiskLevelBlocked RiskLevel = "BLOCKED"
)

// Snapshot is a point-in-time view of the guard's day state.
type Snapshot struct {
	InitialCapital    float64
	CurrentCapital    float64
	DailyPnL          float64
	DailyPnLPercent   float64
	TradesToday       int
	OpenPositions     int
	ConsecutiveLosses int
	WinRate           float64
	KellyFraction     float64
	HistorySize       int
	Blocked           bool
	BlockedUntil      time.Time
	BlockReason       string
	EmergencyStopped  bool
	Level             RiskLevel
}

// Metrics returns the current day-state snapshot. VIX feeds the level
// classification only.
func (g *Guard) Metrics(vix float64) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	s := Snapshot{
		InitialCapital:    g.initialCapital,
		CurrentCapital:    g.currentCapital,
		DailyPnL:          g.dailyPnL,
		TradesToday:       g.tradesToday,
		OpenPositions:     g.openPositions,
		ConsecutiveLosses: g.consecutiveLosses,
		KellyFraction:     g.kellyFractionLocked(),
		HistorySize:       len(g.history),
		Blocked:           now.Before(g.blockedUntil),
		BlockedUntil:      g.blockedUntil,
		BlockReason:       g.blockReason,
		EmergencyStopped:  g.emergencyStopped,
	}
	if g.initialCapital > 0 {
		s.DailyPnLPercent = g.dailyPnL / g.initialCapital * 100
	}
	if len(g.history) > 0 {
		wins := 0
		for _, pnl := range g.history {
			if pnl > 0 {
				wins++
			}
		}
		s.WinRate = float64(wins) / float64(len(g.history))
	}
	s.Level = g.classifyLocked(s, vix)
	return s
}

func (g *Guard) classifyLocked(s Snapshot, vix float64) RiskLevel {
	if s.EmergencyStopped || s.Blocked {
		return RiskLevelBlocked
	}
	lossLimit := g.cfg.MaxDailyLossPercent
	switch {
	case -s.DailyPnLPercent >= lossLimit*0.75,
		s.ConsecutiveLosses >= g.cfg.ConsecutiveLossLimit-1 && g.cfg.ConsecutiveLossLimit > 1,
		vix > g.cfg.MaxVIXThreshold:
		return RiskLevelHigh
	case -s.DailyPnLPercent >= lossLimit*0.5,
		s.TradesToday >= g.cfg.MaxDailyTrades-1 && g.cfg.MaxDailyTrades > 1:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}
