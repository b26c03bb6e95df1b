// Package risk implements pre-trade gating, Kelly-based position sizing,
// ratcheting trailing stops and day-level circuit breakers.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nine15-trader/internal/config"
	"nine15-trader/internal/models"
)

// Indicators carries the market-condition inputs to the pre-trade gate.
type Indicators struct {
	VIX            float64
	LiquidityScore float64 // 0..1, composite of spread, depth and volume
	PCR            float64
}

// Decision is the outcome of a pre-trade check. When blocked, Reasons holds
// every violated constraint, not just the first one found.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Guard is the single risk authority for a trading day. All entry decisions
// and closed-trade accounting flow through it; a single mutex keeps the day
// state consistent between the scheduler and the monitor goroutine.
type Guard struct {
	mu      sync.Mutex
	cfg     config.RiskConfig
	trading config.TradingConfig
	logger  zerolog.Logger
	now     func() time.Time
	loc     *time.Location

	initialCapital    float64
	currentCapital    float64
	dailyPnL          float64
	tradesToday       int
	openPositions     int
	consecutiveLosses int
	lastEntryTime     time.Time
	blockedUntil      time.Time
	blockReason       string
	emergencyStopped  bool
	emergencyReason   string
	history           []float64 // per-trade P&L, bounded window

	trailingSteps []trailingStep
}

// NewGuard creates a Guard for a fresh day with the configured capital.
func NewGuard(cfg *config.Config, logger zerolog.Logger, loc *time.Location) *Guard {
	return &Guard{
		cfg:            cfg.Risk,
		trading:        cfg.Trading,
		logger:         logger.With().Str("component", "risk").Logger(),
		now:            time.Now,
		loc:            loc,
		initialCapital: cfg.Trading.Capital,
		currentCapital: cfg.Trading.Capital,
		trailingSteps:  trailingStepsFromConfig(cfg.Risk.TrailingSteps),
	}
}

// SetNowFunc overrides the clock source (tests only).
func (g *Guard) SetNowFunc(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// CheckPreTrade evaluates every entry constraint against the proposed
// notional and current market indicators. All violations are collected so
// the operator sees the complete picture in one decision.
func (g *Guard) CheckPreTrade(notional float64, ind Indicators) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var reasons []string

	if g.emergencyStopped {
		reasons = append(reasons, fmt.Sprintf("emergency stop active: %s", g.emergencyReason))
	}
	if now.Before(g.blockedUntil) {
		reasons = append(reasons, fmt.Sprintf("trading blocked until %s: %s",
			g.blockedUntil.In(g.loc).Format("15:04:05"), g.blockReason))
	}

	lossLimit := g.initialCapital * g.cfg.MaxDailyLossPercent / 100
	if g.dailyPnL <= -lossLimit {
		reasons = append(reasons, fmt.Sprintf("daily loss limit hit: %.2f <= -%.2f", g.dailyPnL, lossLimit))
	}
	if g.consecutiveLosses >= g.cfg.ConsecutiveLossLimit {
		reasons = append(reasons, fmt.Sprintf("consecutive loss limit hit (%d/%d)",
			g.consecutiveLosses, g.cfg.ConsecutiveLossLimit))
	}
	if g.tradesToday >= g.cfg.MaxDailyTrades {
		reasons = append(reasons, fmt.Sprintf("daily trade limit reached (%d/%d)",
			g.tradesToday, g.cfg.MaxDailyTrades))
	}
	if g.openPositions >= g.cfg.MaxOpenPositions {
		reasons = append(reasons, fmt.Sprintf("open position limit reached (%d/%d)",
			g.openPositions, g.cfg.MaxOpenPositions))
	}

	notionalCap := g.currentCapital * g.cfg.MaxPositionPercent / 100
	if notional > notionalCap {
		reasons = append(reasons, fmt.Sprintf("notional %.2f exceeds position cap %.2f", notional, notionalCap))
	}
	if ind.VIX > g.cfg.MaxVIXThreshold {
		reasons = append(reasons, fmt.Sprintf("VIX %.2f above threshold %.2f", ind.VIX, g.cfg.MaxVIXThreshold))
	}
	if ind.LiquidityScore < g.cfg.MinLiquidityScore {
		reasons = append(reasons, fmt.Sprintf("liquidity score %.2f below minimum %.2f",
			ind.LiquidityScore, g.cfg.MinLiquidityScore))
	}

	capitalFloor := g.initialCapital * g.cfg.CapitalFloorPercent / 100
	if g.currentCapital < capitalFloor {
		reasons = append(reasons, fmt.Sprintf("capital %.2f below floor %.2f", g.currentCapital, capitalFloor))
	}

	spacing := time.Duration(g.cfg.MinTradeSpacingSeconds) * time.Second
	if !g.lastEntryTime.IsZero() && now.Sub(g.lastEntryTime) < spacing {
		reasons = append(reasons, fmt.Sprintf("last entry %.0fs ago, minimum spacing %.0fs",
			now.Sub(g.lastEntryTime).Seconds(), spacing.Seconds()))
	}

	if len(reasons) > 0 {
		g.logger.Warn().Strs("reasons", reasons).Float64("notional", notional).Msg("Pre-trade check blocked entry")
		return Decision{Allowed: false, Reasons: reasons}
	}
	return Decision{Allowed: true}
}

// OnOrderFilled records a filled entry order against the day counters.
func (g *Guard) OnOrderFilled(notional float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tradesToday++
	g.openPositions++
	g.lastEntryTime = g.now()
	g.logger.Info().
		Float64("notional", notional).
		Int("trades_today", g.tradesToday).
		Msg("Entry recorded")
}

// OnPositionClosed folds a completed round trip into the day state and
// evaluates the circuit breakers.
func (g *Guard) OnPositionClosed(trade *models.Trade) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.openPositions > 0 {
		g.openPositions--
	}
	g.dailyPnL += trade.PnL
	g.currentCapital += trade.PnL

	if trade.PnL < 0 {
		g.consecutiveLosses++
	} else {
		g.consecutiveLosses = 0
	}

	g.history = append(g.history, trade.PnL)
	if window := g.cfg.HistoryWindow; window > 0 && len(g.history) > window {
		g.history = g.history[len(g.history)-window:]
	}

	g.evaluateBreakersLocked()
}

// evaluateBreakersLocked trips blocks after a closed trade. Caller holds mu.
func (g *Guard) evaluateBreakersLocked() {
	now := g.now()

	lossLimit := g.initialCapital * g.cfg.MaxDailyLossPercent / 100
	if g.dailyPnL <= -lossLimit {
		// Blocked for the rest of the session; expires at next midnight.
		y, m, d := now.In(g.loc).Date()
		g.blockedUntil = time.Date(y, m, d+1, 0, 0, 0, 0, g.loc)
		g.blockReason = fmt.Sprintf("daily loss %.2f breached limit %.2f", g.dailyPnL, lossLimit)
		g.logger.Error().Float64("daily_pnl", g.dailyPnL).Msg("Daily loss breaker tripped")
	}

	if g.consecutiveLosses >= g.cfg.ConsecutiveLossLimit {
		cooldown := time.Duration(g.cfg.LossCooldownMinutes) * time.Minute
		until := now.Add(cooldown)
		if until.After(g.blockedUntil) {
			g.blockedUntil = until
			g.blockReason = fmt.Sprintf("%d consecutive losses", g.consecutiveLosses)
		}
		g.logger.Error().Int("losses", g.consecutiveLosses).Msg("Consecutive loss breaker tripped")
	}

	emergencyFloor := g.initialCapital * g.cfg.EmergencyFloorPercent / 100
	if g.currentCapital < emergencyFloor {
		g.emergencyStopped = true
		g.emergencyReason = fmt.Sprintf("capital %.2f below emergency floor %.2f", g.currentCapital, emergencyFloor)
		g.logger.Error().Float64("capital", g.currentCapital).Msg("Emergency stop: capital floor breached")
	}
}

// EmergencyStop halts all entries and signals open positions to exit.
func (g *Guard) EmergencyStop(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emergencyStopped = true
	g.emergencyReason = reason
	g.logger.Error().Str("reason", reason).Msg("Emergency stop engaged")
}

// EmergencyStopped reports whether the emergency stop is engaged.
func (g *Guard) EmergencyStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emergencyStopped
}

// ResetDay clears daily counters for a new session. Trade history and
// capital carry over; an engaged emergency stop does not reset and must be
// cleared explicitly by the operator.
func (g *Guard) ResetDay() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyPnL = 0
	g.tradesToday = 0
	g.consecutiveLosses = 0
	g.lastEntryTime = time.Time{}
	if g.now().After(g.blockedUntil) {
		g.blockedUntil = time.Time{}
		g.blockReason = ""
	}
	g.logger.Info().Float64("capital", g.currentCapital).Msg("Day state reset")
}

// ClearEmergencyStop lifts the emergency stop. Operator action only.
func (g *Guard) ClearEmergencyStop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emergencyStopped = false
	g.emergencyReason = ""
	g.logger.Warn().Msg("Emergency stop cleared by operator")
}
