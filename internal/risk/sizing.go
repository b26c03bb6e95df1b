package risk

import "math"

const (
	kellyCap         = 0.25 // quarter-Kelly hard ceiling
	fallbackFraction = 0.02 // flat 2% risk until the sample is meaningful
	volBaseline      = 20.0 // VIX level treated as neutral volatility
)

// SizePosition computes the order quantity for an option entry from the
// Kelly fraction, a volatility multiplier and the position notional cap.
// Quantity is rounded to whole lots with a floor of one lot and a ceiling
// of MaxLotsPerTrade.
func (g *Guard) SizePosition(entryPrice float64, lotSize int, vol float64) (int, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entryPrice <= 0 || lotSize <= 0 {
		return 0, 0
	}

	budget := g.currentCapital * g.kellyFractionLocked() * volMultiplier(vol)
	if cap := g.currentCapital * g.cfg.MaxPositionPercent / 100; budget > cap {
		budget = cap
	}

	lotCost := entryPrice * float64(lotSize)
	lots := int(math.Floor(budget / lotCost))
	if lots < 1 {
		lots = 1
	}
	if g.cfg.MaxLotsPerTrade > 0 && lots > g.cfg.MaxLotsPerTrade {
		lots = g.cfg.MaxLotsPerTrade
	}

	qty := lots * lotSize
	return qty, float64(qty) * entryPrice
}

// kellyFractionLocked returns the clamped Kelly fraction from the bounded
// trade history, or the flat fallback when the sample is too small.
// Caller holds mu.
func (g *Guard) kellyFractionLocked() float64 {
	if len(g.history) < g.cfg.MinTradesForKelly {
		return fallbackFraction
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, pnl := range g.history {
		if pnl > 0 {
			wins++
			winSum += pnl
		} else if pnl < 0 {
			losses++
			lossSum += -pnl
		}
	}
	if wins == 0 || losses == 0 {
		return fallbackFraction
	}

	winRate := float64(wins) / float64(len(g.history))
	r := (winSum / float64(wins)) / (lossSum / float64(losses))
	if r <= 0 {
		return fallbackFraction
	}

	f := (winRate*r - (1 - winRate)) / r
	return clamp(f, 0, kellyCap)
}

// volMultiplier shrinks size in high volatility and grows it modestly in
// calm markets, bounded to [0.5, 1.5].
func volMultiplier(vol float64) float64 {
	if vol <= 0 {
		return 1.0
	}
	return clamp(volBaseline/vol, 0.5, 1.5)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
