package risk

import "sort"

// trailingStep maps a reached profit percentage to the stop percentage it
// locks in. Steps ratchet: a stop derived from a higher step never moves
// back down because the lookup runs on the position's highest profit.
type trailingStep struct {
	Profit float64 // profit % at which this step activates
	Stop   float64 // stop % locked in, relative to entry
}

// defaultTrailingSteps is the ratchet table. Early steps trail tightly to
// protect the first gains; later steps give the position more room to run.
var defaultTrailingSteps = []trailingStep{
	{8, 5},
	{12, 9},
	{16, 13},
	{20, 16},
	{25, 20},
	{30, 24},
	{40, 32},
	{50, 40},
	{60, 48},
	{70, 56},
	{80, 64},
	{90, 72},
	{100, 80},
}

// trailingStepsFromConfig builds the step table from flat profit/stop pairs,
// falling back to the default table when unset.
func trailingStepsFromConfig(pairs []float64) []trailingStep {
	if len(pairs) < 2 || len(pairs)%2 != 0 {
		return defaultTrailingSteps
	}
	steps := make([]trailingStep, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		steps = append(steps, trailingStep{Profit: pairs[i], Stop: pairs[i+1]})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Profit < steps[j].Profit })
	return steps
}

// TrailingStop returns the stop price and stop percentage for a position
// given its entry price and the highest profit percentage it has reached.
// Below the first step the initial stop-loss applies. Callers feed the
// highest profit seen, which makes the returned stop monotonic over the
// life of a position.
func (g *Guard) TrailingStop(entryPrice, highProfitPct float64) (float64, float64) {
	g.mu.Lock()
	steps := g.trailingSteps
	initialStop := -g.trading.StopLossPercent
	g.mu.Unlock()

	stopPct := initialStop
	for _, s := range steps {
		if highProfitPct >= s.Profit {
			stopPct = s.Stop
		} else {
			break
		}
	}
	return entryPrice * (1 + stopPct/100), stopPct
}
