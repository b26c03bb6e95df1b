package risk

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
)

// Property: the trailing stop ratchets. For any entry price and any pair of
// highest-profit readings a <= b, the stop derived from b is never below the
// stop derived from a, and a locked stop is always below the price that
// produced it.
func TestProperty_TrailingStopRatchetsMonotonically(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	g := NewGuard(testConfig(), zerolog.Nop(), time.UTC)

	properties.Property("stop never moves down as profit rises", prop.ForAll(
		func(entry, p1, p2 float64) bool {
			lo, hi := p1, p2
			if lo > hi {
				lo, hi = hi, lo
			}
			stopLo, pctLo := g.TrailingStop(entry, lo)
			stopHi, pctHi := g.TrailingStop(entry, hi)
			if stopHi < stopLo || pctHi < pctLo {
				return false
			}
			// A positive locked stop stays below the high-water price.
			high := entry * (1 + hi/100)
			return stopHi < high
		},
		gen.Float64Range(10, 2000),
		gen.Float64Range(0, 150),
		gen.Float64Range(0, 150),
	))

	properties.Property("below the first step the initial stop applies", prop.ForAll(
		func(entry float64) bool {
			stop, pct := g.TrailingStop(entry, 7.99)
			return pct == -30 && stop < entry
		},
		gen.Float64Range(10, 2000),
	))

	properties.TestingRun(t)
}

// Property: position sizing always returns whole lots within the configured
// lot bounds, and the notional equals quantity times entry price.
func TestProperty_SizingRespectsLotBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("whole lots between 1 and the per-trade cap", prop.ForAll(
		func(entry float64, lotSize int, vol float64) bool {
			g := NewGuard(testConfig(), zerolog.Nop(), time.UTC)
			qty, notional := g.SizePosition(entry, lotSize, vol)
			if qty <= 0 || qty%lotSize != 0 {
				return false
			}
			lots := qty / lotSize
			if lots < 1 || lots > 2 {
				return false
			}
			want := float64(qty) * entry
			return notional > want-0.001 && notional < want+0.001
		},
		gen.Float64Range(1, 500),
		gen.IntRange(15, 100),
		gen.Float64Range(8, 60),
	))

	properties.TestingRun(t)
}

// Property: the Kelly fraction is always within [0, 0.25] regardless of the
// trade history shape, and a short history uses the flat fallback.
func TestProperty_KellyFractionBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("fraction clamped to [0, 0.25]", prop.ForAll(
		func(pnls []float64) bool {
			g := NewGuard(testConfig(), zerolog.Nop(), time.UTC)
			g.mu.Lock()
			g.history = pnls
			f := g.kellyFractionLocked()
			g.mu.Unlock()
			if f < 0 || f > 0.25 {
				return false
			}
			if len(pnls) < 10 && f != 0.02 {
				return false
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-5000, 5000)),
	))

	properties.TestingRun(t)
}
