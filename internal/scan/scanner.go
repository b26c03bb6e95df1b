// Package scan selects the day's trade candidate during the pre-market
// window: the strongest opening gainer in the liquid universe, resolved to
// its at-the-money call contract.
package scan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"nine15-trader/internal/broker"
	"nine15-trader/internal/config"
	apperrors "nine15-trader/internal/errors"
	"nine15-trader/internal/models"
)

// Scanner produces at most one trade signal per cycle.
type Scanner interface {
	Scan(ctx context.Context) (*models.TradeSignal, error)
}

// DefaultUniverse is the liquid F&O universe scanned when none is
// configured. Order matters only for tie-breaking.
var DefaultUniverse = []string{
	"RELIANCE", "HDFCBANK", "ICICIBANK", "INFY", "TCS",
	"SBIN", "AXISBANK", "KOTAKBANK", "LT", "TATAMOTORS",
	"BHARTIARTL", "ITC", "HINDUNILVR", "BAJFINANCE", "MARUTI",
}

// GainerScanner picks the top opening gainer and resolves its ATM call.
type GainerScanner struct {
	broker   broker.Broker
	universe []string
	cfg      config.TradingConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewGainerScanner creates a scanner over the configured universe.
func NewGainerScanner(b broker.Broker, cfg *config.Config, logger zerolog.Logger) *GainerScanner {
	universe := DefaultUniverse
	if cfg.Trading.UniverseSize > 0 && cfg.Trading.UniverseSize < len(universe) {
		universe = universe[:cfg.Trading.UniverseSize]
	}
	return &GainerScanner{
		broker:   b,
		universe: universe,
		cfg:      cfg.Trading,
		logger:   logger.With().Str("component", "scanner").Logger(),
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock source (tests only).
func (s *GainerScanner) SetNowFunc(now func() time.Time) { s.now = now }

// Scan quotes the universe, picks the strongest gainer, and resolves its
// at-the-money call for the nearest expiry. Returns ErrNoSignal when no
// symbol opened positive.
func (s *GainerScanner) Scan(ctx context.Context) (*models.TradeSignal, error) {
	symbols := make([]string, len(s.universe))
	for i, u := range s.universe {
		symbols[i] = fmt.Sprintf("NSE:%s", u)
	}

	quotes, err := s.broker.Quotes(ctx, symbols)
	if err != nil {
		return nil, apperrors.Wrap(err, "scanning universe")
	}

	type candidate struct {
		underlying string
		quote      *models.Quote
	}
	var candidates []candidate
	for i, sym := range symbols {
		q, ok := quotes[sym]
		if !ok || q.LTP <= 0 {
			continue
		}
		if q.ChangePercent > 0 {
			candidates = append(candidates, candidate{s.universe[i], q})
		}
	}
	if len(candidates) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrNoSignal, "no positive opener in universe")
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].quote.ChangePercent > candidates[j].quote.ChangePercent
	})
	top := candidates[0]

	expiry, err := s.nearestExpiry(ctx, top.underlying)
	if err != nil {
		return nil, err
	}

	chain, err := s.broker.OptionChain(ctx, top.underlying, expiry)
	if err != nil {
		return nil, apperrors.Wrap(err, "fetching option chain")
	}

	strike := models.ATMStrike(top.quote.LTP)
	call := findCall(chain, strike)
	if call == nil {
		return nil, apperrors.NewDataError("option", top.underlying,
			fmt.Sprintf("no ATM call at strike %.0f", strike), apperrors.ErrSymbolNotFound)
	}

	pcr := chain.PCR()
	signal := &models.TradeSignal{
		Underlying:    top.underlying,
		ChangePercent: top.quote.ChangePercent,
		SpotPrice:     top.quote.LTP,
		StrikePrice:   strike,
		OptionSymbol:  call.Symbol,
		LotSize:       call.LotSize,
		Expiry:        expiry,
		PCR:           pcr,
		Confidence:    s.confidence(top.quote.ChangePercent, pcr),
		ScannedAt:     s.now(),
	}

	s.logger.Info().
		Str("underlying", signal.Underlying).
		Float64("change_pct", signal.ChangePercent).
		Float64("strike", signal.StrikePrice).
		Str("option", signal.OptionSymbol).
		Float64("pcr", signal.PCR).
		Float64("confidence", signal.Confidence).
		Msg("Scan selected candidate")
	return signal, nil
}

// nearestExpiry returns the earliest option expiry on or after today for
// the underlying.
func (s *GainerScanner) nearestExpiry(ctx context.Context, underlying string) (time.Time, error) {
	instruments, err := s.broker.Instruments(ctx, models.NFO)
	if err != nil {
		return time.Time{}, apperrors.Wrap(err, "resolving expiry")
	}

	today := s.now().Truncate(24 * time.Hour)
	var nearest time.Time
	for _, inst := range instruments {
		if inst.Name != underlying || (inst.InstrType != "CE" && inst.InstrType != "PE") {
			continue
		}
		if inst.Expiry.Before(today) {
			continue
		}
		if nearest.IsZero() || inst.Expiry.Before(nearest) {
			nearest = inst.Expiry
		}
	}
	if nearest.IsZero() {
		return time.Time{}, apperrors.NewDataError("expiry", underlying, "no live expiry", apperrors.ErrSymbolNotFound)
	}
	return nearest, nil
}

func findCall(chain *models.OptionChain, strike float64) *models.OptionData {
	for _, s := range chain.Strikes {
		if s.Strike == strike && s.Call != nil {
			return s.Call
		}
	}
	return nil
}

// confidence blends gainer strength with PCR position inside the accepted
// band. A 3% opening move saturates the momentum term.
func (s *GainerScanner) confidence(changePct, pcr float64) float64 {
	momentum := changePct / 3
	if momentum > 1 {
		momentum = 1
	}
	sentiment := 0.0
	if pcr >= s.cfg.PCRMin && pcr <= s.cfg.PCRMax {
		sentiment = 1
	} else if pcr > 0 {
		sentiment = 0.3
	}
	return momentum*0.6 + sentiment*0.4
}

var _ Scanner = (*GainerScanner)(nil)
