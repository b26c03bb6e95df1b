package trading

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nine15-trader/internal/broker"
	"nine15-trader/internal/clock"
	"nine15-trader/internal/config"
	apperrors "nine15-trader/internal/errors"
	"nine15-trader/internal/logging"
	"nine15-trader/internal/models"
	"nine15-trader/internal/notify"
	"nine15-trader/internal/risk"
	"nine15-trader/internal/scan"
	"nine15-trader/internal/store"
	"nine15-trader/pkg/utils"
)

// vixSymbol is the exchange quote key for the India VIX index.
const vixSymbol = "NSE:INDIA VIX"

// clockSyncer is implemented by clocks that can correct against a reference.
type clockSyncer interface {
	Sync(ctx context.Context) error
}

// Scheduler drives one trading day through the cycle state machine: wait for
// the scan window, pick a contract, size and gate the order, fire it at the
// execute instant, then hand the position to the monitor.
type Scheduler struct {
	cfg      *config.Config
	clk      clock.Clock
	broker   broker.Broker
	guard    *risk.Guard
	scanner  scan.Scanner
	monitor  *Monitor
	notifier notify.Notifier
	store    store.DataStore
	logger   zerolog.Logger
	loc      *time.Location
}

// SchedulerDeps collects the scheduler's collaborators.
type SchedulerDeps struct {
	Config   *config.Config
	Clock    clock.Clock
	Broker   broker.Broker
	Guard    *risk.Guard
	Scanner  scan.Scanner
	Monitor  *Monitor
	Notifier notify.Notifier
	Store    store.DataStore
	Logger   zerolog.Logger
	Location *time.Location
}

// NewScheduler builds a scheduler from its dependencies.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	loc := deps.Location
	if loc == nil {
		loc = utils.IndiaLocation
	}
	return &Scheduler{
		cfg:      deps.Config,
		clk:      deps.Clock,
		broker:   deps.Broker,
		guard:    deps.Guard,
		scanner:  deps.Scanner,
		monitor:  deps.Monitor,
		notifier: deps.Notifier,
		store:    deps.Store,
		logger:   deps.Logger.With().Str("component", "scheduler").Logger(),
		loc:      loc,
	}
}

// Run executes one complete day cycle and returns it in a terminal state.
// The returned error is reserved for infrastructure failures; skips and
// rejections close the cycle normally with their reasons recorded.
func (s *Scheduler) Run(ctx context.Context) (*Cycle, error) {
	day := s.clk.Now().In(s.loc)
	cycle := NewCycle(day)
	logger := logging.WithCycle(s.logger, cycle.Date)

	if syncer, ok := s.clk.(clockSyncer); ok {
		if err := syncer.Sync(ctx); err != nil {
			logger.Warn().Err(err).Msg("clock sync failed, using system time")
		}
	}

	scanAt, err := utils.AtClockTime(day, s.cfg.Timing.ScanTime)
	if err != nil {
		return s.fail(ctx, cycle, logger, apperrors.Wrap(err, "parsing scan time"))
	}
	prepareAt, err := utils.AtClockTime(day, s.cfg.Timing.PrepareTime)
	if err != nil {
		return s.fail(ctx, cycle, logger, apperrors.Wrap(err, "parsing prepare time"))
	}
	executeAt, err := utils.AtClockTime(day, s.cfg.Timing.ExecuteTime)
	if err != nil {
		return s.fail(ctx, cycle, logger, apperrors.Wrap(err, "parsing execute time"))
	}

	if day.After(executeAt) {
		logger.Warn().
			Time("execute_at", executeAt).
			Dur("late_by", day.Sub(executeAt)).
			Msg("started after execute time, proceeding without waiting")
	}

	// Scan phase
	if _, err := s.clk.WaitUntil(ctx, scanAt); err != nil {
		return s.fail(ctx, cycle, logger, apperrors.Wrap(err, "waiting for scan window"))
	}
	s.transition(cycle, StateScanning, logger)

	signal, err := s.scanner.Scan(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNoSignal) {
			logger.Info().Msg("no entry candidate today")
			return s.skip(ctx, cycle, logger, "no positive gainer with a tradeable option found")
		}
		return s.fail(ctx, cycle, logger, apperrors.Wrap(err, "scanning"))
	}
	cycle.Signal = signal
	logger.Info().
		Str("underlying", signal.Underlying).
		Float64("change_pct", signal.ChangePercent).
		Str("option", signal.OptionSymbol).
		Float64("pcr", signal.PCR).
		Float64("confidence", signal.Confidence).
		Msg("signal selected")

	if signal.PCR < s.cfg.Trading.PCRMin || signal.PCR > s.cfg.Trading.PCRMax {
		msg := fmt.Sprintf("PCR %.2f outside [%.2f, %.2f]", signal.PCR, s.cfg.Trading.PCRMin, s.cfg.Trading.PCRMax)
		if s.cfg.Trading.StrictPCRCheck {
			return s.skip(ctx, cycle, logger, msg)
		}
		logger.Warn().Msg(msg + ", continuing (strict check off)")
	}

	// Prepare phase
	if _, err := s.clk.WaitUntil(ctx, prepareAt); err != nil {
		return s.fail(ctx, cycle, logger, apperrors.Wrap(err, "waiting for prepare window"))
	}
	s.transition(cycle, StatePreparing, logger)

	intent, ind, err := s.prepare(ctx, signal, logger)
	if err != nil {
		var riskErr *apperrors.RiskError
		if apperrors.As(err, &riskErr) {
			return s.skip(ctx, cycle, logger, strings.Split(riskErr.Message, "; ")...)
		}
		return s.fail(ctx, cycle, logger, err)
	}
	cycle.Intent = intent
	s.transition(cycle, StateReady, logger)

	// Execute phase
	actual, err := s.clk.WaitUntil(ctx, executeAt)
	if err != nil {
		return s.fail(ctx, cycle, logger, apperrors.Wrap(err, "waiting for execute instant"))
	}
	jitter := clock.Jitter{Target: executeAt, Actual: actual}
	cycle.EntryJitter = jitter.Delay()
	logging.LogJitter(logger, "execute", executeAt, actual)

	s.transition(cycle, StateExecuting, logger)

	// Conditions can change between prepare and execute; gate again.
	if decision := s.guard.CheckPreTrade(intent.Notional, ind); !decision.Allowed {
		logging.LogRiskBlock(logger, intent.Symbol, decision.Reasons)
		return s.skip(ctx, cycle, logger, decision.Reasons...)
	}

	order, err := s.execute(ctx, cycle, intent, logger)
	if err != nil {
		return s.fail(ctx, cycle, logger, err)
	}
	if order == nil {
		// Rejection; cycle already closed with the broker's reason.
		return cycle, nil
	}
	cycle.Order = order
	s.guard.OnOrderFilled(intent.Notional)

	pos := positionFromFill(intent, order, s.clk.Now())
	pos.TargetPrice = order.AveragePrice * (1 + s.cfg.Trading.ProfitTargetPercent/100)
	pos.StopPrice = order.AveragePrice * (1 - s.cfg.Trading.StopLossPercent/100)
	pos.StopPercent = -s.cfg.Trading.StopLossPercent
	cycle.Position = pos

	s.transition(cycle, StateMonitoring, logger)

	pos, watchErr := s.monitor.Watch(ctx, pos)
	if watchErr != nil {
		logger.Error().Err(watchErr).Msg("monitor exit reported error")
	}

	trade := models.TradeFromPosition(pos, fmt.Sprintf("%s-%s", cycle.Date, pos.Symbol), s.broker.IsPaper())
	trade.Slippage = order.AveragePrice - intent.ExpectedFill
	cycle.Trade = trade

	s.guard.OnPositionClosed(trade)
	s.recordRiskState(ctx, logger)

	if err := s.store.LogTrade(ctx, trade); err != nil {
		logger.Error().Err(err).Msg("failed to persist trade")
	}
	if err := s.notifier.SendTrade(ctx, trade); err != nil {
		logger.Warn().Err(err).Msg("trade notification failed")
	}

	s.sendDailySummary(ctx, day, logger)

	s.transition(cycle, StateClosed, logger)
	cycle.FinishedAt = s.clk.Now()
	s.persistCycle(ctx, cycle, logger)
	return cycle, nil
}

// sendDailySummary reports the day's totals after the position closes.
func (s *Scheduler) sendDailySummary(ctx context.Context, day time.Time, logger zerolog.Logger) {
	summary, err := s.store.DailySummary(ctx, day)
	if err != nil {
		logger.Warn().Err(err).Msg("daily summary unavailable")
		return
	}
	if summary.TotalTrades == 0 {
		return
	}
	n := &notify.DailySummary{
		Date:          summary.Date,
		TotalTrades:   summary.TotalTrades,
		WinningTrades: summary.WinningTrades,
		LosingTrades:  summary.LosingTrades,
		TotalPnL:      summary.TotalPnL,
		WinRate:       summary.WinRate,
		ExitReasons:   summary.ExitReasons,
	}
	if err := s.notifier.SendDailySummary(ctx, n); err != nil {
		logger.Warn().Err(err).Msg("daily summary notification failed")
	}
}

// prepare resolves the final order parameters: entry price, volatility and
// liquidity readings, position size, and the preliminary risk gate.
func (s *Scheduler) prepare(ctx context.Context, signal *models.TradeSignal, logger zerolog.Logger) (*models.OrderIntent, risk.Indicators, error) {
	exchange := models.Exchange(s.cfg.Trading.DefaultExchange)
	quoteSymbol := fmt.Sprintf("%s:%s", exchange, signal.OptionSymbol)

	quote, err := s.broker.Quote(ctx, quoteSymbol)
	if err != nil {
		return nil, risk.Indicators{}, apperrors.Wrapf(err, "quoting %s", signal.OptionSymbol)
	}
	if quote.LTP <= 0 {
		return nil, risk.Indicators{}, apperrors.NewDataError("quote", signal.OptionSymbol, "zero last traded price", apperrors.ErrStaleQuote)
	}

	vix := 0.0
	if vq, err := s.broker.Quote(ctx, vixSymbol); err != nil {
		logger.Warn().Err(err).Msg("VIX unavailable, skipping volatility scaling")
	} else {
		vix = vq.LTP
	}

	ind := risk.Indicators{
		VIX:            vix,
		LiquidityScore: liquidityScore(quote.Volume),
		PCR:            signal.PCR,
	}

	qty, notional := s.guard.SizePosition(quote.LTP, signal.LotSize, vix)
	logger.Info().
		Int("quantity", qty).
		Float64("notional", notional).
		Float64("ltp", quote.LTP).
		Float64("vix", vix).
		Float64("liquidity", ind.LiquidityScore).
		Msg("position sized")

	if decision := s.guard.CheckPreTrade(notional, ind); !decision.Allowed {
		logging.LogRiskBlock(logger, signal.OptionSymbol, decision.Reasons)
		return nil, ind, apperrors.NewRiskError("pre_trade", 0, 0, strings.Join(decision.Reasons, "; "))
	}

	intent := &models.OrderIntent{
		Symbol:       signal.OptionSymbol,
		Exchange:     exchange,
		Side:         models.OrderSideBuy,
		Type:         models.OrderTypeMarket,
		Product:      models.ProductType(s.cfg.Trading.DefaultProduct),
		Quantity:     qty,
		LotSize:      signal.LotSize,
		ExpectedFill: quote.LTP,
		Notional:     notional,
		Tag:          "nine15-entry",
		PreparedAt:   s.clk.Now(),
	}
	return intent, ind, nil
}

// execute submits the entry order. A rejection closes the cycle with the
// broker's reason verbatim and returns (nil, nil); only infrastructure
// failures return an error.
func (s *Scheduler) execute(ctx context.Context, cycle *Cycle, intent *models.OrderIntent, logger zerolog.Logger) (*models.Order, error) {
	result, err := s.broker.SubmitOrder(ctx, intent)
	if err != nil {
		return nil, apperrors.Wrap(err, "submitting entry order")
	}
	if result.Rejected() {
		s.rejected(ctx, cycle, intent, result.OrderID, result.Message, logger)
		return nil, nil
	}

	if result.Status == models.OrderStatusOpen {
		order, err := s.awaitFill(ctx, result.OrderID)
		if err != nil {
			return nil, err
		}
		if order.Status == models.OrderStatusRejected {
			s.rejected(ctx, cycle, intent, order.ID, order.StatusReason, logger)
			return nil, nil
		}
		logging.LogOrder(logger, order.ID, order.Symbol, string(order.Side), string(order.Status))
		return order, nil
	}

	order := &models.Order{
		ID:           result.OrderID,
		Symbol:       intent.Symbol,
		Exchange:     intent.Exchange,
		Side:         intent.Side,
		Type:         intent.Type,
		Product:      intent.Product,
		Quantity:     intent.Quantity,
		Status:       result.Status,
		FilledQty:    intent.Quantity,
		AveragePrice: result.FilledAt,
		PlacedAt:     s.clk.Now(),
	}
	logging.LogOrder(logger, order.ID, order.Symbol, string(order.Side), string(order.Status))
	return order, nil
}

// awaitFill polls the order until it reaches a terminal status.
func (s *Scheduler) awaitFill(ctx context.Context, orderID string) (*models.Order, error) {
	cfg := utils.RetryConfig{
		MaxAttempts:   10,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 1.5,
	}
	return utils.RetryWithResult(ctx, cfg, func() (*models.Order, error) {
		order, err := s.broker.OrderStatus(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order.Status == models.OrderStatusOpen {
			return nil, apperrors.Wrapf(apperrors.ErrTimeout, "order %s still open", orderID)
		}
		return order, nil
	})
}

// rejected closes the cycle carrying the broker's reason text untouched.
func (s *Scheduler) rejected(ctx context.Context, cycle *Cycle, intent *models.OrderIntent, orderID, reason string, logger zerolog.Logger) {
	logger.Error().
		Str("order_id", orderID).
		Str("symbol", intent.Symbol).
		Str("reason", reason).
		Msg("entry order rejected")

	n := notify.Notification{
		Type:      notify.NotificationError,
		Title:     fmt.Sprintf("Order rejected: %s", intent.Symbol),
		Message:   reason,
		Timestamp: s.clk.Now(),
	}
	if err := s.notifier.Send(ctx, n); err != nil {
		logger.Warn().Err(err).Msg("rejection notification failed")
	}

	cycle.Skip(s.clk.Now(), "order rejected: "+reason)
	s.persistCycle(ctx, cycle, logger)
}

// skip closes the cycle without trading, notifying once with all reasons.
func (s *Scheduler) skip(ctx context.Context, cycle *Cycle, logger zerolog.Logger, reasons ...string) (*Cycle, error) {
	cycle.Skip(s.clk.Now(), reasons...)
	logger.Info().Strs("reasons", reasons).Msg("cycle skipped")

	if err := s.notifier.SendRiskBlock(ctx, reasons); err != nil {
		logger.Warn().Err(err).Msg("skip notification failed")
	}
	if err := s.store.SaveRiskEvent(ctx, &store.RiskEvent{
		Timestamp: s.clk.Now(),
		Kind:      "blocked_entry",
		Detail:    strings.Join(reasons, "; "),
	}); err != nil {
		logger.Error().Err(err).Msg("failed to persist risk event")
	}
	s.persistCycle(ctx, cycle, logger)
	return cycle, nil
}

// fail closes the cycle in the error state.
func (s *Scheduler) fail(ctx context.Context, cycle *Cycle, logger zerolog.Logger, err error) (*Cycle, error) {
	cycle.Fail(s.clk.Now(), err)
	logger.Error().Err(err).Msg("cycle failed")

	if nerr := s.notifier.SendError(ctx, err, "day cycle"); nerr != nil {
		logger.Warn().Err(nerr).Msg("error notification failed")
	}
	s.persistCycle(ctx, cycle, logger)
	return cycle, err
}

func (s *Scheduler) transition(cycle *Cycle, to CycleState, logger zerolog.Logger) {
	from := cycle.State
	if err := cycle.Transition(to); err != nil {
		logger.Error().Err(err).Msg("state machine violation")
		return
	}
	logging.LogStateChange(logger, string(from), string(to))
}

// recordRiskState persists breaker trips and emergency stops after a close.
func (s *Scheduler) recordRiskState(ctx context.Context, logger zerolog.Logger) {
	snap := s.guard.Metrics(0)
	if snap.EmergencyStopped {
		if err := s.store.SaveRiskEvent(ctx, &store.RiskEvent{
			Timestamp: s.clk.Now(),
			Kind:      "emergency_stop",
			Detail:    fmt.Sprintf("capital %.2f of initial %.2f", snap.CurrentCapital, snap.InitialCapital),
		}); err != nil {
			logger.Error().Err(err).Msg("failed to persist risk event")
		}
		return
	}
	if snap.Blocked {
		if err := s.store.SaveRiskEvent(ctx, &store.RiskEvent{
			Timestamp: s.clk.Now(),
			Kind:      "breaker",
			Detail:    snap.BlockReason,
		}); err != nil {
			logger.Error().Err(err).Msg("failed to persist risk event")
		}
	}
}

func (s *Scheduler) persistCycle(ctx context.Context, cycle *Cycle, logger zerolog.Logger) {
	record := &store.CycleRecord{
		ID:            cycle.ID,
		Date:          cycle.Date,
		State:         string(cycle.State),
		EntryJitterMs: cycle.EntryJitter.Milliseconds(),
		SkipReasons:   strings.Join(cycle.SkipReasons, "; "),
		StartedAt:     cycle.StartedAt,
		FinishedAt:    cycle.FinishedAt,
	}
	if cycle.Signal != nil {
		record.Underlying = cycle.Signal.Underlying
		record.OptionSymbol = cycle.Signal.OptionSymbol
		record.ChangePercent = cycle.Signal.ChangePercent
		record.PCR = cycle.Signal.PCR
	}
	if cycle.Intent != nil {
		record.Quantity = cycle.Intent.Quantity
		record.Notional = cycle.Intent.Notional
	}
	if cycle.Err != nil {
		record.Error = cycle.Err.Error()
	}
	if err := s.store.SaveCycle(ctx, record); err != nil {
		logger.Error().Err(err).Msg("failed to persist cycle")
	}
}

// positionFromFill opens the position record for a filled entry order.
func positionFromFill(intent *models.OrderIntent, order *models.Order, at time.Time) *models.Position {
	return &models.Position{
		Symbol:       intent.Symbol,
		Exchange:     intent.Exchange,
		Product:      intent.Product,
		Quantity:     order.FilledQty,
		LotSize:      intent.LotSize,
		EntryPrice:   order.AveragePrice,
		EntryTime:    at,
		EntryOrderID: order.ID,
		CurrentPrice: order.AveragePrice,
		HighestPrice: order.AveragePrice,
		Status:       models.PositionOpen,
	}
}

// liquidityScore maps traded volume to a 0..1 score. Contracts trading under
// a few thousand units are treated as illiquid.
func liquidityScore(volume int64) float64 {
	if volume <= 0 {
		return 0
	}
	score := float64(volume) / 25000.0
	if score > 1 {
		score = 1
	}
	return score
}
