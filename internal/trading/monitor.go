package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nine15-trader/internal/broker"
	"nine15-trader/internal/clock"
	"nine15-trader/internal/config"
	apperrors "nine15-trader/internal/errors"
	"nine15-trader/internal/models"
	"nine15-trader/internal/notify"
	"nine15-trader/internal/risk"
	"nine15-trader/pkg/utils"
)

// Monitor polls the open position and closes it when an exit condition fires.
// It owns the position exclusively between entry fill and exit.
type Monitor struct {
	broker   broker.Broker
	guard    *risk.Guard
	clk      clock.Clock
	notifier notify.Notifier
	logger   zerolog.Logger

	trading config.TradingConfig
	timing  config.TimingConfig
}

// NewMonitor builds a position monitor.
func NewMonitor(b broker.Broker, guard *risk.Guard, clk clock.Clock, notifier notify.Notifier, cfg *config.Config, logger zerolog.Logger) *Monitor {
	return &Monitor{
		broker:   b,
		guard:    guard,
		clk:      clk,
		notifier: notifier,
		logger:   logger.With().Str("component", "monitor").Logger(),
		trading:  cfg.Trading,
		timing:   cfg.Timing,
	}
}

// Watch polls the position until an exit condition fires, then submits the
// exit order and returns the closed position. Exit checks run in priority
// order: cancellation, emergency stop, forced square-off time, degraded
// quotes, profit target (only when trailing is off), then the stop. When
// trailing is enabled there is no fixed target: reaching it just locks in
// profit through the ratchet.
func (m *Monitor) Watch(ctx context.Context, pos *models.Position) (*models.Position, error) {
	poll := time.Duration(m.timing.MonitorPollSeconds) * time.Second
	if poll <= 0 {
		poll = time.Second
	}
	notifyEvery := time.Duration(m.timing.PositionUpdateEvery) * time.Second

	forceExit, err := utils.AtClockTime(m.clk.Now(), m.timing.ForceExitTime)
	if err != nil {
		return nil, apperrors.Wrap(err, "parsing force exit time")
	}

	quoteSymbol := fmt.Sprintf("%s:%s", pos.Exchange, pos.Symbol)
	quoteFailures := 0
	lastNotify := m.clk.Now()

	m.logger.Info().
		Str("symbol", pos.Symbol).
		Float64("entry", pos.EntryPrice).
		Float64("target", pos.TargetPrice).
		Float64("stop", pos.StopPrice).
		Time("force_exit", forceExit).
		Msg("monitoring position")

	for {
		if ctx.Err() != nil {
			return m.exit(pos, pos.CurrentPrice, models.ExitReasonManual)
		}
		if m.guard.EmergencyStopped() {
			return m.exit(pos, pos.CurrentPrice, models.ExitReasonEmergency)
		}

		now := m.clk.Now()
		if !now.Before(forceExit) {
			return m.exit(pos, pos.CurrentPrice, models.ExitReasonTimeExit)
		}

		quote, err := m.broker.Quote(ctx, quoteSymbol)
		if err != nil {
			quoteFailures++
			m.logger.Warn().Err(err).
				Int("failures", quoteFailures).
				Int("limit", m.timing.QuoteFailureLimit).
				Msg("quote failed")
			if quoteFailures >= m.timing.QuoteFailureLimit {
				pos.Degraded = true
				return m.exit(pos, pos.CurrentPrice, models.ExitReasonDegraded)
			}
			if _, err := m.clk.WaitUntil(ctx, now.Add(poll)); err != nil {
				return m.exit(pos, pos.CurrentPrice, models.ExitReasonManual)
			}
			continue
		}
		quoteFailures = 0

		pos.CurrentPrice = quote.LTP
		if quote.LTP > pos.HighestPrice {
			pos.HighestPrice = quote.LTP
		}

		if m.trading.TrailingEnabled {
			newStop, stopPct := m.guard.TrailingStop(pos.EntryPrice, pos.PnLPercent(pos.HighestPrice))
			if newStop > pos.StopPrice {
				m.logger.Info().
					Float64("old_stop", pos.StopPrice).
					Float64("new_stop", newStop).
					Float64("high", pos.HighestPrice).
					Msg("stop raised")
				pos.StopPrice = newStop
				pos.StopPercent = stopPct
			}
		}

		// With trailing on, a target touch only feeds the ratchet above; the
		// trade runs until the raised stop ends it.
		if !m.trading.TrailingEnabled && quote.LTP >= pos.TargetPrice {
			return m.exit(pos, quote.LTP, models.ExitReasonTarget)
		}
		if quote.LTP <= pos.StopPrice {
			reason := models.ExitReasonStopLoss
			if pos.StopPercent > -m.trading.StopLossPercent {
				reason = models.ExitReasonTrailingStop
			}
			return m.exit(pos, quote.LTP, reason)
		}

		if notifyEvery > 0 && now.Sub(lastNotify) >= notifyEvery {
			lastNotify = now
			m.sendUpdate(ctx, pos)
		}

		if _, err := m.clk.WaitUntil(ctx, now.Add(poll)); err != nil {
			return m.exit(pos, pos.CurrentPrice, models.ExitReasonManual)
		}
	}
}

// exit closes the broker position with a market sell and marks the record
// closed. A fresh context is used so a cancelled monitoring context cannot
// strand an open position.
func (m *Monitor) exit(pos *models.Position, refPrice float64, reason models.ExitReason) (*models.Position, error) {
	exitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := utils.RetryWithResult(exitCtx, utils.DefaultRetryConfig(), func() (*broker.OrderResult, error) {
		return m.broker.ClosePosition(exitCtx, pos.Symbol, pos.Quantity)
	})
	if err != nil {
		// Close the record with the reference price so the cycle can finish;
		// the stranded order needs manual intervention.
		pos.Close(refPrice, m.clk.Now(), reason)
		m.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("exit order failed")
		return pos, apperrors.Wrap(err, "submitting exit order")
	}
	if result.Rejected() {
		pos.Close(refPrice, m.clk.Now(), reason)
		m.logger.Error().Str("reason", result.Message).Msg("exit order rejected")
		return pos, apperrors.NewOrderError(result.OrderID, pos.Symbol, "exit", result.Message, apperrors.ErrInvalidOrder)
	}

	exitPrice := result.FilledAt
	if exitPrice <= 0 {
		exitPrice = refPrice
	}
	pos.ExitOrderID = result.OrderID
	pos.Close(exitPrice, m.clk.Now(), reason)

	m.logger.Info().
		Str("symbol", pos.Symbol).
		Str("reason", string(reason)).
		Float64("exit_price", exitPrice).
		Float64("pnl", pos.PnL(exitPrice)).
		Bool("degraded", pos.Degraded).
		Msg("position closed")
	return pos, nil
}

func (m *Monitor) sendUpdate(ctx context.Context, pos *models.Position) {
	if m.notifier == nil {
		return
	}
	pnl := pos.PnL(pos.CurrentPrice)
	n := notify.Notification{
		Type:  notify.NotificationInfo,
		Title: fmt.Sprintf("Position update: %s", pos.Symbol),
		Message: fmt.Sprintf("LTP %.2f | P&L %.2f (%.2f%%) | High %.2f | Stop %.2f",
			pos.CurrentPrice, pnl, pos.PnLPercent(pos.CurrentPrice), pos.HighestPrice, pos.StopPrice),
		Timestamp: m.clk.Now(),
	}
	if err := m.notifier.Send(ctx, n); err != nil {
		m.logger.Warn().Err(err).Msg("position update notification failed")
	}
}
