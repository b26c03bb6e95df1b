package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nine15-trader/internal/clock"
	apperrors "nine15-trader/internal/errors"
	"nine15-trader/internal/notify"
	"nine15-trader/internal/risk"
	"nine15-trader/internal/scan"
	"nine15-trader/internal/trading"
	"nine15-trader/pkg/utils"
)

// addRunCommand adds the engine's main entry point.
func addRunCommand(rootCmd *cobra.Command, app *App) {
	var loop bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the day cycle",
		Long: `Run one complete trading day cycle: wait for the scan window, select a
contract, gate it through risk checks, execute at 09:15:00, and monitor the
position until exit. With --loop the engine keeps running, one cycle per
trading day.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Broker == nil {
				output.Error("No broker configured. Set credentials or use paper mode.")
				return apperrors.ErrNotAuthenticated
			}
			if app.Store == nil {
				output.Error("Store unavailable; refusing to trade without a journal.")
				return apperrors.ErrConnectionFailed
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !app.Broker.IsPaper() {
				if err := app.Broker.Login(ctx); err != nil {
					output.Error("Login failed: %v", err)
					output.Dim("Run 'nine15 auth login' first.")
					return err
				}
			}

			cfg := app.Config
			clockOpts := []clock.Option{clock.WithNTPServer(cfg.Timing.NTPServer)}
			if cfg.Timing.NTPSyncMinutes > 0 {
				clockOpts = append(clockOpts, clock.WithSyncInterval(time.Duration(cfg.Timing.NTPSyncMinutes)*time.Minute))
			}
			clk := clock.New(app.Logger, clockOpts...)
			guard := risk.NewGuard(cfg, app.Logger, utils.IndiaLocation)
			scanner := scan.NewGainerScanner(app.Broker, cfg, app.Logger)
			notifier := notify.NewMultiNotifier(&cfg.Notifications)
			monitor := trading.NewMonitor(app.Broker, guard, clk, notifier, cfg, app.Logger)
			scheduler := trading.NewScheduler(trading.SchedulerDeps{
				Config:   cfg,
				Clock:    clk,
				Broker:   app.Broker,
				Guard:    guard,
				Scanner:  scanner,
				Monitor:  monitor,
				Notifier: notifier,
				Store:    app.Store,
				Logger:   app.Logger,
				Location: utils.IndiaLocation,
			})

			for {
				cycle, err := scheduler.Run(ctx)
				reportCycle(output, cycle, err)

				if !loop || ctx.Err() != nil {
					return err
				}

				guard.ResetDay()
				next := nextScanInstant(clk.Now(), cfg.Timing.ScanTime)
				output.Dim("Next cycle at %s", next.Format("2006-01-02 15:04:05 MST"))
				if _, werr := clk.WaitUntil(ctx, next); werr != nil {
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "keep running, one cycle per trading day")
	rootCmd.AddCommand(cmd)
}

// nextScanInstant finds the next trading day's scan time after now.
func nextScanInstant(now time.Time, scanTime string) time.Time {
	day := now.In(utils.IndiaLocation).AddDate(0, 0, 1)
	for !utils.IsTradingDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	at, err := utils.AtClockTime(day, scanTime)
	if err != nil {
		return day
	}
	return at
}

func reportCycle(output *Output, cycle *trading.Cycle, err error) {
	if cycle == nil {
		output.Error("Cycle failed: %v", err)
		return
	}
	if output.IsJSON() {
		output.JSON(cycle)
		return
	}

	switch {
	case cycle.Err != nil:
		output.Error("Cycle %s ended in error: %v", cycle.Date, cycle.Err)
	case cycle.Skipped:
		output.Warning("Cycle %s skipped:", cycle.Date)
		for _, r := range cycle.SkipReasons {
			output.Printf("  - %s\n", r)
		}
	case cycle.Trade != nil:
		t := cycle.Trade
		output.Success("Cycle %s complete: %s", cycle.Date, t.Symbol)
		output.Printf("  Entry %.2f -> Exit %.2f (%s)\n", t.EntryPrice, t.ExitPrice, t.ExitReason)
		output.Printf("  P&L %s (%s) over %s\n",
			output.FormatPnL(t.PnL), output.FormatPercent(t.PnLPercent), t.HoldDuration.Round(time.Second))
		if t.Degraded {
			output.Warning("  Exit used last known price after sustained quote failures.")
		}
	default:
		output.Info("Cycle %s closed without a trade.", cycle.Date)
	}
}
