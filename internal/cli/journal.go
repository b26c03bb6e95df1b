package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apperrors "nine15-trader/internal/errors"
	"nine15-trader/internal/store"
	"nine15-trader/pkg/utils"
)

// addJournalCommands adds trade journal commands.
func addJournalCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Trade journal",
		Long:  "Review and export the trade journal and day cycle history.",
	}

	cmd.AddCommand(newJournalListCmd(app))
	cmd.AddCommand(newJournalTodayCmd(app))
	cmd.AddCommand(newJournalCyclesCmd(app))
	cmd.AddCommand(newJournalExportCmd(app))

	rootCmd.AddCommand(cmd)
}

func newJournalListCmd(app *App) *cobra.Command {
	var limit int
	var symbol string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				output.Warning("Store not initialized. No trade data available.")
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			trades, err := app.Store.GetTrades(ctx, store.TradeFilter{Symbol: symbol, Limit: limit})
			if err != nil {
				output.Error("Failed to fetch trades: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Info("No trades recorded.")
				return nil
			}

			table := NewTable(output, "Date", "Symbol", "Qty", "Entry", "Exit", "P&L", "Reason", "Mode")
			for _, t := range trades {
				mode := "LIVE"
				if t.IsPaper {
					mode = "PAPER"
				}
				table.AddRow(
					t.EntryTime.In(utils.IndiaLocation).Format("2006-01-02"),
					t.Symbol,
					strconv.Itoa(t.Quantity),
					fmt.Sprintf("%.2f", t.EntryPrice),
					fmt.Sprintf("%.2f", t.ExitPrice),
					output.FormatPnL(t.PnL),
					string(t.ExitReason),
					mode,
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum trades to show")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by trading symbol")
	return cmd
}

func newJournalTodayCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Show today's summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				output.Warning("Store not initialized. No trade data available.")
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			today := time.Now().In(utils.IndiaLocation)
			summary, err := app.Store.DailySummary(ctx, today)
			if err != nil {
				output.Error("Failed to build summary: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(summary)
			}

			output.Bold("Trading Journal - %s", summary.Date)
			output.Println()
			if summary.TotalTrades == 0 {
				output.Info("No trades recorded today.")
				return nil
			}
			output.Printf("  Trades:   %d (%d W / %d L, %.0f%% win rate)\n",
				summary.TotalTrades, summary.WinningTrades, summary.LosingTrades, summary.WinRate)
			output.Printf("  Net P&L:  %s\n", output.FormatPnL(summary.TotalPnL))
			output.Printf("  Best:     %s  Worst: %s\n",
				output.FormatPnL(summary.BestPnL), output.FormatPnL(summary.WorstPnL))
			for reason, count := range summary.ExitReasons {
				output.Dim("  exit %s: %d", reason, count)
			}
			return nil
		},
	}
}

func newJournalCyclesCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Show day cycle history",
		Long:  "List recent day cycles, including skipped days and their reasons.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				output.Warning("Store not initialized. No cycle data available.")
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			cycles, err := app.Store.GetCycles(ctx, limit)
			if err != nil {
				output.Error("Failed to fetch cycles: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(cycles)
			}
			if len(cycles) == 0 {
				output.Info("No cycles recorded.")
				return nil
			}

			table := NewTable(output, "Date", "State", "Symbol", "Qty", "Jitter", "Notes")
			for _, c := range cycles {
				notes := c.SkipReasons
				if c.Error != "" {
					notes = c.Error
				}
				symbol := c.OptionSymbol
				if symbol == "" {
					symbol = "-"
				}
				table.AddRow(
					c.Date,
					c.State,
					symbol,
					strconv.Itoa(c.Quantity),
					fmt.Sprintf("%dms", c.EntryJitterMs),
					notes,
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum cycles to show")
	return cmd
}

func newJournalExportCmd(app *App) *cobra.Command {
	var outPath string
	var symbol string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export trades to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				output.Warning("Store not initialized. Nothing to export.")
				return apperrors.ErrConnectionFailed
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			trades, err := app.Store.GetTrades(ctx, store.TradeFilter{Symbol: symbol})
			if err != nil {
				output.Error("Failed to fetch trades: %v", err)
				return err
			}

			w := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					output.Error("Failed to create %s: %v", outPath, err)
					return err
				}
				defer f.Close()
				w = f
			}
			if err := store.ExportTradesCSV(w, trades); err != nil {
				output.Error("Export failed: %v", err)
				return err
			}
			if outPath != "" {
				output.Success("Exported %d trades to %s", len(trades), outPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: stdout)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by trading symbol")
	return cmd
}
