package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"nine15-trader/internal/models"
	"nine15-trader/pkg/utils"
)

// addStatusCommand adds the engine status command.
func addStatusCommand(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show market and engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			now := time.Now().In(utils.IndiaLocation)
			market := utils.MarketStatusAt(now)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"time":   now.Format(time.RFC3339),
					"market": market,
					"mode":   app.Config.Trading.Mode,
				})
			}

			output.Bold("nine15 status")
			output.Println()
			output.Printf("  Time (IST):  %s\n", now.Format("2006-01-02 15:04:05"))
			switch market {
			case models.MarketOpen:
				output.Success("  Market:      OPEN")
			case models.MarketPreOpen:
				output.Warning("  Market:      PRE-OPEN")
			case models.MarketMISSquareOffWarn:
				output.Warning("  Market:      OPEN (MIS square-off window)")
			default:
				output.Dim("  Market:      CLOSED")
			}
			output.Printf("  Mode:        %s\n", app.Config.Trading.Mode)
			output.Printf("  Execute at:  %s IST\n", app.Config.Timing.ExecuteTime)
			output.Printf("  Force exit:  %s IST\n", app.Config.Timing.ForceExitTime)

			if app.Zerodha != nil {
				if app.Zerodha.IsAuthenticated() {
					output.Success("  Session:     active")
				} else {
					output.Warning("  Session:     not authenticated")
				}
			} else {
				output.Dim("  Session:     no credentials configured")
			}

			if app.Store != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if summary, err := app.Store.DailySummary(ctx, now); err == nil && summary.TotalTrades > 0 {
					output.Println()
					output.Printf("  Today:       %d trade(s), net %s\n",
						summary.TotalTrades, output.FormatPnL(summary.TotalPnL))
				}
			}
			return nil
		},
	})
}
