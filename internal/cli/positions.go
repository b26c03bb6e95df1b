package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apperrors "nine15-trader/internal/errors"
	"nine15-trader/pkg/utils"
)

// addPositionsCommand adds the open positions command.
func addPositionsCommand(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "positions",
		Short: "Show open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Broker == nil {
				output.Error("Broker not configured. Set api_key in the config file.")
				return apperrors.ErrNotAuthenticated
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			positions, err := app.Broker.OpenPositions(ctx)
			if err != nil {
				output.Error("Failed to fetch positions: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Info("No open positions.")
				return nil
			}

			table := NewTable(output, "Symbol", "Qty", "Entry", "LTP", "P&L", "P&L %")
			for _, p := range positions {
				table.AddRow(
					p.Symbol,
					strconv.Itoa(p.Quantity),
					fmt.Sprintf("%.2f", p.EntryPrice),
					fmt.Sprintf("%.2f", p.CurrentPrice),
					output.FormatPnL(p.PnL(p.CurrentPrice)),
					utils.FormatPercent(p.PnLPercent(p.CurrentPrice)),
				)
			}
			table.Render()
			return nil
		},
	})
}
