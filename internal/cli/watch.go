package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"nine15-trader/internal/broker"
	apperrors "nine15-trader/internal/errors"
	"nine15-trader/internal/models"
	"nine15-trader/pkg/utils"
)

// addWatchCommand adds the live tick stream command.
func addWatchCommand(rootCmd *cobra.Command, app *App) {
	var exchange string

	cmd := &cobra.Command{
		Use:   "watch <symbol>...",
		Short: "Stream live ticks",
		Long: `Subscribe to the Kite WebSocket and print ticks for the given trading
symbols until interrupted. Requires an authenticated live session.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Zerodha == nil || !app.Zerodha.IsAuthenticated() {
				output.Error("Live session required. Run 'nine15 auth login' first.")
				return apperrors.ErrNotAuthenticated
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ticker := broker.NewZerodhaTicker(broker.ZerodhaTickerConfig{
				APIKey:      app.Config.Credentials.Zerodha.APIKey,
				AccessToken: app.Zerodha.AccessToken(),
			})

			ex := models.Exchange(strings.ToUpper(exchange))
			for _, symbol := range args {
				token, err := app.Zerodha.InstrumentToken(ctx, symbol, ex)
				if err != nil {
					output.Error("Unknown symbol %s on %s: %v", symbol, ex, err)
					return err
				}
				ticker.RegisterSymbol(symbol, token)
			}

			ticker.OnTick(func(tick models.Tick) {
				ts := tick.Timestamp.In(utils.IndiaLocation).Format("15:04:05")
				line := fmt.Sprintf("%s  %-24s %10.2f  bid %.2f ask %.2f vol %d",
					ts, tick.Symbol, tick.LTP, tick.BidPrice, tick.AskPrice, tick.Volume)
				output.Println(line)
			})
			ticker.OnError(func(err error) {
				output.Warning("stream error: %v", err)
			})
			ticker.OnConnect(func() {
				output.Success("Connected. Streaming %d symbol(s), Ctrl-C to stop.", len(args))
			})

			if err := ticker.Connect(ctx); err != nil {
				output.Error("Connect failed: %v", err)
				return err
			}
			defer ticker.Disconnect()

			if err := ticker.Subscribe(args, broker.TickModeQuote); err != nil {
				output.Error("Subscribe failed: %v", err)
				return err
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&exchange, "exchange", "NFO", "exchange for the symbols (NSE, NFO)")
	rootCmd.AddCommand(cmd)
}
