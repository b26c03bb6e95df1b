package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nine15-trader/internal/broker"
	"nine15-trader/internal/config"
	"nine15-trader/internal/logging"
	"nine15-trader/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Broker  broker.Broker
	Zerodha *broker.ZerodhaBroker
	Store   store.DataStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Credentials.Zerodha.APIKey != "" {
		app.Zerodha = broker.NewZerodhaBroker(broker.ZerodhaConfig{
			APIKey:    cfg.Credentials.Zerodha.APIKey,
			APISecret: cfg.Credentials.Zerodha.APISecret,
			UserID:    cfg.Credentials.Zerodha.UserID,
		})
		logger.Debug().Msg("Zerodha broker initialized")
	}

	if cfg.IsPaperMode() {
		var data broker.Broker
		if app.Zerodha != nil {
			data = app.Zerodha
		}
		app.Broker = broker.NewPaperBroker(broker.PaperBrokerConfig{
			DataBroker:     data,
			InitialBalance: cfg.Trading.Capital,
		})
		logger.Debug().Msg("paper broker initialized")
	} else if app.Zerodha != nil {
		app.Broker = app.Zerodha
	}

	dbPath := config.DefaultConfigDir() + "/trader.db"
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, journal features unavailable")
	} else {
		app.Store = dataStore
	}

	rootCmd := &cobra.Command{
		Use:   "nine15",
		Short: "9:15 intraday options execution engine",
		Long: `nine15 runs a single precisely-timed intraday options trade per day on the
Indian market: scan the top gainer just before open settles, pick the ATM call,
size it under strict risk limits, and fire the order at 09:15:00 sharp.

Use 'nine15 help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/nine15-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addRunCommand(rootCmd, app)
	addAuthCommands(rootCmd, app)
	addStatusCommand(rootCmd, app)
	addPositionsCommand(rootCmd, app)
	addWatchCommand(rootCmd, app)
	addJournalCommands(rootCmd, app)
	addVersionCommand(rootCmd)

	return rootCmd
}

func addVersionCommand(rootCmd *cobra.Command) {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
				return
			}
			output.Printf("nine15 %s\n", Version)
		},
	})
}
