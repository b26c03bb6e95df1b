// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all application configuration. It is read once at cycle start
// and treated as immutable for the rest of that cycle.
type Config struct {
	Trading       TradingConfig      `mapstructure:"trading"`
	Risk          RiskConfig         `mapstructure:"risk"`
	Timing        TimingConfig       `mapstructure:"timing"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds strategy configuration.
type TradingConfig struct {
	Mode                string  `mapstructure:"mode"` // "live", "paper"
	Capital             float64 `mapstructure:"capital"`
	ProfitTargetPercent float64 `mapstructure:"profit_target_percent"`
	StopLossPercent     float64 `mapstructure:"stop_loss_percent"` // initial stop, positive number
	PCRMin              float64 `mapstructure:"pcr_min"`
	PCRMax              float64 `mapstructure:"pcr_max"`
	StrictPCRCheck      bool    `mapstructure:"strict_pcr_check"`
	TrailingEnabled     bool    `mapstructure:"trailing_enabled"`
	DefaultProduct      string  `mapstructure:"default_product"`  // MIS, NRML
	DefaultExchange     string  `mapstructure:"default_exchange"` // NFO
	UniverseSize        int     `mapstructure:"universe_size"`    // scan the top N liquid names
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	MaxDailyLossPercent    float64   `mapstructure:"max_daily_loss_percent"`
	MaxPositionPercent     float64   `mapstructure:"max_position_percent"`
	MaxDailyTrades         int       `mapstructure:"max_daily_trades"`
	MaxOpenPositions       int       `mapstructure:"max_open_positions"`
	ConsecutiveLossLimit   int       `mapstructure:"consecutive_loss_limit"`
	MaxLotsPerTrade        int       `mapstructure:"max_lots_per_trade"`
	MaxVIXThreshold        float64   `mapstructure:"max_vix_threshold"`
	MinLiquidityScore      float64   `mapstructure:"min_liquidity_score"`
	CapitalFloorPercent    float64   `mapstructure:"capital_floor_percent"`    // block below this fraction of initial capital
	EmergencyFloorPercent  float64   `mapstructure:"emergency_floor_percent"`  // emergency stop below this fraction
	MinTradeSpacingSeconds int       `mapstructure:"min_trade_spacing_seconds"`
	LossCooldownMinutes    int       `mapstructure:"loss_cooldown_minutes"` // block window after consecutive-loss trip
	HistoryWindow          int       `mapstructure:"history_window"`        // bounded historical trade window
	MinTradesForKelly      int       `mapstructure:"min_trades_for_kelly"`
	TrailingSteps          []float64 `mapstructure:"trailing_steps"` // flat pairs: profit%, stop% ...
}

// TimingConfig holds the day-cycle clock times and precision-wait settings.
type TimingConfig struct {
	ScanTime            string `mapstructure:"scan_time"`    // "09:14:00"
	PrepareTime         string `mapstructure:"prepare_time"` // "09:14:50"
	ExecuteTime         string `mapstructure:"execute_time"` // "09:15:00"
	ForceExitTime       string `mapstructure:"force_exit_time"`
	NTPServer           string `mapstructure:"ntp_server"`
	NTPSyncMinutes      int    `mapstructure:"ntp_sync_minutes"`
	MonitorPollSeconds  int    `mapstructure:"monitor_poll_seconds"`
	QuoteFailureLimit   int    `mapstructure:"quote_failure_limit"`
	PositionUpdateEvery int    `mapstructure:"position_update_every"` // notify every N seconds while monitoring
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, trades_only, errors_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Zerodha API credentials.
type ZerodhaCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	UserID     string `mapstructure:"user_id"`
	Password   string `mapstructure:"password"`    // For auto-login
	TOTPSecret string `mapstructure:"totp_secret"` // For auto-login with 2FA
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/nine15-trader"
	}
	return filepath.Join(home, ".config", "nine15-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := createTemplateConfig(configDir); err != nil {
				return err
			}
			// Defaults carry the run; template is there for next time.
			return v.Unmarshal(target)
		}
		return err
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.capital", 100000.0)
	v.SetDefault("trading.profit_target_percent", 8.0)
	v.SetDefault("trading.stop_loss_percent", 30.0)
	v.SetDefault("trading.pcr_min", 0.7)
	v.SetDefault("trading.pcr_max", 1.5)
	v.SetDefault("trading.strict_pcr_check", false)
	v.SetDefault("trading.trailing_enabled", true)
	v.SetDefault("trading.default_product", "MIS")
	v.SetDefault("trading.default_exchange", "NFO")
	v.SetDefault("trading.universe_size", 10)

	v.SetDefault("risk.max_daily_loss_percent", 2.0)
	v.SetDefault("risk.max_position_percent", 5.0)
	v.SetDefault("risk.max_daily_trades", 3)
	v.SetDefault("risk.max_open_positions", 1)
	v.SetDefault("risk.consecutive_loss_limit", 3)
	v.SetDefault("risk.max_lots_per_trade", 2)
	v.SetDefault("risk.max_vix_threshold", 25.0)
	v.SetDefault("risk.min_liquidity_score", 0.7)
	v.SetDefault("risk.capital_floor_percent", 80.0)
	v.SetDefault("risk.emergency_floor_percent", 70.0)
	v.SetDefault("risk.min_trade_spacing_seconds", 60)
	v.SetDefault("risk.loss_cooldown_minutes", 120)
	v.SetDefault("risk.history_window", 1000)
	v.SetDefault("risk.min_trades_for_kelly", 10)

	v.SetDefault("timing.scan_time", "09:14:00")
	v.SetDefault("timing.prepare_time", "09:14:50")
	v.SetDefault("timing.execute_time", "09:15:00")
	v.SetDefault("timing.force_exit_time", "15:15:00")
	v.SetDefault("timing.ntp_server", "time.google.com")
	v.SetDefault("timing.ntp_sync_minutes", 60)
	v.SetDefault("timing.monitor_poll_seconds", 1)
	v.SetDefault("timing.quote_failure_limit", 5)
	v.SetDefault("timing.position_update_every", 30)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "all")
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("ZERODHA_USER_ID"); v != "" {
		cfg.Credentials.Zerodha.UserID = v
	}
	if v := os.Getenv("ZERODHA_TOTP_SECRET"); v != "" {
		cfg.Credentials.Zerodha.TOTPSecret = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}
	if c.Trading.Capital <= 0 {
		return fmt.Errorf("capital must be positive")
	}
	if c.Trading.PCRMax <= c.Trading.PCRMin {
		return fmt.Errorf("pcr_max must be greater than pcr_min")
	}
	if c.Trading.ProfitTargetPercent <= 0 || c.Trading.ProfitTargetPercent > 100 {
		return fmt.Errorf("profit_target_percent must be between 0 and 100")
	}
	if c.Trading.StopLossPercent <= 0 || c.Trading.StopLossPercent > 100 {
		return fmt.Errorf("stop_loss_percent must be between 0 and 100")
	}
	if c.Risk.MaxPositionPercent < 0 || c.Risk.MaxPositionPercent > 100 {
		return fmt.Errorf("max_position_percent must be between 0 and 100")
	}
	if c.Risk.MaxDailyTrades < 1 {
		return fmt.Errorf("max_daily_trades must be at least 1")
	}
	if c.Risk.MaxOpenPositions < 1 {
		return fmt.Errorf("max_open_positions must be at least 1")
	}
	if len(c.Risk.TrailingSteps)%2 != 0 {
		return fmt.Errorf("trailing_steps must be flat profit/stop pairs")
	}
	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}
