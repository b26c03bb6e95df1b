// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "nine15-trader", "logs", "trader.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithOrderID adds an order ID to the logger context.
func WithOrderID(logger zerolog.Logger, orderID string) zerolog.Logger {
	return logger.With().Str("order_id", orderID).Logger()
}

// WithCycle adds a cycle date to the logger context.
func WithCycle(logger zerolog.Logger, date string) zerolog.Logger {
	return logger.With().Str("cycle", date).Logger()
}

// LogTrade logs a completed trade.
func LogTrade(logger zerolog.Logger, symbol string, qty int, entry, exit, pnl float64, reason string) {
	logger.Info().
		Str("event", "trade").
		Str("symbol", symbol).
		Int("quantity", qty).
		Float64("entry", entry).
		Float64("exit", exit).
		Float64("pnl", pnl).
		Str("exit_reason", reason).
		Msg("Trade closed")
}

// LogOrder logs an order event.
func LogOrder(logger zerolog.Logger, orderID, symbol, side, status string) {
	logger.Info().
		Str("event", "order").
		Str("order_id", orderID).
		Str("symbol", symbol).
		Str("side", side).
		Str("status", status).
		Msg("Order update")
}

// LogJitter logs the measured difference between a target instant and the
// actual firing instant. Severity depends on the delay: under 50ms is routine,
// under 500ms is notable, anything beyond is a timing anomaly.
func LogJitter(logger zerolog.Logger, phase string, target, actual time.Time) {
	delayMs := float64(actual.Sub(target).Microseconds()) / 1000
	event := logger.Info()
	if delayMs >= 500 {
		event = logger.Error()
	} else if delayMs >= 50 {
		event = logger.Warn()
	}
	event.
		Str("event", "jitter").
		Str("phase", phase).
		Time("target", target).
		Time("actual", actual).
		Float64("delay_ms", delayMs).
		Msg("Phase fired")
}

// LogStateChange logs a scheduler state transition.
func LogStateChange(logger zerolog.Logger, from, to string) {
	logger.Info().
		Str("event", "state").
		Str("from", from).
		Str("to", to).
		Msg("Cycle state change")
}

// LogRiskBlock logs a blocked pre-trade check with all violated reasons.
func LogRiskBlock(logger zerolog.Logger, symbol string, reasons []string) {
	logger.Warn().
		Str("event", "risk_block").
		Str("symbol", symbol).
		Strs("reasons", reasons).
		Msg("Trade blocked by risk checks")
}
