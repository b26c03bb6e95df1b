package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# nine15-trader Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Trading capital in INR
capital = 100000.0
# Profit target percentage
profit_target_percent = 8.0
# Initial stop-loss percentage
stop_loss_percent = 30.0
# Acceptable put-call ratio band
pcr_min = 0.7
pcr_max = 1.5
# Abort the cycle when PCR is out of band (lenient logs and proceeds)
strict_pcr_check = false
# Use the ratcheting trailing stop instead of a fixed target-only exit
trailing_enabled = true
# Product type for entries: MIS, NRML
default_product = "MIS"
# Exchange for option contracts
default_exchange = "NFO"
# Scan the top N liquid underlyings
universe_size = 10

[risk]
# Daily loss limit as percentage of initial capital
max_daily_loss_percent = 2.0
# Maximum notional per position as percentage of capital
max_position_percent = 5.0
# Maximum trades per day
max_daily_trades = 3
# Maximum concurrent open positions
max_open_positions = 1
# Stop after N consecutive losing trades
consecutive_loss_limit = 3
# Maximum lots per trade
max_lots_per_trade = 2
# Skip trading when VIX is above this level
max_vix_threshold = 25.0
# Skip trading when the liquidity score is below this level
min_liquidity_score = 0.7
# Block trading when capital falls below this percentage of initial
capital_floor_percent = 80.0
# Emergency stop when capital falls below this percentage of initial
emergency_floor_percent = 70.0
# Minimum seconds between consecutive entries
min_trade_spacing_seconds = 60
# Block window after the consecutive-loss breaker trips (minutes)
loss_cooldown_minutes = 120
# Bounded historical trade window used for Kelly sizing
history_window = 1000
# Fall back to a fixed 2% fraction below this many historical trades
min_trades_for_kelly = 10
# Trailing stop step table as flat profit/stop pairs; empty uses the built-in
# table (8->5, 12->9, ... each step locks roughly 80% of the profit reached)
trailing_steps = []

[timing]
# Day-cycle clock times (IST)
scan_time = "09:14:00"
prepare_time = "09:14:50"
execute_time = "09:15:00"
force_exit_time = "15:15:00"
# Clock correction
ntp_server = "time.google.com"
ntp_sync_minutes = 60
# Position monitor cadence
monitor_poll_seconds = 1
# Degraded exit after this many consecutive quote failures
quote_failure_limit = 5
# Send a position update notification every N seconds
position_update_every = 30

[notifications]
enabled = false
# Notification level: all, trades_only, errors_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[notifications.email]
enabled = false
smtp_host = ""
smtp_port = 587
username = ""
password = ""
from = ""
to = ""
`

const credentialsTemplate = `# nine15-trader Credentials
# Keep this file private (chmod 600).

[zerodha]
api_key = ""
api_secret = ""
user_id = ""
# Optional, for auto-login with 2FA
password = ""
totp_secret = ""
`

// createTemplateConfig writes a template config.toml to the config directory.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

// createTemplateCredentials writes a template credentials.toml with
// restrictive permissions.
func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
