// Package notify provides notification delivery for cycle events. Delivery
// failures are reported but never fail the trading path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"nine15-trader/internal/config"
	"nine15-trader/internal/models"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendTrade(ctx context.Context, trade *models.Trade) error
	SendRiskBlock(ctx context.Context, reasons []string) error
	SendDailySummary(ctx context.Context, summary *DailySummary) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTrade   NotificationType = "trade"
	NotificationRisk    NotificationType = "risk"
	NotificationError   NotificationType = "error"
	NotificationSummary NotificationType = "summary"
	NotificationInfo    NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelTradesOnly NotificationLevel = "trades_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

// DailySummary represents an end-of-day trading summary.
type DailySummary struct {
	Date          string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	WinRate       float64
	ExitReasons   map[string]int
}

// MultiNotifier fans out notifications to the enabled channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier from the notification config.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
	}
	if mn.level == "" {
		mn.level = LevelAll
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}
	if cfg.Email.Enabled {
		mn.channels = append(mn.channels, NewEmailNotifier(cfg.Email))
	}
	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelTradesOnly:
		return notifType == NotificationTrade
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send delivers a notification to all enabled channels. Failures from
// individual channels are aggregated, never fatal.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendTrade sends a closed-trade notification.
func (mn *MultiNotifier) SendTrade(ctx context.Context, trade *models.Trade) error {
	pnlSign := "+"
	if trade.PnL < 0 {
		pnlSign = ""
	}

	mode := "LIVE"
	if trade.IsPaper {
		mode = "PAPER"
	}

	title := fmt.Sprintf("🔔 Trade Closed [%s]: %s", mode, trade.Symbol)
	message := fmt.Sprintf(
		"Symbol: %s\nQuantity: %d\nEntry: %s\nExit: %s\nP&L: %s%s (%.2f%%)\nExit Reason: %s\nHeld: %s",
		trade.Symbol,
		trade.Quantity,
		formatCurrency(trade.EntryPrice),
		formatCurrency(trade.ExitPrice),
		pnlSign,
		formatCurrency(trade.PnL),
		trade.PnLPercent,
		trade.ExitReason,
		trade.HoldDuration.Round(time.Second),
	)
	if trade.Degraded {
		message += "\n⚠️ Exit used last known price after sustained quote failures"
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationTrade,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"symbol":      trade.Symbol,
			"quantity":    trade.Quantity,
			"entry_price": trade.EntryPrice,
			"exit_price":  trade.ExitPrice,
			"pnl":         trade.PnL,
			"pnl_percent": trade.PnLPercent,
			"exit_reason": string(trade.ExitReason),
			"degraded":    trade.Degraded,
		},
	})
}

// SendRiskBlock reports a pre-trade gate block with every violated rule.
func (mn *MultiNotifier) SendRiskBlock(ctx context.Context, reasons []string) error {
	var sb strings.Builder
	for _, r := range reasons {
		sb.WriteString("• ")
		sb.WriteString(r)
		sb.WriteString("\n")
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationRisk,
		Title:   "🛑 Entry Blocked by Risk Checks",
		Message: sb.String(),
		Data:    map[string]interface{}{"reasons": reasons},
	})
}

// SendDailySummary sends the end-of-day summary.
func (mn *MultiNotifier) SendDailySummary(ctx context.Context, summary *DailySummary) error {
	pnlEmoji := "📊"
	if summary.TotalPnL > 0 {
		pnlEmoji = "💰"
	} else if summary.TotalPnL < 0 {
		pnlEmoji = "📉"
	}

	title := fmt.Sprintf("%s Daily Summary - %s", pnlEmoji, summary.Date)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total Trades: %d\n", summary.TotalTrades))
	sb.WriteString(fmt.Sprintf("Winning: %d | Losing: %d\n", summary.WinningTrades, summary.LosingTrades))
	sb.WriteString(fmt.Sprintf("Win Rate: %.1f%%\n", summary.WinRate))
	sb.WriteString(fmt.Sprintf("Total P&L: %s\n", formatCurrency(summary.TotalPnL)))
	for reason, count := range summary.ExitReasons {
		sb.WriteString(fmt.Sprintf("  %s: %d\n", reason, count))
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationSummary,
		Title:   title,
		Message: sb.String(),
		Data: map[string]interface{}{
			"date":         summary.Date,
			"total_trades": summary.TotalTrades,
			"total_pnl":    summary.TotalPnL,
			"win_rate":     summary.WinRate,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	title := "❌ Error Occurred"
	message := fmt.Sprintf("Context: %s\nError: %v\nTime: %s",
		errContext, err, time.Now().Format("15:04:05"))

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// formatCurrency formats a rupee value with Indian digit grouping.
func formatCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")
	result := "₹" + formatIndianNumber(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// formatIndianNumber groups digits as 3 then 2s (1,00,000 style).
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel name.
func (w *WebhookNotifier) Name() string { return "webhook" }

// IsEnabled returns whether the channel is enabled.
func (w *WebhookNotifier) IsEnabled() bool { return w.enabled }

// Send posts the notification as JSON.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Nine15Trader/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel name.
func (t *TelegramNotifier) Name() string { return "telegram" }

// IsEnabled returns whether the channel is enabled.
func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

// Send sends the notification through the Telegram bot API.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

var _ Notifier = (*MultiNotifier)(nil)
