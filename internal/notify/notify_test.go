package notify

import (
	"context"
	"testing"

	"nine15-trader/internal/config"
	"nine15-trader/internal/models"
)

type captureChannel struct {
	sent []Notification
}

func (c *captureChannel) Name() string    { return "capture" }
func (c *captureChannel) IsEnabled() bool { return true }
func (c *captureChannel) Send(ctx context.Context, n Notification) error {
	c.sent = append(c.sent, n)
	return nil
}

func TestFormatIndianNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"500", "500"},
		{"1500", "1,500"},
		{"100000", "1,00,000"},
		{"12345678", "1,23,45,678"},
	}
	for _, tt := range tests {
		if got := formatIndianNumber(tt.in); got != tt.want {
			t.Errorf("formatIndianNumber(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLevelFilterTradesOnly(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{Level: "trades_only"})
	ch := &captureChannel{}
	mn.AddChannel(ch)

	trade := &models.Trade{Symbol: "NIFTY2630224500CE", PnL: 500, Quantity: 50}
	if err := mn.SendTrade(context.Background(), trade); err != nil {
		t.Fatalf("SendTrade: %v", err)
	}
	if err := mn.SendRiskBlock(context.Background(), []string{"VIX above threshold"}); err != nil {
		t.Fatalf("SendRiskBlock: %v", err)
	}

	if len(ch.sent) != 1 {
		t.Fatalf("trades_only should pass only the trade, got %d notifications", len(ch.sent))
	}
	if ch.sent[0].Type != NotificationTrade {
		t.Errorf("expected trade notification, got %s", ch.sent[0].Type)
	}
}

func TestDegradedExitFlaggedInMessage(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{Level: "all"})
	ch := &captureChannel{}
	mn.AddChannel(ch)

	trade := &models.Trade{
		Symbol:     "NIFTY2630224500CE",
		PnL:        -200,
		ExitReason: models.ExitReasonDegraded,
		Degraded:   true,
	}
	if err := mn.SendTrade(context.Background(), trade); err != nil {
		t.Fatalf("SendTrade: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatal("expected one notification")
	}
	if ch.sent[0].Data["degraded"] != true {
		t.Error("degraded flag missing from notification data")
	}
}
