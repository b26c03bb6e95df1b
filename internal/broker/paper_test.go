package broker

import (
	"context"
	"strings"
	"testing"

	"nine15-trader/internal/models"
)

func newTestPaperBroker(balance float64) *PaperBroker {
	return NewPaperBroker(PaperBrokerConfig{InitialBalance: balance, Seed: 42})
}

func marketBuy(symbol string, qty int) *models.OrderIntent {
	return &models.OrderIntent{
		Symbol:   symbol,
		Exchange: models.NFO,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeMarket,
		Product:  models.ProductMIS,
		Quantity: qty,
	}
}

func TestPaperMarketBuySlippageBounds(t *testing.T) {
	p := newTestPaperBroker(1000000)
	p.UpdatePrice("NIFTY2630224500CE", 100.0)

	for i := 0; i < 50; i++ {
		result, err := p.SubmitOrder(context.Background(), marketBuy("NIFTY2630224500CE", 50))
		if err != nil {
			t.Fatalf("SubmitOrder: %v", err)
		}
		if result.Status != models.OrderStatusComplete {
			t.Fatalf("expected fill, got %s: %s", result.Status, result.Message)
		}
		slip := (result.FilledAt - 100.0) / 100.0
		if slip < slippageMin || slip > slippageMax {
			t.Errorf("buy slippage %.5f outside [%.3f, %.3f]", slip, slippageMin, slippageMax)
		}
	}
}

func TestPaperMarketSellSlippageAdverse(t *testing.T) {
	p := newTestPaperBroker(1000000)
	p.UpdatePrice("NIFTY2630224500CE", 100.0)

	intent := marketBuy("NIFTY2630224500CE", 50)
	intent.Side = models.OrderSideSell
	result, err := p.SubmitOrder(context.Background(), intent)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.FilledAt >= 100.0 {
		t.Errorf("sell should fill below the quote, got %.2f", result.FilledAt)
	}
}

func TestPaperInsufficientFundsRejection(t *testing.T) {
	p := newTestPaperBroker(1000)
	p.UpdatePrice("NIFTY2630224500CE", 100.0)

	result, err := p.SubmitOrder(context.Background(), marketBuy("NIFTY2630224500CE", 50))
	if err != nil {
		t.Fatalf("rejection must be a result, not an error: %v", err)
	}
	if !result.Rejected() {
		t.Fatalf("expected rejection, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "insufficient funds") {
		t.Errorf("rejection message should carry the reason, got %q", result.Message)
	}

	// Rejection text survives in the order record.
	order, err := p.OrderStatus(context.Background(), result.OrderID)
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if order.StatusReason != result.Message {
		t.Errorf("StatusReason %q != rejection message %q", order.StatusReason, result.Message)
	}
}

func TestPaperLimitOrderRestsWhenUnmarketable(t *testing.T) {
	p := newTestPaperBroker(1000000)
	p.UpdatePrice("NIFTY2630224500CE", 100.0)

	intent := marketBuy("NIFTY2630224500CE", 50)
	intent.Type = models.OrderTypeLimit
	intent.LimitPrice = 95.0

	result, err := p.SubmitOrder(context.Background(), intent)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.Status != models.OrderStatusOpen {
		t.Fatalf("unmarketable limit should rest OPEN, got %s", result.Status)
	}

	if err := p.CancelOrder(context.Background(), result.OrderID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	order, _ := p.OrderStatus(context.Background(), result.OrderID)
	if order.Status != models.OrderStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", order.Status)
	}
}

func TestPaperOrderResolvesExchangeQualifiedQuotes(t *testing.T) {
	// Data feeds key quotes on "EXCHANGE:SYMBOL"; order intents carry the
	// bare symbol plus the exchange. Both must resolve to the same price.
	feed := newTestPaperBroker(100000)
	feed.UpdatePrice("NFO:NIFTY2630224500CE", 100.0)
	p := NewPaperBroker(PaperBrokerConfig{DataBroker: feed, InitialBalance: 1000000, Seed: 42})

	if _, err := p.Quote(context.Background(), "NFO:NIFTY2630224500CE"); err != nil {
		t.Fatalf("Quote: %v", err)
	}

	result, err := p.SubmitOrder(context.Background(), marketBuy("NIFTY2630224500CE", 50))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.Status != models.OrderStatusComplete {
		t.Fatalf("expected fill, got %s: %s", result.Status, result.Message)
	}
	if result.FilledAt < 100.0 {
		t.Errorf("buy fill %.2f should slip up from the 100 reference", result.FilledAt)
	}

	closed, err := p.ClosePosition(context.Background(), "NIFTY2630224500CE", 0)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if closed.Status != models.OrderStatusComplete {
		t.Fatalf("close should fill, got %s: %s", closed.Status, closed.Message)
	}
	positions, _ := p.OpenPositions(context.Background())
	if len(positions) != 0 {
		t.Errorf("position should be flat, got %d open", len(positions))
	}
}

func TestPaperPositionOpensOnFill(t *testing.T) {
	p := newTestPaperBroker(1000000)
	p.UpdatePrice("NIFTY2630224500CE", 100.0)

	result, err := p.SubmitOrder(context.Background(), marketBuy("NIFTY2630224500CE", 50))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	positions, err := p.OpenPositions(context.Background())
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("open positions = %d", len(positions))
	}
	pos := positions[0]
	if pos.Symbol != "NIFTY2630224500CE" || pos.Quantity != 50 {
		t.Errorf("position = %s x%d", pos.Symbol, pos.Quantity)
	}
	if pos.EntryPrice != result.FilledAt {
		t.Errorf("entry price %.2f != fill %.2f", pos.EntryPrice, result.FilledAt)
	}
	if pos.EntryOrderID != result.OrderID {
		t.Errorf("entry order id %q != %q", pos.EntryOrderID, result.OrderID)
	}
}

func TestPaperBuysAverageIntoOnePosition(t *testing.T) {
	p := newTestPaperBroker(1000000)
	p.UpdatePrice("NIFTY2630224500CE", 100.0)

	first, _ := p.SubmitOrder(context.Background(), marketBuy("NIFTY2630224500CE", 50))
	p.UpdatePrice("NIFTY2630224500CE", 110.0)
	second, _ := p.SubmitOrder(context.Background(), marketBuy("NIFTY2630224500CE", 50))

	positions, _ := p.OpenPositions(context.Background())
	if len(positions) != 1 {
		t.Fatalf("open positions = %d", len(positions))
	}
	pos := positions[0]
	if pos.Quantity != 100 {
		t.Errorf("quantity = %d", pos.Quantity)
	}
	want := (first.FilledAt*50 + second.FilledAt*50) / 100
	if diff := pos.EntryPrice - want; diff > 0.001 || diff < -0.001 {
		t.Errorf("entry price %.4f, want %.4f", pos.EntryPrice, want)
	}
}

func TestPaperClosePositionFullQuantity(t *testing.T) {
	p := newTestPaperBroker(1000000)
	p.UpdatePrice("NIFTY2630224500CE", 100.0)

	if _, err := p.SubmitOrder(context.Background(), marketBuy("NIFTY2630224500CE", 50)); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	p.UpdatePrice("NIFTY2630224500CE", 108.0)

	result, err := p.ClosePosition(context.Background(), "NIFTY2630224500CE", 0)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if result.Status != models.OrderStatusComplete {
		t.Fatalf("expected fill, got %s: %s", result.Status, result.Message)
	}
	if result.FilledAt >= 108.0 {
		t.Errorf("close should fill below the quote, got %.2f", result.FilledAt)
	}

	positions, _ := p.OpenPositions(context.Background())
	if len(positions) != 0 {
		t.Errorf("position should be flat, got %d open", len(positions))
	}
}

func TestPaperClosePositionPartial(t *testing.T) {
	p := newTestPaperBroker(1000000)
	p.UpdatePrice("NIFTY2630224500CE", 100.0)

	if _, err := p.SubmitOrder(context.Background(), marketBuy("NIFTY2630224500CE", 100)); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if _, err := p.ClosePosition(context.Background(), "NIFTY2630224500CE", 40); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	positions, _ := p.OpenPositions(context.Background())
	if len(positions) != 1 || positions[0].Quantity != 60 {
		t.Fatalf("positions = %+v", positions)
	}
}

func TestPaperClosePositionUnknownSymbol(t *testing.T) {
	p := newTestPaperBroker(1000000)
	if _, err := p.ClosePosition(context.Background(), "NIFTY2630224500CE", 0); err == nil {
		t.Fatal("closing a flat symbol should error")
	}
}

func TestPaperBalanceDebitsOnFill(t *testing.T) {
	p := newTestPaperBroker(100000)
	p.UpdatePrice("NIFTY2630224500CE", 100.0)

	result, err := p.SubmitOrder(context.Background(), marketBuy("NIFTY2630224500CE", 50))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	bal, err := p.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	want := 100000 - result.FilledAt*50
	if diff := bal.AvailableCash - want; diff > 0.01 || diff < -0.01 {
		t.Errorf("cash %.2f, want %.2f", bal.AvailableCash, want)
	}
}
