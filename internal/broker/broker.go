// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"time"

	"nine15-trader/internal/models"
)

// Broker defines the operations the execution engine needs from a brokerage.
// A rejection is a result, not an error: errors signal transport or session
// failure, while rejected orders come back as an OrderResult carrying the
// broker's reason text untouched.
type Broker interface {
	// Authentication
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	IsAuthenticated() bool

	// Market data
	Quote(ctx context.Context, symbol string) (*models.Quote, error)
	Quotes(ctx context.Context, symbols []string) (map[string]*models.Quote, error)
	Instruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error)
	OptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error)

	// Orders
	SubmitOrder(ctx context.Context, intent *models.OrderIntent) (*OrderResult, error)
	OrderStatus(ctx context.Context, orderID string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error

	// Positions
	OpenPositions(ctx context.Context) ([]models.Position, error)
	// ClosePosition market-sells the held quantity of symbol. A quantity of 0
	// closes the whole position.
	ClosePosition(ctx context.Context, symbol string, quantity int) (*OrderResult, error)

	// Account
	Balance(ctx context.Context) (*models.Balance, error)

	// IsPaper reports whether fills are simulated.
	IsPaper() bool
}

// Ticker streams real-time market data for subscribed instruments.
type Ticker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(symbols []string, mode TickMode) error
	Unsubscribe(symbols []string) error
	RegisterSymbol(symbol string, token uint32)
	OnTick(handler func(models.Tick))
	OnError(handler func(error))
	OnConnect(handler func())
	OnDisconnect(handler func())
}

// TickMode represents the subscription mode for ticks.
type TickMode string

const (
	TickModeQuote TickMode = "quote"
	TickModeFull  TickMode = "full"
)

// OrderResult is the immediate outcome of an order submission.
type OrderResult struct {
	OrderID  string
	Status   models.OrderStatus
	FilledAt float64 // average fill price when complete
	Message  string  // broker's own text, verbatim for rejections
}

// Rejected reports whether the broker refused the order.
func (r *OrderResult) Rejected() bool {
	return r.Status == models.OrderStatusRejected
}
