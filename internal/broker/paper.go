// Package broker provides broker integration implementations.
package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	apperrors "nine15-trader/internal/errors"
	"nine15-trader/internal/models"
)

// Slippage bounds for simulated market fills, as fractions of the quote.
const (
	slippageMin = 0.001
	slippageMax = 0.003
)

// PaperBroker simulates fills against real market data. Market buys fill at
// the quote plus a random adverse slippage in [0.1%, 0.3%]; sells symmetric.
type PaperBroker struct {
	dataBroker Broker // real broker for quotes, nil in offline tests

	orders       map[string]*models.Order
	positions    map[string]*models.Position
	balance      *models.Balance
	orderCounter int
	priceCache   map[string]float64

	rng *rand.Rand
	now func() time.Time

	mu sync.RWMutex
}

// PaperBrokerConfig holds configuration for the paper broker.
type PaperBrokerConfig struct {
	DataBroker     Broker
	InitialBalance float64
	Seed           int64 // 0 means time-seeded
}

// NewPaperBroker creates a paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	balance := cfg.InitialBalance
	if balance == 0 {
		balance = 100000
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PaperBroker{
		dataBroker: cfg.DataBroker,
		orders:     make(map[string]*models.Order),
		positions:  make(map[string]*models.Position),
		balance: &models.Balance{
			AvailableCash: balance,
			TotalEquity:   balance,
		},
		priceCache: make(map[string]float64),
		rng:        rand.New(rand.NewSource(seed)),
		now:        time.Now,
	}
}

// Login is a no-op for paper trading.
func (p *PaperBroker) Login(ctx context.Context) error { return nil }

// Logout is a no-op for paper trading.
func (p *PaperBroker) Logout(ctx context.Context) error { return nil }

// IsAuthenticated always returns true for paper trading.
func (p *PaperBroker) IsAuthenticated() bool { return true }

// IsPaper returns true.
func (p *PaperBroker) IsPaper() bool { return true }

// Quote fetches a real-time quote from the data broker, falling back to the
// local price cache when no data broker is wired.
func (p *PaperBroker) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	if p.dataBroker != nil {
		quote, err := p.dataBroker.Quote(ctx, symbol)
		if err == nil {
			p.mu.Lock()
			p.priceCache[symbol] = quote.LTP
			p.mu.Unlock()
		}
		return quote, err
	}

	p.mu.RLock()
	price, ok := p.priceCache[symbol]
	p.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewDataError("quote", symbol, "no cached price", apperrors.ErrSymbolNotFound)
	}
	return &models.Quote{Symbol: symbol, LTP: price, Timestamp: p.now()}, nil
}

// Quotes fetches quotes for multiple symbols.
func (p *PaperBroker) Quotes(ctx context.Context, symbols []string) (map[string]*models.Quote, error) {
	if p.dataBroker != nil {
		return p.dataBroker.Quotes(ctx, symbols)
	}
	result := make(map[string]*models.Quote, len(symbols))
	for _, s := range symbols {
		q, err := p.Quote(ctx, s)
		if err != nil {
			continue
		}
		result[s] = q
	}
	return result, nil
}

// Instruments passes through to the data broker.
func (p *PaperBroker) Instruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	if p.dataBroker != nil {
		return p.dataBroker.Instruments(ctx, exchange)
	}
	return nil, apperrors.ErrConnectionFailed
}

// OptionChain passes through to the data broker.
func (p *PaperBroker) OptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error) {
	if p.dataBroker != nil {
		return p.dataBroker.OptionChain(ctx, underlying, expiry)
	}
	return nil, apperrors.ErrConnectionFailed
}

// SubmitOrder simulates order execution. Market orders fill immediately at
// the current price adjusted for slippage; limit orders fill only when the
// price already satisfies the limit, otherwise they rest OPEN.
func (p *PaperBroker) SubmitOrder(ctx context.Context, intent *models.OrderIntent) (*OrderResult, error) {
	price, err := p.referencePrice(ctx, intent.Symbol, intent.Exchange)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", p.now().Unix(), p.orderCounter)

	fillPrice := p.slippedPrice(price, intent.Side)
	canFill := true
	if intent.Type == models.OrderTypeLimit {
		fillPrice = intent.LimitPrice
		if intent.Side == models.OrderSideBuy && price > intent.LimitPrice {
			canFill = false
		}
		if intent.Side == models.OrderSideSell && price < intent.LimitPrice {
			canFill = false
		}
	}

	order := &models.Order{
		ID:       orderID,
		Symbol:   intent.Symbol,
		Exchange: intent.Exchange,
		Side:     intent.Side,
		Type:     intent.Type,
		Product:  intent.Product,
		Quantity: intent.Quantity,
		Price:    intent.LimitPrice,
		PlacedAt: p.now(),
	}

	orderValue := fillPrice * float64(intent.Quantity)
	if intent.Side == models.OrderSideBuy && canFill && p.balance.AvailableCash < orderValue {
		order.Status = models.OrderStatusRejected
		order.StatusReason = fmt.Sprintf("insufficient funds: required %.2f, available %.2f",
			orderValue, p.balance.AvailableCash)
		p.orders[orderID] = order
		return &OrderResult{
			OrderID: orderID,
			Status:  models.OrderStatusRejected,
			Message: order.StatusReason,
		}, nil
	}

	if canFill {
		order.Status = models.OrderStatusComplete
		order.FilledQty = intent.Quantity
		order.AveragePrice = fillPrice
		if intent.Side == models.OrderSideBuy {
			p.balance.AvailableCash -= orderValue
		} else {
			p.balance.AvailableCash += orderValue
		}
		p.applyFill(order)
	} else {
		order.Status = models.OrderStatusOpen
	}
	p.orders[orderID] = order

	return &OrderResult{
		OrderID:  orderID,
		Status:   order.Status,
		FilledAt: order.AveragePrice,
		Message:  "paper order",
	}, nil
}

// OrderStatus returns the recorded order.
func (p *PaperBroker) OrderStatus(ctx context.Context, orderID string) (*models.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	order, ok := p.orders[orderID]
	if !ok {
		return nil, apperrors.NewOrderError(orderID, "", "status", "order not found", apperrors.ErrInvalidOrder)
	}
	copied := *order
	return &copied, nil
}

// CancelOrder cancels a resting order.
func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return apperrors.NewOrderError(orderID, "", "cancel", "order not found", apperrors.ErrInvalidOrder)
	}
	if order.Status != models.OrderStatusOpen {
		return apperrors.NewOrderError(orderID, order.Symbol, "cancel",
			fmt.Sprintf("cannot cancel order with status %s", order.Status), apperrors.ErrInvalidOrder)
	}
	order.Status = models.OrderStatusCancelled
	return nil
}

// applyFill folds a completed order into the simulated position book.
// Caller must hold p.mu.
func (p *PaperBroker) applyFill(order *models.Order) {
	pos, ok := p.positions[order.Symbol]
	if order.Side == models.OrderSideBuy {
		if !ok {
			p.positions[order.Symbol] = &models.Position{
				Symbol:       order.Symbol,
				Exchange:     order.Exchange,
				Product:      order.Product,
				Quantity:     order.FilledQty,
				EntryPrice:   order.AveragePrice,
				EntryTime:    p.now(),
				EntryOrderID: order.ID,
				CurrentPrice: order.AveragePrice,
				Status:       models.PositionOpen,
			}
			return
		}
		total := float64(pos.Quantity)*pos.EntryPrice + float64(order.FilledQty)*order.AveragePrice
		pos.Quantity += order.FilledQty
		pos.EntryPrice = total / float64(pos.Quantity)
		pos.CurrentPrice = order.AveragePrice
		return
	}
	if !ok {
		return
	}
	pos.Quantity -= order.FilledQty
	pos.CurrentPrice = order.AveragePrice
	if pos.Quantity <= 0 {
		delete(p.positions, order.Symbol)
	}
}

// OpenPositions returns a snapshot of the simulated position book with
// current prices from the cache where available.
func (p *PaperBroker) OpenPositions(ctx context.Context) ([]models.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	positions := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		copied := *pos
		if price, ok := p.cachedPriceLocked(pos.Symbol, pos.Exchange); ok {
			copied.CurrentPrice = price
		}
		positions = append(positions, copied)
	}
	return positions, nil
}

// ClosePosition market-sells the held quantity of symbol. A quantity of 0 or
// one exceeding the holding closes the whole position.
func (p *PaperBroker) ClosePosition(ctx context.Context, symbol string, quantity int) (*OrderResult, error) {
	p.mu.RLock()
	pos, ok := p.positions[symbol]
	var intent *models.OrderIntent
	if ok {
		qty := quantity
		if qty <= 0 || qty > pos.Quantity {
			qty = pos.Quantity
		}
		intent = &models.OrderIntent{
			Symbol:   symbol,
			Exchange: pos.Exchange,
			Side:     models.OrderSideSell,
			Type:     models.OrderTypeMarket,
			Product:  pos.Product,
			Quantity: qty,
			Tag:      "nine15-exit",
		}
	}
	p.mu.RUnlock()
	if intent == nil {
		return nil, apperrors.NewOrderError("", symbol, "close", "no open position", apperrors.ErrInvalidOrder)
	}
	return p.SubmitOrder(ctx, intent)
}

// Balance returns the simulated balance.
func (p *PaperBroker) Balance(ctx context.Context) (*models.Balance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &models.Balance{
		AvailableCash: p.balance.AvailableCash,
		UsedMargin:    p.balance.TotalEquity - p.balance.AvailableCash,
		TotalEquity:   p.balance.TotalEquity,
	}, nil
}

// UpdatePrice seeds the local price cache. Used by offline tests and the
// tick feed.
func (p *PaperBroker) UpdatePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceCache[symbol] = price
}

// ProcessTick folds a live tick into the price cache.
func (p *PaperBroker) ProcessTick(tick models.Tick) {
	p.UpdatePrice(tick.Symbol, tick.LTP)
}

// referencePrice resolves the current price for an order. Quote feeds key on
// "EXCHANGE:SYMBOL" while orders carry the bare symbol, so the qualified key
// is tried first, then the bare one for tick-seeded caches.
func (p *PaperBroker) referencePrice(ctx context.Context, symbol string, exchange models.Exchange) (float64, error) {
	p.mu.RLock()
	price, ok := p.cachedPriceLocked(symbol, exchange)
	p.mu.RUnlock()
	if ok {
		return price, nil
	}

	quoteKey := symbol
	if exchange != "" {
		quoteKey = fmt.Sprintf("%s:%s", exchange, symbol)
	}
	quote, err := p.Quote(ctx, quoteKey)
	if err != nil {
		return 0, err
	}
	return quote.LTP, nil
}

// cachedPriceLocked looks up the price cache under both key forms. Caller
// holds p.mu.
func (p *PaperBroker) cachedPriceLocked(symbol string, exchange models.Exchange) (float64, bool) {
	if exchange != "" {
		if price, ok := p.priceCache[fmt.Sprintf("%s:%s", exchange, symbol)]; ok && price > 0 {
			return price, true
		}
	}
	price, ok := p.priceCache[symbol]
	if !ok || price <= 0 {
		return 0, false
	}
	return price, true
}

// slippedPrice applies a uniform random adverse fill adjustment.
func (p *PaperBroker) slippedPrice(price float64, side models.OrderSide) float64 {
	frac := slippageMin + p.rng.Float64()*(slippageMax-slippageMin)
	if side == models.OrderSideBuy {
		return price * (1 + frac)
	}
	return price * (1 - frac)
}

// Ensure PaperBroker implements Broker interface
var _ Broker = (*PaperBroker)(nil)
