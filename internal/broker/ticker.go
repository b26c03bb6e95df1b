// Package broker provides broker integration implementations.
package broker

import (
	"context"
	"math"
	"sync"
	"time"

	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	apperrors "nine15-trader/internal/errors"
	"nine15-trader/internal/models"
)

// ZerodhaTicker streams ticks over the Kite WebSocket. The monitor uses it
// to keep a live price for the single open option contract; quote polling
// remains the fallback when the stream drops.
type ZerodhaTicker struct {
	ticker      *kiteticker.Ticker
	apiKey      string
	accessToken string

	onTick       func(models.Tick)
	onError      func(error)
	onConnect    func()
	onDisconnect func()

	connected    bool
	subscribed   map[uint32]TickMode
	symbolTokens map[string]uint32
	tokenSymbols map[uint32]string

	reconnecting bool
	maxRetries   int
	baseDelay    time.Duration

	mu      sync.RWMutex
	writeMu sync.Mutex // serializes websocket writes
}

// ZerodhaTickerConfig holds configuration for the ticker.
type ZerodhaTickerConfig struct {
	APIKey      string
	AccessToken string
	MaxRetries  int
	BaseDelay   time.Duration
}

// NewZerodhaTicker creates a ticker instance.
func NewZerodhaTicker(cfg ZerodhaTickerConfig) *ZerodhaTicker {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = time.Second
	}
	return &ZerodhaTicker{
		apiKey:       cfg.APIKey,
		accessToken:  cfg.AccessToken,
		subscribed:   make(map[uint32]TickMode),
		symbolTokens: make(map[string]uint32),
		tokenSymbols: make(map[uint32]string),
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
	}
}

// Connect establishes the WebSocket connection and blocks until connected,
// the context is cancelled, or the timeout elapses.
func (t *ZerodhaTicker) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.ticker = kiteticker.New(t.apiKey, t.accessToken)

	connectedCh := make(chan struct{})
	firstConnect := true

	t.ticker.OnConnect(func() {
		t.mu.Lock()
		t.connected = true
		t.reconnecting = false
		isFirst := firstConnect
		firstConnect = false
		t.mu.Unlock()

		select {
		case connectedCh <- struct{}{}:
		default:
		}

		if !isFirst {
			t.resubscribe()
			return
		}
		if t.onConnect != nil {
			go t.onConnect()
		}
	})

	t.ticker.OnClose(func(code int, reason string) {
		t.mu.Lock()
		wasConnected := t.connected
		t.connected = false
		t.mu.Unlock()

		if t.onDisconnect != nil && wasConnected {
			go t.onDisconnect()
		}
		go t.reconnect(ctx)
	})

	t.ticker.OnError(func(err error) {
		if t.onError != nil {
			go t.onError(err)
		}
	})

	t.ticker.OnTick(func(tick kitemodels.Tick) {
		if t.onTick != nil {
			go t.onTick(t.convertTick(tick))
		}
	})

	t.ticker.OnReconnect(func(attempt int, delay time.Duration) {
		t.mu.Lock()
		t.reconnecting = true
		t.mu.Unlock()
	})

	t.mu.Unlock()

	go t.ticker.Serve()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-connectedCh:
		return nil
	case <-time.After(30 * time.Second):
		if !t.IsConnected() {
			return apperrors.Wrap(apperrors.ErrTimeout, "ticker connection")
		}
		return nil
	}
}

// Disconnect closes the WebSocket connection.
func (t *ZerodhaTicker) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker != nil {
		t.ticker.Close()
		t.connected = false
	}
	return nil
}

// Subscribe subscribes registered symbols in the given mode.
func (t *ZerodhaTicker) Subscribe(symbols []string, mode TickMode) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return apperrors.ErrConnectionFailed
	}
	tokens := make([]uint32, 0, len(symbols))
	for _, symbol := range symbols {
		token, ok := t.symbolTokens[symbol]
		if !ok {
			continue
		}
		tokens = append(tokens, token)
		t.subscribed[token] = mode
	}
	t.mu.Unlock()

	if len(tokens) == 0 {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.ticker.Subscribe(tokens); err != nil {
		return apperrors.Wrap(err, "subscribing")
	}
	kiteMode := kiteticker.ModeQuote
	if mode == TickModeFull {
		kiteMode = kiteticker.ModeFull
	}
	if err := t.ticker.SetMode(kiteMode, tokens); err != nil {
		return apperrors.Wrap(err, "setting tick mode")
	}
	return nil
}

// Unsubscribe drops symbols from the stream.
func (t *ZerodhaTicker) Unsubscribe(symbols []string) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return apperrors.ErrConnectionFailed
	}
	tokens := make([]uint32, 0, len(symbols))
	for _, symbol := range symbols {
		if token, ok := t.symbolTokens[symbol]; ok {
			tokens = append(tokens, token)
			delete(t.subscribed, token)
		}
	}
	t.mu.Unlock()

	if len(tokens) == 0 {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.ticker.Unsubscribe(tokens); err != nil {
		return apperrors.Wrap(err, "unsubscribing")
	}
	return nil
}

// OnTick sets the tick handler.
func (t *ZerodhaTicker) OnTick(handler func(models.Tick)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = handler
}

// OnError sets the error handler.
func (t *ZerodhaTicker) OnError(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = handler
}

// OnConnect sets the connect handler.
func (t *ZerodhaTicker) OnConnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = handler
}

// OnDisconnect sets the disconnect handler.
func (t *ZerodhaTicker) OnDisconnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = handler
}

// RegisterSymbol maps a symbol to its instrument token for subscription.
func (t *ZerodhaTicker) RegisterSymbol(symbol string, token uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.symbolTokens[symbol] = token
	t.tokenSymbols[token] = symbol
}

// IsConnected reports whether the stream is up.
func (t *ZerodhaTicker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *ZerodhaTicker) convertTick(tick kitemodels.Tick) models.Tick {
	t.mu.RLock()
	symbol := t.tokenSymbols[tick.InstrumentToken]
	t.mu.RUnlock()

	m := models.Tick{
		Symbol:       symbol,
		LTP:          tick.LastPrice,
		Volume:       int64(tick.VolumeTraded),
		BuyQuantity:  int64(tick.TotalBuyQuantity),
		SellQuantity: int64(tick.TotalSellQuantity),
		Timestamp:    tick.Timestamp.Time,
	}
	if len(tick.Depth.Buy) > 0 {
		m.BidPrice = tick.Depth.Buy[0].Price
	}
	if len(tick.Depth.Sell) > 0 {
		m.AskPrice = tick.Depth.Sell[0].Price
	}
	return m
}

// reconnect retries the connection with exponential backoff.
func (t *ZerodhaTicker) reconnect(ctx context.Context) {
	t.mu.Lock()
	if t.reconnecting {
		t.mu.Unlock()
		return
	}
	t.reconnecting = true
	t.mu.Unlock()

	for attempt := 0; attempt < t.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delay := t.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		time.Sleep(delay)

		if t.IsConnected() {
			t.mu.Lock()
			t.reconnecting = false
			t.mu.Unlock()
			return
		}
		if err := t.Connect(ctx); err == nil {
			return
		}
	}

	t.mu.Lock()
	t.reconnecting = false
	t.mu.Unlock()
	if t.onError != nil {
		t.onError(apperrors.Wrap(apperrors.ErrConnectionFailed, "max reconnection attempts reached"))
	}
}

func (t *ZerodhaTicker) resubscribe() {
	t.mu.RLock()
	subscribed := make(map[uint32]TickMode, len(t.subscribed))
	for token, mode := range t.subscribed {
		subscribed[token] = mode
	}
	t.mu.RUnlock()

	if len(subscribed) == 0 {
		return
	}

	var quoteTokens, fullTokens []uint32
	for token, mode := range subscribed {
		if mode == TickModeFull {
			fullTokens = append(fullTokens, token)
		} else {
			quoteTokens = append(quoteTokens, token)
		}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if len(quoteTokens) > 0 {
		t.ticker.Subscribe(quoteTokens)
		t.ticker.SetMode(kiteticker.ModeQuote, quoteTokens)
	}
	if len(fullTokens) > 0 {
		t.ticker.Subscribe(fullTokens)
		t.ticker.SetMode(kiteticker.ModeFull, fullTokens)
	}
}

// Ensure ZerodhaTicker implements Ticker interface
var _ Ticker = (*ZerodhaTicker)(nil)
