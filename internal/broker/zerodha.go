// Package broker provides broker integration implementations.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "nine15-trader/internal/errors"
	"nine15-trader/internal/models"
)

// ZerodhaBroker implements the Broker interface against Kite Connect.
type ZerodhaBroker struct {
	client        *kiteconnect.Client
	apiKey        string
	apiSecret     string
	userID        string
	accessToken   string
	tokenPath     string
	authenticated bool
	instruments   map[string]models.Instrument
	mu            sync.RWMutex
}

// ZerodhaConfig holds configuration for the Zerodha broker.
type ZerodhaConfig struct {
	APIKey    string
	APISecret string
	UserID    string
	TokenPath string
}

// NewZerodhaBroker creates a Zerodha broker and loads any saved session.
func NewZerodhaBroker(cfg ZerodhaConfig) *ZerodhaBroker {
	client := kiteconnect.New(cfg.APIKey)

	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "nine15-trader", "session.json")
	}

	zb := &ZerodhaBroker{
		client:      client,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		userID:      cfg.UserID,
		tokenPath:   tokenPath,
		instruments: make(map[string]models.Instrument),
	}
	_ = zb.loadSession()
	return zb
}

type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login verifies the persisted session or reports the OAuth URL the operator
// must visit. CompleteLogin finishes the flow with the request token.
func (z *ZerodhaBroker) Login(ctx context.Context) error {
	if err := z.loadSession(); err == nil && z.IsAuthenticated() {
		if _, err := z.client.GetUserProfile(); err == nil {
			return nil
		}
	}

	loginURL := z.client.GetLoginURL()
	return apperrors.Wrapf(apperrors.ErrNotAuthenticated,
		"authentication required: visit %s, then run login with the request token", loginURL)
}

// CompleteLogin exchanges the request token for an access token and
// persists the session.
func (z *ZerodhaBroker) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return apperrors.Wrap(err, "generating session")
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	if err := z.saveSession(session.AccessToken); err != nil {
		// Session is valid in memory even if persistence failed.
		fmt.Fprintf(os.Stderr, "warning: failed to persist session: %v\n", err)
	}
	return nil
}

// Logout invalidates the session and removes the persisted token.
func (z *ZerodhaBroker) Logout(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.authenticated {
		if _, err := z.client.InvalidateAccessToken(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to invalidate token: %v\n", err)
		}
	}
	z.accessToken = ""
	z.authenticated = false

	if err := os.Remove(z.tokenPath); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(err, "removing session file")
	}
	return nil
}

// IsAuthenticated reports whether a session is active.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.authenticated
}

// IsPaper returns false.
func (z *ZerodhaBroker) IsPaper() bool { return false }

// LoginURL returns the Kite Connect OAuth URL.
func (z *ZerodhaBroker) LoginURL() string {
	return z.client.GetLoginURL()
}

func (z *ZerodhaBroker) loadSession() error {
	data, err := os.ReadFile(z.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	// Kite tokens expire at 6 AM IST the next day.
	if time.Now().After(session.ExpiresAt) {
		return apperrors.ErrSessionExpired
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()
	return nil
}

func (z *ZerodhaBroker) saveSession(accessToken string) error {
	dir := filepath.Dir(z.tokenPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	loc, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Now().In(loc)
	expiresAt := time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, loc)

	session := sessionData{
		AccessToken: accessToken,
		UserID:      z.userID,
		ExpiresAt:   expiresAt,
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return os.WriteFile(z.tokenPath, data, 0600)
}

// AccessToken returns the current access token for the ticker connection.
func (z *ZerodhaBroker) AccessToken() string {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.accessToken
}

// Quote fetches a real-time quote for one symbol ("EXCHANGE:SYMBOL").
func (z *ZerodhaBroker) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	quotes, err := z.Quotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	q, ok := quotes[symbol]
	if !ok {
		return nil, apperrors.NewDataError("quote", symbol, "quote not found", apperrors.ErrSymbolNotFound)
	}
	return q, nil
}

// Quotes fetches real-time quotes for multiple symbols in one API call.
func (z *ZerodhaBroker) Quotes(ctx context.Context, symbols []string) (map[string]*models.Quote, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	quotes, err := z.client.GetQuote(symbols...)
	if err != nil {
		return nil, apperrors.NewBrokerError("QUOTE_FAILED", err.Error(), err)
	}

	result := make(map[string]*models.Quote, len(quotes))
	for symbol, q := range quotes {
		changePercent := 0.0
		if q.OHLC.Close > 0 {
			changePercent = (q.NetChange / q.OHLC.Close) * 100
		}
		result[symbol] = &models.Quote{
			Symbol:        symbol,
			LTP:           q.LastPrice,
			Open:          q.OHLC.Open,
			High:          q.OHLC.High,
			Low:           q.OHLC.Low,
			Close:         q.OHLC.Close,
			Volume:        int64(q.Volume),
			OI:            int64(q.OI),
			Change:        q.NetChange,
			ChangePercent: changePercent,
			Timestamp:     q.LastTradeTime.Time,
		}
	}
	return result, nil
}

// Instruments fetches and caches all instruments for an exchange.
func (z *ZerodhaBroker) Instruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	instruments, err := z.client.GetInstruments()
	if err != nil {
		return nil, apperrors.NewBrokerError("INSTRUMENTS_FAILED", err.Error(), err)
	}

	var result []models.Instrument
	z.mu.Lock()
	for _, inst := range instruments {
		if inst.Exchange != string(exchange) {
			continue
		}
		m := models.Instrument{
			Token:     uint32(inst.InstrumentToken),
			Symbol:    inst.Tradingsymbol,
			Name:      inst.Name,
			Exchange:  models.Exchange(inst.Exchange),
			Segment:   inst.Segment,
			LotSize:   int(inst.LotSize),
			TickSize:  inst.TickSize,
			Expiry:    inst.Expiry.Time,
			Strike:    inst.StrikePrice,
			InstrType: inst.InstrumentType,
		}
		z.instruments[fmt.Sprintf("%s:%s", inst.Exchange, inst.Tradingsymbol)] = m
		result = append(result, m)
	}
	z.mu.Unlock()
	return result, nil
}

// InstrumentToken resolves the streaming token for a symbol.
func (z *ZerodhaBroker) InstrumentToken(ctx context.Context, symbol string, exchange models.Exchange) (uint32, error) {
	key := fmt.Sprintf("%s:%s", exchange, symbol)

	z.mu.RLock()
	inst, ok := z.instruments[key]
	z.mu.RUnlock()
	if ok {
		return inst.Token, nil
	}

	if _, err := z.Instruments(ctx, exchange); err != nil {
		return 0, err
	}

	z.mu.RLock()
	inst, ok = z.instruments[key]
	z.mu.RUnlock()
	if !ok {
		return 0, apperrors.NewDataError("instrument", symbol, "not found", apperrors.ErrSymbolNotFound)
	}
	return inst.Token, nil
}

// OptionChain builds the chain for an underlying and expiry from NFO
// instruments and their quotes.
func (z *ZerodhaBroker) OptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	spot, err := z.Quote(ctx, fmt.Sprintf("NSE:%s", underlying))
	if err != nil {
		return nil, apperrors.Wrap(err, "fetching spot price")
	}

	instruments, err := z.Instruments(ctx, models.NFO)
	if err != nil {
		return nil, err
	}

	// Collect contract symbols first, then batch-quote them.
	var contracts []optionContract
	for _, inst := range instruments {
		if inst.Name != underlying || !sameDay(inst.Expiry, expiry) {
			continue
		}
		if inst.InstrType != "CE" && inst.InstrType != "PE" {
			continue
		}
		contracts = append(contracts, optionContract{inst, fmt.Sprintf("NFO:%s", inst.Symbol)})
	}
	if len(contracts) == 0 {
		return nil, apperrors.NewDataError("option_chain", underlying, "no contracts for expiry", apperrors.ErrSymbolNotFound)
	}

	symbols := make([]string, len(contracts))
	for i, c := range contracts {
		symbols[i] = c.quoteKey
	}
	quotes, err := z.Quotes(ctx, symbols)
	if err != nil {
		return nil, apperrors.Wrap(err, "fetching option quotes")
	}

	return &models.OptionChain{
		Symbol:    underlying,
		SpotPrice: spot.LTP,
		Expiry:    expiry,
		Strikes:   assembleStrikes(contracts, quotes),
	}, nil
}

type optionContract struct {
	inst     models.Instrument
	quoteKey string
}

// assembleStrikes folds per-contract quotes into a strike-sorted chain body.
// Open interest rides along so PCR can be computed from the result.
func assembleStrikes(contracts []optionContract, quotes map[string]*models.Quote) []models.OptionStrike {
	strikeMap := make(map[float64]*models.OptionStrike)
	for _, c := range contracts {
		q, ok := quotes[c.quoteKey]
		if !ok {
			continue
		}
		strike, ok := strikeMap[c.inst.Strike]
		if !ok {
			strike = &models.OptionStrike{Strike: c.inst.Strike}
			strikeMap[c.inst.Strike] = strike
		}
		data := &models.OptionData{
			Symbol:  c.inst.Symbol,
			LTP:     q.LTP,
			OI:      q.OI,
			Volume:  q.Volume,
			LotSize: c.inst.LotSize,
		}
		if c.inst.InstrType == "CE" {
			strike.Call = data
		} else {
			strike.Put = data
		}
	}

	strikes := make([]models.OptionStrike, 0, len(strikeMap))
	for _, s := range strikeMap {
		strikes = append(strikes, *s)
	}
	sort.Slice(strikes, func(i, j int) bool { return strikes[i].Strike < strikes[j].Strike })
	return strikes
}

// SubmitOrder places the prepared order. Kite accepts or refuses at the
// gateway; rejections by the OMS surface later through OrderStatus with the
// exchange's reason text intact.
func (z *ZerodhaBroker) SubmitOrder(ctx context.Context, intent *models.OrderIntent) (*OrderResult, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(intent.Exchange),
		Tradingsymbol:   intent.Symbol,
		TransactionType: string(intent.Side),
		OrderType:       string(intent.Type),
		Product:         string(intent.Product),
		Quantity:        intent.Quantity,
		Price:           intent.LimitPrice,
		Validity:        "DAY",
		Tag:             intent.Tag,
	}

	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		// Gateway refusal; keep the broker's message verbatim.
		if isRejectionError(err) {
			return &OrderResult{
				Status:  models.OrderStatusRejected,
				Message: err.Error(),
			}, nil
		}
		return nil, apperrors.NewBrokerError("ORDER_FAILED", err.Error(), err)
	}

	return &OrderResult{
		OrderID: resp.OrderID,
		Status:  models.OrderStatusOpen,
		Message: "order accepted",
	}, nil
}

// isRejectionError distinguishes a broker refusal from a transport failure.
func isRejectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"insufficient", "margin", "rejected", "rms", "circuit", "blocked"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// OrderStatus fetches the latest state of an order. The exchange's status
// message is passed through to StatusReason without rewording.
func (z *ZerodhaBroker) OrderStatus(ctx context.Context, orderID string) (*models.Order, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	history, err := z.client.GetOrderHistory(orderID)
	if err != nil {
		return nil, apperrors.NewBrokerError("ORDER_STATUS_FAILED", err.Error(), err)
	}
	if len(history) == 0 {
		return nil, apperrors.NewOrderError(orderID, "", "status", "no order history", apperrors.ErrInvalidOrder)
	}

	latest := history[len(history)-1]
	return &models.Order{
		ID:           latest.OrderID,
		Symbol:       latest.TradingSymbol,
		Exchange:     models.Exchange(latest.Exchange),
		Side:         models.OrderSide(latest.TransactionType),
		Type:         models.OrderType(latest.OrderType),
		Product:      models.ProductType(latest.Product),
		Quantity:     int(latest.Quantity),
		Price:        latest.Price,
		Status:       models.OrderStatus(latest.Status),
		StatusReason: latest.StatusMessage,
		FilledQty:    int(latest.FilledQuantity),
		AveragePrice: latest.AveragePrice,
		PlacedAt:     latest.OrderTimestamp.Time,
	}, nil
}

// CancelOrder cancels a pending order.
func (z *ZerodhaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if !z.IsAuthenticated() {
		return apperrors.ErrNotAuthenticated
	}
	if _, err := z.client.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		return apperrors.NewBrokerError("ORDER_CANCEL_FAILED", err.Error(), err)
	}
	return nil
}

// OpenPositions fetches the net positions with a nonzero holding.
func (z *ZerodhaBroker) OpenPositions(ctx context.Context) ([]models.Position, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	resp, err := z.client.GetPositions()
	if err != nil {
		return nil, apperrors.NewBrokerError("POSITIONS_FAILED", err.Error(), err)
	}

	var positions []models.Position
	for _, p := range resp.Net {
		if p.Quantity == 0 {
			continue
		}
		positions = append(positions, models.Position{
			Symbol:       p.Tradingsymbol,
			Exchange:     models.Exchange(p.Exchange),
			Product:      models.ProductType(p.Product),
			Quantity:     int(p.Quantity),
			EntryPrice:   p.AveragePrice,
			CurrentPrice: p.LastPrice,
			Status:       models.PositionOpen,
		})
	}
	return positions, nil
}

// ClosePosition market-sells the held quantity of symbol. A quantity of 0 or
// one exceeding the holding closes the whole position.
func (z *ZerodhaBroker) ClosePosition(ctx context.Context, symbol string, quantity int) (*OrderResult, error) {
	positions, err := z.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, pos := range positions {
		if pos.Symbol != symbol || pos.Quantity <= 0 {
			continue
		}
		qty := quantity
		if qty <= 0 || qty > pos.Quantity {
			qty = pos.Quantity
		}
		return z.SubmitOrder(ctx, &models.OrderIntent{
			Symbol:   symbol,
			Exchange: pos.Exchange,
			Side:     models.OrderSideSell,
			Type:     models.OrderTypeMarket,
			Product:  pos.Product,
			Quantity: qty,
			Tag:      "nine15-exit",
		})
	}
	return nil, apperrors.NewOrderError("", symbol, "close", "no open position", apperrors.ErrInvalidOrder)
}

// Balance fetches the equity segment balance.
func (z *ZerodhaBroker) Balance(ctx context.Context) (*models.Balance, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	margins, err := z.client.GetUserMargins()
	if err != nil {
		return nil, apperrors.NewBrokerError("BALANCE_FAILED", err.Error(), err)
	}

	equity := margins.Equity
	return &models.Balance{
		AvailableCash: equity.Available.Cash,
		UsedMargin:    equity.Used.Debits,
		TotalEquity:   equity.Net,
	}, nil
}

func sameDay(t1, t2 time.Time) bool {
	y1, m1, d1 := t1.Date()
	y2, m2, d2 := t2.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Ensure ZerodhaBroker implements Broker interface
var _ Broker = (*ZerodhaBroker)(nil)
