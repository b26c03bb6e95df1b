// Package models provides domain models for the trading engine.
package models

import (
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductNRML ProductType = "NRML" // F&O Normal
)

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen             MarketStatus = "OPEN"
	MarketPreOpen          MarketStatus = "PRE_OPEN"
	MarketClosed           MarketStatus = "CLOSED"
	MarketMISSquareOffWarn MarketStatus = "MIS_SQUAREOFF_WARNING"
)

// Quote represents a market quote.
type Quote struct {
	Symbol        string
	LTP           float64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        int64
	OI            int64
	Change        float64
	ChangePercent float64
	Timestamp     time.Time
}

// Tick represents real-time market data.
type Tick struct {
	Symbol       string
	LTP          float64
	Volume       int64
	BuyQuantity  int64
	SellQuantity int64
	BidPrice     float64
	AskPrice     float64
	Timestamp    time.Time
}

// Instrument represents a tradeable instrument.
type Instrument struct {
	Token     uint32
	Symbol    string
	Name      string
	Exchange  Exchange
	Segment   string
	LotSize   int
	TickSize  float64
	Expiry    time.Time
	Strike    float64
	InstrType string // CE, PE, FUT, EQ
}

// Balance represents account balance.
type Balance struct {
	AvailableCash float64
	UsedMargin    float64
	TotalEquity   float64
}
