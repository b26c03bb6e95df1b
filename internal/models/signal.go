package models

import "time"

// TradeSignal is the output of the pre-market scan: the selected underlying
// and the resolved option contract parameters. Consumed exactly once per cycle.
type TradeSignal struct {
	Underlying    string
	ChangePercent float64
	SpotPrice     float64
	StrikePrice   float64
	OptionSymbol  string
	LotSize       int
	Expiry        time.Time
	PCR           float64
	Confidence    float64
	ScannedAt     time.Time
}

// OrderIntent holds fully resolved order parameters ready for submission.
// Everything is computed during the prepare phase so execution does no
// decision-making.
type OrderIntent struct {
	Symbol       string
	Exchange     Exchange
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	LotSize      int
	LimitPrice   float64 // 0 for market orders
	ExpectedFill float64
	Notional     float64
	Tag          string
	PreparedAt   time.Time
}

// Order represents a broker order record.
type Order struct {
	ID           string
	Symbol       string
	Exchange     Exchange
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	Price        float64
	Status       OrderStatus
	StatusReason string // broker rejection text, passed through verbatim
	FilledQty    int
	AveragePrice float64
	PlacedAt     time.Time
}

// OrderStatus represents the lifecycle state of a broker order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusComplete  OrderStatus = "COMPLETE"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)
