package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType selects between market and limit execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce is the resting-order policy for limit orders.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good-Till-Cancelled
)

// OrderStatus tracks the order lifecycle. Pending is transient; an order at
// rest is always Filled or Failed.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusFilled  OrderStatus = "FILLED"
	OrderStatusFailed  OrderStatus = "FAILED"
)

// OrderRequest is the payload submitted to the exchange for one leg attempt.
type OrderRequest struct {
	Instrument  string
	Side        OrderSide
	Quantity    float64
	Type        OrderType
	TimeInForce TimeInForce
	Price       float64 // limit price; ignored for market orders
}

// OrderResult is the terminal record of one leg attempt chain. Created per
// leg, persisted once the leg reaches Filled or Failed.
type OrderResult struct {
	OrderID        string
	Instrument     string
	Side           OrderSide
	Quantity       float64 // requested
	Price          float64 // reference price at submission
	Status         OrderStatus
	FilledQuantity float64
	AvgPrice       float64
	Fees           float64
	Attempts       int
	Timestamp      time.Time
}

// Filled reports whether the order filled completely.
func (r OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled && r.FilledQuantity >= r.Quantity
}

// OrderUpdate is a point-in-time status view returned by batch monitoring.
// Err is set when the exchange lookup itself failed.
type OrderUpdate struct {
	OrderID        string
	Instrument     string
	Status         string
	FilledQuantity float64
	AvgPrice       float64
	Fees           float64
	Err            string
}
