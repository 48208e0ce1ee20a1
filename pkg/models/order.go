package models

import "strings"

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Normalized order status values, always lower case.
const (
	OrderStatusNew             = "new"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCanceled        = "canceled"
	OrderStatusRejected        = "rejected"
	OrderStatusExpired         = "expired"
)

type OrderStatus struct {
	OrderID  int64
	Status   string
	AvgPrice float64
}

func (s OrderStatus) Filled() bool {
	return s.Status == OrderStatusFilled
}

type OrderRequest struct {
	Type        OrderType
	Quantity    float64
	Side        string
	Price       *float64
	TimeInForce string
}

// NormalizeSide upper-cases a user supplied side ("buy" -> "BUY").
func NormalizeSide(side string) string {
	return strings.ToUpper(strings.TrimSpace(side))
}
