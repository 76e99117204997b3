package models

import (
	"time"
)

type Order struct {
	OrderID      int64
	Coin         string
	Side         OrderSide
	Type         OrderType
	Price        float64
	StopPrice    float64
	Size         float64
	OriginalSize float64
	Status       OrderStatus
	TimeInForce  TimeInForce
	PostOnly     bool
	ReduceOnly   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FilledSize is the executed part of the order.
func (o Order) FilledSize() float64 {
	if o.OriginalSize <= o.Size {
		return 0
	}
	return o.OriginalSize - o.Size
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopLimit  OrderType = "stop_limit"
	OrderTypeStopMarket OrderType = "stop_market"
)

// HasLimitPrice reports order types that rest at a limit price.
func (t OrderType) HasLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// IsStop reports trigger order types.
func (t OrderType) IsStop() bool {
	return t == OrderTypeStopLimit || t == OrderTypeStopMarket
}

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLimit, OrderTypeStopMarket:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusTriggered OrderStatus = "triggered"
)

// Terminal reports statuses after which an order no longer changes.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusTriggered
}

type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

func (t TimeInForce) Valid() bool {
	return t == TimeInForceGTC || t == TimeInForceIOC || t == TimeInForceFOK
}

// OrderRequest is what the order-entry form produces.
type OrderRequest struct {
	Coin        string
	Side        OrderSide
	Type        OrderType
	Price       float64
	StopPrice   float64
	Size        float64
	Leverage    int
	TimeInForce TimeInForce
	PostOnly    bool
	ReduceOnly  bool
}

// IsBuy is the wire representation of the side.
func (r OrderRequest) IsBuy() bool {
	return r.Side == OrderSideBuy
}

type ModifyRequest struct {
	OrderID int64
	Coin    string
	Price   *float64
	Size    *float64
}

type OrderResult struct {
	Success       bool
	OrderID       int64
	Message       string
	CanceledCount int
}
