package models

import (
	"math"
	"time"
)

type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Sign is +1 for longs and -1 for shorts.
func (s PositionSide) Sign() float64 {
	if s == PositionSideShort {
		return -1
	}
	return 1
}

type MarginType string

const (
	MarginTypeCross    MarginType = "cross"
	MarginTypeIsolated MarginType = "isolated"
)

type Position struct {
	Coin             string
	Side             PositionSide
	EntryPrice       float64
	Size             float64
	Leverage         float64
	MarginUsed       float64
	UnrealizedPnl    float64
	RealizedPnl      float64
	LiquidationPrice float64
	MarginType       MarginType
	UpdatedAt        time.Time
}

// UnrealizedPnlAt is (mark - entry) * size * sign(side).
func (p Position) UnrealizedPnlAt(mark float64) float64 {
	return (mark - p.EntryPrice) * p.Size * p.Side.Sign()
}

// PositionView is a position merged with the latest mark price.
type PositionView struct {
	Position
	MarkPrice float64
	// LiquidationDistance is the distance from mark to liquidation price as a
	// percentage of mark. Zero when either price is unknown.
	LiquidationDistance float64
	// ReturnOnEquity is unrealized PnL over margin used, in percent.
	ReturnOnEquity float64
}

// ViewAt derives the live view of a position at the given mark price. A
// non-positive mark keeps the backend-supplied PnL.
func (p Position) ViewAt(mark float64) PositionView {
	v := PositionView{Position: p, MarkPrice: mark}
	if mark <= 0 {
		return v
	}
	v.UnrealizedPnl = p.UnrealizedPnlAt(mark)
	if p.LiquidationPrice > 0 {
		v.LiquidationDistance = math.Abs(mark-p.LiquidationPrice) / mark * 100
	}
	if p.MarginUsed > 0 {
		v.ReturnOnEquity = v.UnrealizedPnl / p.MarginUsed * 100
	}
	return v
}

type AccountState struct {
	Equity             float64
	MarginUsed         float64
	AvailableBalance   float64
	Withdrawable       float64
	CrossMarginSummary map[string]float64
	UpdatedAt          time.Time
}

type HistoryKind string

const (
	HistoryOrders HistoryKind = "orders"
	HistoryTrades HistoryKind = "trades"
)

type AccountHistory struct {
	Orders []Order
	Trades []Trade
}
