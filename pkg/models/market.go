package models

import (
	"strings"
	"time"
)

// PerpSuffix is appended to some feeds' symbols ("BTC-PERP").
const PerpSuffix = "-PERP"

type Asset struct {
	Coin           string
	DisplayName    string
	SzDecimals     int
	PxDecimals     int
	MinSize        float64
	MaxLeverage    int
	FundingRate    float64
	OpenInterest   float64
	Volume24h      float64
	PriceChange24h float64
}

type ExchangeMeta struct {
	Exchange string
	Assets   []Asset
}

type FundingRate struct {
	Timestamp time.Time
	Rate      float64
}

type OrderBook struct {
	Coin      string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp time.Time
}

type OrderBookLevel struct {
	Price    float64
	Size     float64
	NumOrder int
}

// BestBid returns the highest bid, or false when the side is empty.
func (ob *OrderBook) BestBid() (OrderBookLevel, bool) {
	if ob == nil || len(ob.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return ob.Bids[0], true
}

// BestAsk returns the lowest ask, or false when the side is empty.
func (ob *OrderBook) BestAsk() (OrderBookLevel, bool) {
	if ob == nil || len(ob.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return ob.Asks[0], true
}

// MidPrice is the midpoint of best bid and best ask. It is zero unless both
// sides are populated.
func (ob *OrderBook) MidPrice() float64 {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// Crossed reports a book whose best bid is at or above its best ask.
func (ob *OrderBook) Crossed() bool {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	return okBid && okAsk && bid.Price >= ask.Price
}

type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

type Trade struct {
	Coin      string
	Side      TradeSide
	Price     float64
	Size      float64
	Fee       float64
	Hash      string
	Timestamp time.Time
}

type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Valid checks the OHLC envelope: high bounds every other price from above
// and low bounds them from below.
func (c Candle) Valid() bool {
	if c.High < c.Open || c.High < c.Close || c.High < c.Low {
		return false
	}
	if c.Low > c.Open || c.Low > c.Close {
		return false
	}
	return c.Volume >= 0
}

// CandleIntervals maps the supported timeframes to their length.
var CandleIntervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// NormalizeCoin upper-cases a symbol and strips the perpetual suffix so that
// "btc", "BTC" and "BTC-PERP" all name the same market.
func NormalizeCoin(coin string) string {
	c := strings.ToUpper(strings.TrimSpace(coin))
	return strings.TrimSuffix(c, PerpSuffix)
}
