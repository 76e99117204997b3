package store

import (
	"github.com/gregtusar/liquidvex/pkg/models"
)

// View is an immutable copy of the derived state, as rendered by the UI.
type View struct {
	Version            uint64                `json:"version"`
	Epoch              uint64                `json:"epoch"`
	SelectedAsset      string                `json:"selectedAsset"`
	CandleInterval     string                `json:"candleInterval"`
	CurrentPrice       float64               `json:"currentPrice"`
	OrderBook          *models.OrderBook     `json:"orderBook"`
	Crossed            bool                  `json:"crossed"`
	Spread             float64               `json:"spread"`
	Trades             []models.Trade        `json:"trades"`
	Candles            []models.Candle       `json:"candles"`
	Mids               map[string]float64    `json:"mids"`
	Positions          []models.PositionView `json:"positions"`
	TotalUnrealizedPnl float64               `json:"totalUnrealizedPnl"`
	OpenOrders         []models.Order        `json:"openOrders"`
	OrderHistory       []models.Order        `json:"orderHistory"`
	Account            *models.AccountState  `json:"account"`
}

// Snapshot copies the whole view under one read lock.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		Version:        s.version,
		Epoch:          s.epoch,
		SelectedAsset:  s.selected,
		CandleInterval: s.interval,
		CurrentPrice:   s.currentPriceLocked(),
		OrderBook:      copyBook(s.book),
		Trades:         append([]models.Trade(nil), s.trades...),
		Candles:        append([]models.Candle(nil), s.candles...),
		Mids:           make(map[string]float64, len(s.mids)),
		Positions:      s.positionsLocked(),
		OpenOrders:     s.openOrdersLocked(),
		OrderHistory:   append([]models.Order(nil), s.history...),
	}
	for k, px := range s.mids {
		v.Mids[k] = px
	}
	if s.book != nil {
		v.Crossed = s.book.Crossed()
		bid, okBid := s.book.BestBid()
		ask, okAsk := s.book.BestAsk()
		if okBid && okAsk {
			v.Spread = ask.Price - bid.Price
		}
	}
	for _, p := range v.Positions {
		v.TotalUnrealizedPnl += p.UnrealizedPnl
	}
	if s.account != nil {
		acc := *s.account
		v.Account = &acc
	}
	return v
}
