package store

import (
	"sort"
	"time"

	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/sirupsen/logrus"
)

// SetOpenOrders replaces the open set with a backend read. Orders already
// known to be terminal are not resurrected.
func (s *Store) SetOpenOrders(orders []models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openOrders = make(map[int64]models.Order, len(orders))
	for _, o := range orders {
		s.applyOrderLocked(o)
	}
	s.version++
}

// ApplyOrderUpdate runs one lifecycle event: open orders are inserted or
// updated, terminal ones move to history. Updates for an order that already
// reached a terminal state are ignored.
func (s *Store) ApplyOrderUpdate(o models.Order) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.applyOrderLocked(o) {
		return false
	}
	s.version++
	return true
}

func (s *Store) applyOrderLocked(o models.Order) bool {
	if _, done := s.terminal[o.OrderID]; done {
		s.logger.WithFields(logrus.Fields{
			"order_id": o.OrderID,
			"status":   o.Status,
		}).Debug("Ignoring update for terminal order")
		return false
	}
	o.Coin = models.NormalizeCoin(o.Coin)
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now().UTC()
	}
	if prev, ok := s.openOrders[o.OrderID]; ok && !prev.CreatedAt.IsZero() {
		o.CreatedAt = prev.CreatedAt
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = o.UpdatedAt
	}

	if o.Status.Terminal() {
		delete(s.openOrders, o.OrderID)
		s.terminal[o.OrderID] = struct{}{}
		s.history = append([]models.Order{o}, s.history...)
		if len(s.history) > s.cfg.HistoryLimit {
			s.history = s.history[:s.cfg.HistoryLimit]
		}
		return true
	}
	s.openOrders[o.OrderID] = o
	return true
}

// MarkOrder moves an open order to a terminal status, e.g. after a
// successful cancel.
func (s *Store) MarkOrder(orderID int64, status models.OrderStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.openOrders[orderID]
	if !ok {
		return false
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	if !s.applyOrderLocked(o) {
		return false
	}
	s.version++
	return true
}

// AddHistory merges historical orders read from the backend.
func (s *Store) AddHistory(orders []models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		if !o.Status.Terminal() {
			continue
		}
		if _, done := s.terminal[o.OrderID]; done {
			continue
		}
		s.applyOrderLocked(o)
	}
	sort.SliceStable(s.history, func(i, j int) bool {
		return s.history[i].UpdatedAt.After(s.history[j].UpdatedAt)
	})
	s.version++
}

func (s *Store) OpenOrders() []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openOrdersLocked()
}

func (s *Store) openOrdersLocked() []models.Order {
	out := make([]models.Order, 0, len(s.openOrders))
	for _, o := range s.openOrders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID > out[j].OrderID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// OpenOrdersFor lists open orders of one coin.
func (s *Store) OpenOrdersFor(coin string) []models.Order {
	coin = models.NormalizeCoin(coin)
	var out []models.Order
	for _, o := range s.OpenOrders() {
		if o.Coin == coin {
			out = append(out, o)
		}
	}
	return out
}

func (s *Store) OrderHistory() []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Order(nil), s.history...)
}
