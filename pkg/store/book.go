package store

import (
	"sort"

	"github.com/gregtusar/liquidvex/pkg/models"
)

// normalizeBook returns a copy of book with bids strictly descending and asks
// strictly ascending. Levels with a non-positive size are dropped, repeated
// prices collapse to the last occurrence, and each side is cut to depth
// levels when depth > 0.
func normalizeBook(book *models.OrderBook, depth int) *models.OrderBook {
	return &models.OrderBook{
		Coin:      models.NormalizeCoin(book.Coin),
		Bids:      normalizeSide(book.Bids, true, depth),
		Asks:      normalizeSide(book.Asks, false, depth),
		Timestamp: book.Timestamp,
	}
}

func normalizeSide(levels []models.OrderBookLevel, descending bool, depth int) []models.OrderBookLevel {
	byPrice := make(map[float64]models.OrderBookLevel, len(levels))
	for _, l := range levels {
		byPrice[l.Price] = l
	}

	out := make([]models.OrderBookLevel, 0, len(byPrice))
	for _, l := range byPrice {
		if l.Size <= 0 || l.Price <= 0 {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if depth > 0 && len(out) > depth {
		out = out[:depth]
	}
	return out
}

// mergeSide applies delta levels on top of current. A delta level with zero
// size removes the price.
func mergeSide(current, delta []models.OrderBookLevel) []models.OrderBookLevel {
	byPrice := make(map[float64]models.OrderBookLevel, len(current)+len(delta))
	for _, l := range current {
		byPrice[l.Price] = l
	}
	for _, l := range delta {
		if l.Size <= 0 {
			delete(byPrice, l.Price)
			continue
		}
		byPrice[l.Price] = l
	}
	out := make([]models.OrderBookLevel, 0, len(byPrice))
	for _, l := range byPrice {
		out = append(out, l)
	}
	return out
}

func copyBook(book *models.OrderBook) *models.OrderBook {
	if book == nil {
		return nil
	}
	return &models.OrderBook{
		Coin:      book.Coin,
		Bids:      append([]models.OrderBookLevel(nil), book.Bids...),
		Asks:      append([]models.OrderBookLevel(nil), book.Asks...),
		Timestamp: book.Timestamp,
	}
}
