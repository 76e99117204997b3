package store

import (
	"sort"

	"github.com/gregtusar/liquidvex/pkg/models"
)

// SetPositions replaces the positions with a fresh backend read.
func (s *Store) SetPositions(positions []models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]models.Position, len(positions))
	for _, p := range positions {
		if p.Size <= 0 {
			continue
		}
		p.Coin = models.NormalizeCoin(p.Coin)
		s.positions[p.Coin] = p
	}
	s.version++
}

// AddPosition inserts or replaces the position of p.Coin.
func (s *Store) AddPosition(p models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Coin = models.NormalizeCoin(p.Coin)
	s.positions[p.Coin] = p
	s.version++
}

func (s *Store) RemovePosition(coin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	coin = models.NormalizeCoin(coin)
	if _, ok := s.positions[coin]; !ok {
		return false
	}
	delete(s.positions, coin)
	s.version++
	return true
}

// Position returns the live view of the position in coin.
func (s *Store) Position(coin string) (models.PositionView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[models.NormalizeCoin(coin)]
	if !ok {
		return models.PositionView{}, false
	}
	return p.ViewAt(s.mids[p.Coin]), true
}

// Positions merges every position with its latest mark price, so PnL always
// reflects the newest mid without the positions themselves being rewritten.
func (s *Store) Positions() []models.PositionView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positionsLocked()
}

func (s *Store) positionsLocked() []models.PositionView {
	out := make([]models.PositionView, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p.ViewAt(s.mids[p.Coin]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coin < out[j].Coin })
	return out
}
