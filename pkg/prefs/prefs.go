// Package prefs persists user preferences: favorites, recently traded
// assets, search history and the panel layout. Every read degrades to a
// default on a missing key, a storage failure or a record that does not
// validate; there is no partial-record recovery.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "liquidvex:"

const (
	KeyFavorites     = keyPrefix + "favorites"
	KeyRecent        = keyPrefix + "recently-traded"
	KeySearchHistory = keyPrefix + "search-history"
	KeyLayout        = keyPrefix + "layout"
)

const (
	MaxFavorites     = 20
	MaxRecent        = 10
	MaxSearchHistory = 10
)

// ErrInvalidLayout is returned by SaveLayout for a layout that would not
// load back.
var ErrInvalidLayout = errors.New("invalid layout preferences")

// Store reads and writes preferences through a Backend. A nil backend means
// storage is unavailable: reads return defaults and writes do nothing.
type Store struct {
	backend Backend
	logger  *logrus.Logger
	now     func() time.Time

	mu sync.Mutex
}

func New(backend Backend, logger *logrus.Logger) *Store {
	return &Store{backend: backend, logger: logger, now: time.Now}
}

// Available reports whether a storage backend is attached.
func (s *Store) Available() bool {
	return s != nil && s.backend != nil
}

func (s *Store) Close() error {
	if !s.Available() {
		return nil
	}
	return s.backend.Close()
}

// load reads key into out. It returns false, leaving out untouched, when the
// key is missing or unreadable.
func (s *Store) load(key string, out any) bool {
	if !s.Available() {
		return false
	}
	data, err := s.backend.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.WithError(err).WithField("key", key).Warn("Failed to read preference")
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Discarding unreadable preference")
		return false
	}
	return true
}

func (s *Store) save(key string, v any) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.backend.Set(key, data); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to write preference")
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Favorites lists favorite assets, most recently added first.
func (s *Store) Favorites() []models.Favorite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coinsLocked(KeyFavorites)
}

// coinsLocked loads a coin+timestamp list. One bad entry discards the list.
func (s *Store) coinsLocked(key string) []models.Favorite {
	var raw []models.Favorite
	if !s.load(key, &raw) {
		return []models.Favorite{}
	}
	for _, f := range raw {
		if f.Coin == "" || models.NormalizeCoin(f.Coin) != f.Coin || f.Timestamp.IsZero() {
			s.logger.WithField("key", key).Warn("Discarding malformed preference list")
			return []models.Favorite{}
		}
	}
	return raw
}

// pushCoin moves coin to the front of the list at key, stamped now, and
// drops entries past limit.
func (s *Store) pushCoin(key, coin string, limit int) ([]models.Favorite, error) {
	coin = models.NormalizeCoin(coin)
	if coin == "" {
		return nil, fmt.Errorf("coin is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Favorite{{Coin: coin, Timestamp: s.now().UTC()}}
	for _, f := range s.coinsLocked(key) {
		if f.Coin != coin {
			out = append(out, f)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, s.save(key, out)
}

func (s *Store) IsFavorite(coin string) bool {
	coin = models.NormalizeCoin(coin)
	for _, f := range s.Favorites() {
		if f.Coin == coin {
			return true
		}
	}
	return false
}

// AddFavorite moves coin to the front of the favorites, dropping the oldest
// entry past MaxFavorites.
func (s *Store) AddFavorite(coin string) ([]models.Favorite, error) {
	return s.pushCoin(KeyFavorites, coin, MaxFavorites)
}

func (s *Store) RemoveFavorite(coin string) ([]models.Favorite, error) {
	coin = models.NormalizeCoin(coin)
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.coinsLocked(KeyFavorites)
	out := make([]models.Favorite, 0, len(current))
	for _, f := range current {
		if f.Coin != coin {
			out = append(out, f)
		}
	}
	if len(out) == len(current) {
		return out, nil
	}
	return out, s.save(KeyFavorites, out)
}

// RecentlyTraded lists the markets last selected for trading, newest first.
func (s *Store) RecentlyTraded() []models.Favorite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coinsLocked(KeyRecent)
}

func (s *Store) AddRecentlyTraded(coin string) ([]models.Favorite, error) {
	return s.pushCoin(KeyRecent, coin, MaxRecent)
}

// SearchHistory lists asset-selector queries, newest first.
func (s *Store) SearchHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchesLocked()
}

func (s *Store) AddSearch(query string) ([]string, error) {
	if query == "" {
		return s.SearchHistory(), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []string{query}
	for _, q := range s.searchesLocked() {
		if q != query {
			out = append(out, q)
		}
	}
	if len(out) > MaxSearchHistory {
		out = out[:MaxSearchHistory]
	}
	return out, s.save(KeySearchHistory, out)
}

func (s *Store) ClearSearchHistory() error {
	if !s.Available() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(KeySearchHistory); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to clear search history: %w", err)
	}
	return nil
}

func (s *Store) searchesLocked() []string {
	var raw []string
	if !s.load(KeySearchHistory, &raw) {
		return []string{}
	}
	for _, q := range raw {
		if q == "" {
			s.logger.WithField("key", KeySearchHistory).Warn("Discarding malformed preference list")
			return []string{}
		}
	}
	return raw
}

// Layout returns the stored panel layout, or DefaultLayout when nothing
// valid is stored.
func (s *Store) Layout() models.LayoutPreferences {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw wireLayout
	if !s.load(KeyLayout, &raw) {
		return models.DefaultLayout()
	}
	layout, err := raw.model()
	if err != nil {
		s.logger.WithError(err).WithField("key", KeyLayout).Warn("Discarding invalid layout")
		return models.DefaultLayout()
	}
	return layout
}

// SaveLayout stores layout after checking it would load back unchanged.
func (s *Store) SaveLayout(layout models.LayoutPreferences) error {
	if err := ValidateLayout(layout); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(KeyLayout, layout)
}

func (s *Store) ResetLayout() error {
	if !s.Available() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(KeyLayout); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to reset layout: %w", err)
	}
	return nil
}

// wireLayout distinguishes a missing field from a zero one.
type wireLayout struct {
	PanelSizes          *map[string]float64 `json:"panelSizes"`
	ActiveBottomTab     *string             `json:"activeBottomTab"`
	TradeHistoryFilters *map[string]string  `json:"tradeHistoryFilters"`
}

func (w wireLayout) model() (models.LayoutPreferences, error) {
	if w.PanelSizes == nil || w.ActiveBottomTab == nil || w.TradeHistoryFilters == nil {
		return models.LayoutPreferences{}, fmt.Errorf("%w: missing field", ErrInvalidLayout)
	}
	layout := models.LayoutPreferences{
		PanelSizes:          *w.PanelSizes,
		ActiveBottomTab:     *w.ActiveBottomTab,
		TradeHistoryFilters: *w.TradeHistoryFilters,
	}
	return layout, ValidateLayout(layout)
}

// ValidateLayout checks every field of layout. Panel sizes are percentages.
func ValidateLayout(layout models.LayoutPreferences) error {
	if len(layout.PanelSizes) == 0 {
		return fmt.Errorf("%w: no panel sizes", ErrInvalidLayout)
	}
	for name, size := range layout.PanelSizes {
		if name == "" || math.IsNaN(size) || size <= 0 || size > 100 {
			return fmt.Errorf("%w: panel %q size %v", ErrInvalidLayout, name, size)
		}
	}
	if layout.ActiveBottomTab == "" {
		return fmt.Errorf("%w: no active tab", ErrInvalidLayout)
	}
	if layout.TradeHistoryFilters == nil {
		return fmt.Errorf("%w: no trade history filters", ErrInvalidLayout)
	}
	for k := range layout.TradeHistoryFilters {
		if k == "" {
			return fmt.Errorf("%w: empty filter name", ErrInvalidLayout)
		}
	}
	return nil
}
