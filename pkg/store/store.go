package store

import (
	"sort"
	"sync"
	"time"

	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTradeLimit   = 50
	DefaultBookDepth    = 25
	DefaultHistoryLimit = 200
	DefaultInterval     = "1h"
)

type Config struct {
	TradeLimit   int
	BookDepth    int
	HistoryLimit int
	Interval     string
}

func DefaultConfig() Config {
	return Config{
		TradeLimit:   DefaultTradeLimit,
		BookDepth:    DefaultBookDepth,
		HistoryLimit: DefaultHistoryLimit,
		Interval:     DefaultInterval,
	}
}

// Store is the single source of truth for market and trading state. Every
// mutation is a discrete action that cannot fail: input that does not fit
// the current state is dropped and logged. Reads return copies.
type Store struct {
	cfg    Config
	logger *logrus.Logger

	mu       sync.RWMutex
	selected string
	interval string
	epoch    uint64
	// candleEpoch also moves on a timeframe change, which must not
	// invalidate the book and trades of the same asset.
	candleEpoch uint64
	version     uint64

	assets     map[string]models.Asset
	book       *models.OrderBook
	trades     []models.Trade
	tradeSeen  map[string]time.Time
	candles    []models.Candle
	mids       map[string]float64
	positions  map[string]models.Position
	openOrders map[int64]models.Order
	history    []models.Order
	terminal   map[int64]struct{}
	account    *models.AccountState
}

func New(cfg Config, logger *logrus.Logger) *Store {
	def := DefaultConfig()
	if cfg.TradeLimit <= 0 {
		cfg.TradeLimit = def.TradeLimit
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = def.BookDepth
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.Interval == "" {
		cfg.Interval = def.Interval
	}
	return &Store{
		cfg:        cfg,
		logger:     logger,
		interval:   cfg.Interval,
		assets:     make(map[string]models.Asset),
		tradeSeen:  make(map[string]time.Time),
		mids:       make(map[string]float64),
		positions:  make(map[string]models.Position),
		openOrders: make(map[int64]models.Order),
		terminal:   make(map[int64]struct{}),
	}
}

func (s *Store) SelectedAsset() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

func (s *Store) CandleInterval() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// Epoch identifies the current asset selection. It changes on every switch,
// so a result fetched under an older epoch can be recognised as stale.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// CandleEpoch identifies the current asset and timeframe pair.
func (s *Store) CandleEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.candleEpoch
}

// Version increments on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// UpdateSelectedAsset switches the active market. Book, trades, candles and
// the derived price are cleared in the same critical section, so no reader
// ever sees data of the old coin under the new one. It returns the new
// epoch.
func (s *Store) UpdateSelectedAsset(coin string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = models.NormalizeCoin(coin)
	s.resetMarketLocked()
	return s.epoch
}

// SetCandleInterval changes the timeframe and clears the candle series. It
// returns the new candle epoch; the asset epoch is left alone.
func (s *Store) SetCandleInterval(interval string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
	s.candles = nil
	s.candleEpoch++
	s.version++
	return s.candleEpoch
}

func (s *Store) resetMarketLocked() {
	s.book = nil
	s.trades = nil
	s.tradeSeen = make(map[string]time.Time)
	s.candles = nil
	s.epoch++
	s.candleEpoch++
	s.version++
}

func (s *Store) isSelectedLocked(coin string) bool {
	return s.selected != "" && models.NormalizeCoin(coin) == s.selected
}

// SetOrderBook replaces the book of the selected asset. A book for any other
// coin is dropped.
func (s *Store) SetOrderBook(book *models.OrderBook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setOrderBookLocked(book)
}

// SetOrderBookForEpoch seeds the book from a REST snapshot fetched under
// epoch. It is a no-op once the selection has moved on or once the book
// stream has already delivered, since the stream is never older than the
// REST read.
func (s *Store) SetOrderBookForEpoch(epoch uint64, book *models.OrderBook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.book != nil {
		return false
	}
	return s.setOrderBookLocked(book)
}

func (s *Store) setOrderBookLocked(book *models.OrderBook) bool {
	if book == nil {
		return false
	}
	if !s.isSelectedLocked(book.Coin) {
		s.logger.WithFields(logrus.Fields{
			"coin":     book.Coin,
			"selected": s.selected,
		}).Debug("Dropping order book for unselected coin")
		return false
	}
	s.book = normalizeBook(book, s.cfg.BookDepth)
	s.warnIfCrossedLocked()
	s.version++
	return true
}

// ApplyBookDelta merges level updates into the current book. A delta that
// arrives before any snapshot is dropped.
func (s *Store) ApplyBookDelta(delta *models.OrderBook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if delta == nil || !s.isSelectedLocked(delta.Coin) || s.book == nil {
		return false
	}
	merged := &models.OrderBook{
		Coin:      s.book.Coin,
		Bids:      mergeSide(s.book.Bids, delta.Bids),
		Asks:      mergeSide(s.book.Asks, delta.Asks),
		Timestamp: delta.Timestamp,
	}
	s.book = normalizeBook(merged, s.cfg.BookDepth)
	s.warnIfCrossedLocked()
	s.version++
	return true
}

func (s *Store) warnIfCrossedLocked() {
	if s.book.Crossed() {
		bid, _ := s.book.BestBid()
		ask, _ := s.book.BestAsk()
		s.logger.WithFields(logrus.Fields{
			"coin":     s.book.Coin,
			"best_bid": bid.Price,
			"best_ask": ask.Price,
		}).Warn("Crossed order book")
	}
}

func (s *Store) OrderBook() *models.OrderBook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyBook(s.book)
}

// SetTrades replaces the tape with trades of the selected coin.
func (s *Store) SetTrades(trades []models.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTradesLocked(trades)
}

// SetTradesForEpoch merges trades fetched under epoch into the tape, keeping
// whatever the trade stream delivered meanwhile.
func (s *Store) SetTradesForEpoch(epoch uint64, trades []models.Trade) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}
	s.mergeTradesLocked(trades)
	s.version++
	return true
}

func (s *Store) setTradesLocked(trades []models.Trade) {
	s.trades = nil
	s.tradeSeen = make(map[string]time.Time)
	s.mergeTradesLocked(trades)
}

// AppendTrade merges one trade into the tape. Trades already on the tape
// (same hash) and trades of other coins are ignored.
func (s *Store) AppendTrade(trade models.Trade) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeTradesLocked([]models.Trade{trade}) > 0
}

func (s *Store) mergeTradesLocked(trades []models.Trade) int {
	// once the tape is full, anything older than its tail would be evicted
	// straight away
	full := len(s.trades) >= s.cfg.TradeLimit
	var floor time.Time
	if full {
		floor = s.trades[len(s.trades)-1].Timestamp
	}

	added := 0
	for _, t := range trades {
		if !s.isSelectedLocked(t.Coin) {
			continue
		}
		if full && t.Timestamp.Before(floor) {
			continue
		}
		if _, dup := s.tradeSeen[t.Hash]; dup {
			continue
		}
		s.tradeSeen[t.Hash] = t.Timestamp
		s.trades = append(s.trades, t)
		added++
	}
	if added == 0 {
		return 0
	}
	sort.SliceStable(s.trades, func(i, j int) bool {
		return s.trades[i].Timestamp.After(s.trades[j].Timestamp)
	})
	if len(s.trades) > s.cfg.TradeLimit {
		s.trades = s.trades[:s.cfg.TradeLimit]
		s.pruneSeenLocked()
	}
	s.version++
	return added
}

// pruneSeenLocked forgets hashes older than the tail of the tape. Such
// trades are rejected by age, so their hashes are no longer needed.
func (s *Store) pruneSeenLocked() {
	tail := s.trades[len(s.trades)-1].Timestamp
	for hash, ts := range s.tradeSeen {
		if ts.Before(tail) {
			delete(s.tradeSeen, hash)
		}
	}
}

func (s *Store) Trades() []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Trade(nil), s.trades...)
}

// SetCandles replaces the series of the active timeframe. Candles violating
// the OHLC envelope are dropped; the rest are ordered by open time.
func (s *Store) SetCandles(candles []models.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCandlesLocked(candles)
}

// SetCandlesForEpoch loads a history fetched under candle epoch. Live
// candles that the candle stream delivered meanwhile take precedence.
func (s *Store) SetCandlesForEpoch(epoch uint64, candles []models.Candle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.candleEpoch {
		return false
	}
	merged := make([]models.Candle, 0, len(candles)+len(s.candles))
	merged = append(merged, candles...)
	merged = append(merged, s.candles...)
	s.setCandlesLocked(merged)
	return true
}

func (s *Store) setCandlesLocked(candles []models.Candle) {
	byTime := make(map[int64]models.Candle, len(candles))
	dropped := 0
	for _, c := range candles {
		if !c.Valid() {
			dropped++
			continue
		}
		byTime[c.Timestamp.UnixMilli()] = c
	}
	if dropped > 0 {
		s.logger.WithField("dropped", dropped).Warn("Dropped invalid candles")
	}
	out := make([]models.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	s.candles = out
	s.version++
}

// UpsertCandle updates the live candle from the candle stream.
func (s *Store) UpsertCandle(coin, interval string, c models.Candle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isSelectedLocked(coin) || interval != s.interval {
		return false
	}
	if !c.Valid() {
		s.logger.WithField("coin", coin).Warn("Dropped invalid candle")
		return false
	}
	for i := len(s.candles) - 1; i >= 0; i-- {
		if s.candles[i].Timestamp.Equal(c.Timestamp) {
			s.candles[i] = c
			s.version++
			return true
		}
	}
	s.candles = append(s.candles, c)
	sort.Slice(s.candles, func(i, j int) bool { return s.candles[i].Timestamp.Before(s.candles[j].Timestamp) })
	s.version++
	return true
}

func (s *Store) Candles() []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Candle(nil), s.candles...)
}

// SetAllMids merges a coin->price update. Keys are normalized so that "BTC"
// and "BTC-PERP" address the same market.
func (s *Store) SetAllMids(mids map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for coin, px := range mids {
		if px <= 0 {
			continue
		}
		s.mids[models.NormalizeCoin(coin)] = px
	}
	s.version++
}

// MarkPrice is the latest mid for coin.
func (s *Store) MarkPrice(coin string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	px, ok := s.mids[models.NormalizeCoin(coin)]
	return px, ok
}

func (s *Store) Mids() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.mids))
	for k, v := range s.mids {
		out[k] = v
	}
	return out
}

// CurrentPrice of the selected asset: its mid from the all-mids feed, else
// the book mid, else the last trade. Zero while loading.
func (s *Store) CurrentPrice() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentPriceLocked()
}

func (s *Store) currentPriceLocked() float64 {
	if px, ok := s.mids[s.selected]; ok && s.selected != "" {
		return px
	}
	if s.book != nil {
		if mid := s.book.MidPrice(); mid > 0 {
			return mid
		}
	}
	if len(s.trades) > 0 {
		return s.trades[0].Price
	}
	return 0
}

func (s *Store) SetAssets(assets []models.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = make(map[string]models.Asset, len(assets))
	for _, a := range assets {
		s.assets[models.NormalizeCoin(a.Coin)] = a
	}
	s.version++
}

func (s *Store) Asset(coin string) (models.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[models.NormalizeCoin(coin)]
	return a, ok
}

func (s *Store) Assets() []models.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coin < out[j].Coin })
	return out
}

func (s *Store) SetAccountState(state models.AccountState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	s.account = &state
	s.version++
}

func (s *Store) Account() (models.AccountState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return models.AccountState{}, false
	}
	return *s.account, true
}
