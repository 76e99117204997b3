package store

import (
	"fmt"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(coin string) *Store {
	l := logrus.New()
	l.SetOutput(io.Discard)
	s := New(DefaultConfig(), l)
	if coin != "" {
		s.UpdateSelectedAsset(coin)
	}
	return s
}

func lvl(px, sz float64) models.OrderBookLevel {
	return models.OrderBookLevel{Price: px, Size: sz, NumOrder: 1}
}

func TestSetOrderBookSortsSides(t *testing.T) {
	s := newTestStore("BTC")
	ok := s.SetOrderBook(&models.OrderBook{
		Coin: "BTC",
		Bids: []models.OrderBookLevel{lvl(99, 1), lvl(100, 1), lvl(98, 1), lvl(99, 3)},
		Asks: []models.OrderBookLevel{lvl(103, 1), lvl(101, 1), lvl(102, 0), lvl(102.5, 2)},
	})
	require.True(t, ok)

	book := s.OrderBook()
	require.Len(t, book.Bids, 3)
	assert.Equal(t, []float64{100, 99, 98}, prices(book.Bids))
	assert.Equal(t, 3.0, book.Bids[1].Size, "repeated price keeps the last level")
	assert.Equal(t, []float64{101, 102.5, 103}, prices(book.Asks))
	assert.False(t, book.Crossed())
}

func TestOrderBookMonotonicProperty(t *testing.T) {
	s := newTestStore("BTC")
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		var bids, asks []models.OrderBookLevel
		n := rng.Intn(40)
		for j := 0; j < n; j++ {
			bids = append(bids, lvl(float64(rng.Intn(50)+1), rng.Float64()*5))
			asks = append(asks, lvl(float64(rng.Intn(50)+51), rng.Float64()*5))
		}
		s.SetOrderBook(&models.OrderBook{Coin: "BTC", Bids: bids, Asks: asks})
		book := s.OrderBook()
		for k := 1; k < len(book.Bids); k++ {
			require.Greater(t, book.Bids[k-1].Price, book.Bids[k].Price)
		}
		for k := 1; k < len(book.Asks); k++ {
			require.Less(t, book.Asks[k-1].Price, book.Asks[k].Price)
		}
		require.LessOrEqual(t, len(book.Bids), DefaultBookDepth)
	}
}

func TestCrossedBookIsTolerated(t *testing.T) {
	s := newTestStore("BTC")
	require.True(t, s.SetOrderBook(&models.OrderBook{
		Coin: "BTC",
		Bids: []models.OrderBookLevel{lvl(105, 1)},
		Asks: []models.OrderBookLevel{lvl(100, 1)},
	}))
	v := s.Snapshot()
	assert.True(t, v.Crossed)
	assert.Equal(t, -5.0, v.Spread)
}

func TestBookForOtherCoinIsDropped(t *testing.T) {
	s := newTestStore("ETH")
	assert.False(t, s.SetOrderBook(&models.OrderBook{Coin: "BTC", Bids: []models.OrderBookLevel{lvl(1, 1)}}))
	assert.Nil(t, s.OrderBook())
	assert.True(t, s.SetOrderBook(&models.OrderBook{Coin: "eth-perp", Bids: []models.OrderBookLevel{lvl(1, 1)}}))
}

func TestApplyBookDelta(t *testing.T) {
	s := newTestStore("BTC")
	assert.False(t, s.ApplyBookDelta(&models.OrderBook{Coin: "BTC"}), "delta before snapshot")

	s.SetOrderBook(&models.OrderBook{
		Coin: "BTC",
		Bids: []models.OrderBookLevel{lvl(100, 1), lvl(99, 1)},
		Asks: []models.OrderBookLevel{lvl(101, 1), lvl(102, 1)},
	})
	require.True(t, s.ApplyBookDelta(&models.OrderBook{
		Coin: "BTC",
		Bids: []models.OrderBookLevel{lvl(100, 0), lvl(99.5, 4)},
		Asks: []models.OrderBookLevel{lvl(101, 2)},
	}))

	book := s.OrderBook()
	assert.Equal(t, []float64{99.5, 99}, prices(book.Bids))
	assert.Equal(t, []float64{101, 102}, prices(book.Asks))
	assert.Equal(t, 2.0, book.Asks[0].Size)
}

func TestTradeDedupAndOrdering(t *testing.T) {
	s := newTestStore("BTC")
	base := time.UnixMilli(1700000000000)
	t1 := models.Trade{Coin: "BTC", Hash: "a", Price: 1, Size: 1, Timestamp: base}
	t2 := models.Trade{Coin: "BTC", Hash: "b", Price: 2, Size: 1, Timestamp: base.Add(time.Second)}

	assert.True(t, s.AppendTrade(t1))
	assert.False(t, s.AppendTrade(t1))
	assert.True(t, s.AppendTrade(t2))
	assert.False(t, s.AppendTrade(models.Trade{Coin: "ETH", Hash: "c", Timestamp: base}))

	trades := s.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, "b", trades[0].Hash, "most recent first")
	assert.Equal(t, "a", trades[1].Hash)
}

func TestTradeTapeIsBounded(t *testing.T) {
	s := newTestStore("BTC")
	base := time.UnixMilli(1700000000000)
	var batch []models.Trade
	for i := 0; i < DefaultTradeLimit+20; i++ {
		batch = append(batch, models.Trade{
			Coin: "BTC", Hash: string(rune('A' + i)), Price: 1, Size: 1,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	s.SetTrades(batch)
	trades := s.Trades()
	require.Len(t, trades, DefaultTradeLimit)
	assert.Equal(t, batch[len(batch)-1].Hash, trades[0].Hash)

	assert.False(t, s.AppendTrade(batch[0]), "evicted trade is not re-added")
}

func TestTradeDedupSetStaysBounded(t *testing.T) {
	s := newTestStore("BTC")
	base := time.UnixMilli(1700000000000)
	for i := 0; i < 20*DefaultTradeLimit; i++ {
		require.True(t, s.AppendTrade(models.Trade{
			Coin: "BTC", Hash: fmt.Sprintf("h%d", i), Price: 1, Size: 1,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.Len(t, s.Trades(), DefaultTradeLimit)
	assert.LessOrEqual(t, len(s.tradeSeen), DefaultTradeLimit+1)

	// replays of long-evicted and of retained trades are both ignored
	assert.False(t, s.AppendTrade(models.Trade{Coin: "BTC", Hash: "h3", Price: 1, Size: 1, Timestamp: base.Add(3 * time.Second)}))
	last := s.Trades()[0]
	assert.False(t, s.AppendTrade(last))
	assert.Len(t, s.Trades(), DefaultTradeLimit)
}

func TestSetCandlesDropsInvalidAndSorts(t *testing.T) {
	s := newTestStore("BTC")
	base := time.UnixMilli(1700000000000)
	s.SetCandles([]models.Candle{
		{Timestamp: base.Add(time.Hour), Open: 2, High: 3, Low: 1, Close: 2.5},
		{Timestamp: base, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Timestamp: base.Add(2 * time.Hour), Open: 5, High: 4, Low: 1, Close: 2},
	})
	candles := s.Candles()
	require.Len(t, candles, 2)
	assert.True(t, candles[0].Timestamp.Equal(base))

	require.True(t, s.UpsertCandle("BTC", DefaultInterval, models.Candle{Timestamp: base.Add(time.Hour), Open: 2, High: 4, Low: 1, Close: 3.5}))
	candles = s.Candles()
	require.Len(t, candles, 2)
	assert.Equal(t, 3.5, candles[1].Close)

	assert.False(t, s.UpsertCandle("BTC", "1m", models.Candle{Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1}))
	assert.True(t, s.UpsertCandle("BTC", DefaultInterval, models.Candle{Timestamp: base.Add(3 * time.Hour), Open: 1, High: 1, Low: 1, Close: 1}))
	assert.Len(t, s.Candles(), 3)
}

func TestSwitchingAssetClearsMarketData(t *testing.T) {
	s := newTestStore("BTC")
	s.SetOrderBook(&models.OrderBook{Coin: "BTC", Bids: []models.OrderBookLevel{lvl(100, 1)}, Asks: []models.OrderBookLevel{lvl(101, 1)}})
	s.AppendTrade(models.Trade{Coin: "BTC", Hash: "x", Price: 100, Size: 1, Timestamp: time.Now()})
	s.SetCandles([]models.Candle{{Timestamp: time.Now(), Open: 1, High: 1, Low: 1, Close: 1}})
	require.NotZero(t, s.CurrentPrice())
	oldEpoch := s.Epoch()
	oldCandleEpoch := s.CandleEpoch()

	newEpoch := s.UpdateSelectedAsset("ETH")
	assert.Greater(t, s.CandleEpoch(), oldCandleEpoch)
	assert.Greater(t, newEpoch, oldEpoch)

	v := s.Snapshot()
	assert.Equal(t, "ETH", v.SelectedAsset)
	assert.Nil(t, v.OrderBook)
	assert.Empty(t, v.Trades)
	assert.Empty(t, v.Candles)
	assert.Zero(t, v.CurrentPrice)

	// late BTC data and stale-epoch results never reach the ETH view
	assert.False(t, s.SetOrderBook(&models.OrderBook{Coin: "BTC", Bids: []models.OrderBookLevel{lvl(100, 1)}}))
	assert.False(t, s.AppendTrade(models.Trade{Coin: "BTC", Hash: "y", Timestamp: time.Now()}))
	assert.False(t, s.SetCandlesForEpoch(oldCandleEpoch, []models.Candle{{Timestamp: time.Now(), Open: 1, High: 1, Low: 1, Close: 1}}))
	assert.False(t, s.SetOrderBookForEpoch(oldEpoch, &models.OrderBook{Coin: "ETH", Bids: []models.OrderBookLevel{lvl(1, 1)}}))
	assert.Empty(t, s.Candles())
	assert.Nil(t, s.OrderBook())

	assert.True(t, s.SetOrderBookForEpoch(newEpoch, &models.OrderBook{Coin: "ETH", Bids: []models.OrderBookLevel{lvl(3000, 1)}}))
}

func TestAllMidsToleratesSuffixedSymbols(t *testing.T) {
	s := newTestStore("BTC")
	s.SetAllMids(map[string]float64{"BTC-PERP": 46000, "eth": 3000})

	px, ok := s.MarkPrice("BTC")
	require.True(t, ok)
	assert.Equal(t, 46000.0, px)
	px, ok = s.MarkPrice("ETH-PERP")
	require.True(t, ok)
	assert.Equal(t, 3000.0, px)
	assert.Equal(t, 46000.0, s.CurrentPrice())
}

func TestCurrentPriceFallbacks(t *testing.T) {
	s := newTestStore("SOL")
	assert.Zero(t, s.CurrentPrice())
	s.AppendTrade(models.Trade{Coin: "SOL", Hash: "t", Price: 180, Size: 1, Timestamp: time.Now()})
	assert.Equal(t, 180.0, s.CurrentPrice())
	s.SetOrderBook(&models.OrderBook{Coin: "SOL", Bids: []models.OrderBookLevel{lvl(179, 1)}, Asks: []models.OrderBookLevel{lvl(181, 1)}})
	assert.Equal(t, 180.0, s.CurrentPrice())
	s.SetAllMids(map[string]float64{"SOL": 182})
	assert.Equal(t, 182.0, s.CurrentPrice())
}

func TestAssetsAndAccount(t *testing.T) {
	s := newTestStore("")
	s.SetAssets([]models.Asset{{Coin: "ETH", MaxLeverage: 50}, {Coin: "BTC", MaxLeverage: 50}})
	a, ok := s.Asset("btc-perp")
	require.True(t, ok)
	assert.Equal(t, "BTC", a.Coin)
	assert.Equal(t, "BTC", s.Assets()[0].Coin)

	_, ok = s.Account()
	assert.False(t, ok)
	s.SetAccountState(models.AccountState{Equity: 10000, AvailableBalance: 7500})
	acc, ok := s.Account()
	require.True(t, ok)
	assert.Equal(t, 7500.0, acc.AvailableBalance)
	assert.False(t, acc.UpdatedAt.IsZero())
}

func TestVersionIncrementsOnMutation(t *testing.T) {
	s := newTestStore("BTC")
	v0 := s.Version()
	s.SetAllMids(map[string]float64{"BTC": 1})
	assert.Greater(t, s.Version(), v0)
}

func prices(levels []models.OrderBookLevel) []float64 {
	out := make([]float64, 0, len(levels))
	for _, l := range levels {
		out = append(out, l.Price)
	}
	return out
}

func TestRESTSeedDoesNotOverwriteStream(t *testing.T) {
	s := newTestStore("BTC")
	epoch := s.Epoch()
	require.True(t, s.SetOrderBook(&models.OrderBook{Coin: "BTC", Bids: []models.OrderBookLevel{lvl(101, 1)}}))
	assert.False(t, s.SetOrderBookForEpoch(epoch, &models.OrderBook{Coin: "BTC", Bids: []models.OrderBookLevel{lvl(99, 1)}}))
	assert.Equal(t, 101.0, s.OrderBook().Bids[0].Price)

	base := time.UnixMilli(1700000000000)
	s.AppendTrade(models.Trade{Coin: "BTC", Hash: "live", Price: 1, Size: 1, Timestamp: base.Add(time.Minute)})
	require.True(t, s.SetTradesForEpoch(epoch, []models.Trade{{Coin: "BTC", Hash: "rest", Price: 1, Size: 1, Timestamp: base}}))
	assert.Len(t, s.Trades(), 2)

	require.True(t, s.UpsertCandle("BTC", DefaultInterval, models.Candle{Timestamp: base, Open: 1, High: 9, Low: 1, Close: 9}))
	require.True(t, s.SetCandlesForEpoch(s.CandleEpoch(), []models.Candle{
		{Timestamp: base.Add(-time.Hour), Open: 1, High: 2, Low: 1, Close: 2},
		{Timestamp: base, Open: 1, High: 2, Low: 1, Close: 2},
	}))
	candles := s.Candles()
	require.Len(t, candles, 2)
	assert.Equal(t, 9.0, candles[1].Close, "live candle wins")
}

func TestIntervalChangeKeepsAssetSeed(t *testing.T) {
	s := newTestStore("BTC")
	epoch := s.UpdateSelectedAsset("ETH")
	candleEpoch := s.CandleEpoch()

	newCandleEpoch := s.SetCandleInterval("5m")
	assert.Equal(t, epoch, s.Epoch(), "timeframe change keeps the asset epoch")
	assert.Greater(t, newCandleEpoch, candleEpoch)

	base := time.UnixMilli(1700000000000)
	assert.True(t, s.SetOrderBookForEpoch(epoch, &models.OrderBook{
		Coin: "ETH",
		Bids: []models.OrderBookLevel{lvl(2999, 1)},
		Asks: []models.OrderBookLevel{lvl(3001, 1)},
	}))
	assert.True(t, s.SetTradesForEpoch(epoch, []models.Trade{{Coin: "ETH", Hash: "e1", Price: 3000, Size: 1, Timestamp: base}}))
	require.NotNil(t, s.OrderBook())
	assert.Len(t, s.Trades(), 1)

	candle := []models.Candle{{Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1}}
	assert.False(t, s.SetCandlesForEpoch(candleEpoch, candle), "candles of the old timeframe are stale")
	assert.Empty(t, s.Candles())
	assert.True(t, s.SetCandlesForEpoch(newCandleEpoch, candle))
	assert.Len(t, s.Candles(), 1)
}
