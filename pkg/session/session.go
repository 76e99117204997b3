// Package session drives the client core: it loads exchange metadata, keeps
// the push channels of the selected market open, polls the account and turns
// user actions into backend requests. All state lands in the store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gregtusar/liquidvex/pkg/liquidvex"
	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/gregtusar/liquidvex/pkg/prefs"
	"github.com/gregtusar/liquidvex/pkg/store"
	"github.com/sirupsen/logrus"
)

var (
	// ErrActionInFlight is returned when an order action is submitted while
	// another one has not completed.
	ErrActionInFlight = errors.New("another order action is in flight")
	ErrUnknownAsset   = errors.New("unknown asset")
	ErrNotStarted     = errors.New("session not started")
)

const (
	DefaultInitialAsset        = "BTC"
	DefaultAccountPollInterval = 10 * time.Second
	DefaultCandleCount         = 500
	DefaultFundingLimit        = 24
)

type Config struct {
	// WSBaseURL is the push-channel base, e.g. ws://localhost:8001/ws.
	// Empty disables streaming; the session then runs on REST alone.
	WSBaseURL      string
	AccountAddress string
	InitialAsset   string

	AutoReconnect  bool
	Backoff        liquidvex.BackoffPolicy
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	RequestTimeout time.Duration

	AccountPollInterval time.Duration
	CandleCount         int
	BookDepth           int
	TradeLimit          int
}

func (c *Config) applyDefaults() {
	if c.InitialAsset == "" {
		c.InitialAsset = DefaultInitialAsset
	}
	if c.AccountPollInterval <= 0 {
		c.AccountPollInterval = DefaultAccountPollInterval
	}
	if c.CandleCount <= 0 {
		c.CandleCount = DefaultCandleCount
	}
	if c.BookDepth <= 0 {
		c.BookDepth = store.DefaultBookDepth
	}
	if c.TradeLimit <= 0 {
		c.TradeLimit = store.DefaultTradeLimit
	}
}

type Session struct {
	cfg           Config
	client        liquidvex.Client
	store         *store.Store
	prefs         *prefs.Store
	notifications *Notifications
	logger        *logrus.Logger

	// mu serializes market switches and guards the stream handles.
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	allMids *liquidvex.Stream
	market  marketStreams

	statesMu sync.RWMutex
	states   map[string]liquidvex.StreamState

	inFlight atomic.Bool
	wg       sync.WaitGroup
	stopCh   chan struct{}
}

func New(cfg Config, client liquidvex.Client, st *store.Store, pf *prefs.Store, logger *logrus.Logger) *Session {
	cfg.applyDefaults()
	if pf == nil {
		pf = prefs.New(nil, logger)
	}
	return &Session{
		cfg:           cfg,
		client:        client,
		store:         st,
		prefs:         pf,
		notifications: NewNotifications(DefaultNotificationLimit),
		logger:        logger,
		states:        make(map[string]liquidvex.StreamState),
		stopCh:        make(chan struct{}),
	}
}

func (s *Session) Store() *store.Store { return s.store }

func (s *Session) Prefs() *prefs.Store { return s.prefs }

func (s *Session) Notifications() *Notifications { return s.notifications }

// Start loads exchange metadata, opens the all-mids channel, selects the
// initial asset and starts the account poller. A failure to load metadata
// is reported but does not stop the session.
func (s *Session) Start(ctx context.Context) error {
	s.logger.WithField("asset", s.cfg.InitialAsset).Info("Starting session")

	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	if err := s.LoadMeta(runCtx); err != nil {
		s.logger.WithError(err).Warn("Failed to load exchange metadata")
		s.notifyError("Failed to load markets", err)
	}

	if s.cfg.WSBaseURL != "" {
		st := s.newStream("allMids", liquidvex.AllMidsURL(s.cfg.WSBaseURL))
		if err := st.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start all-mids stream: %w", err)
		}
		s.mu.Lock()
		s.allMids = st
		s.mu.Unlock()
	}

	if err := s.SelectAsset(runCtx, s.cfg.InitialAsset); err != nil {
		s.logger.WithError(err).WithField("asset", s.cfg.InitialAsset).Warn("Failed to select initial asset")
	}

	if s.cfg.AccountAddress != "" {
		s.wg.Add(1)
		go s.pollAccount(runCtx)
	}
	return nil
}

// Stop tears down every stream and background loop and waits for them.
func (s *Session) Stop() {
	s.logger.Info("Stopping session")

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	allMids := s.allMids
	s.allMids = nil
	market := s.market
	s.market = marketStreams{}
	s.mu.Unlock()

	market.stop()
	if allMids != nil {
		allMids.Stop()
	}
	s.wg.Wait()
}

// LoadMeta fetches the asset list into the store.
func (s *Session) LoadMeta(ctx context.Context) error {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()
	meta, err := s.client.GetMeta(ctx)
	if err != nil {
		return err
	}
	s.store.SetAssets(meta.Assets)
	s.logger.WithFields(logrus.Fields{
		"exchange": meta.Exchange,
		"assets":   len(meta.Assets),
	}).Info("Loaded exchange metadata")
	return nil
}

// Funding fetches the recent funding-rate history of coin, or of the selected
// asset when coin is empty.
func (s *Session) Funding(ctx context.Context, coin string) ([]models.FundingRate, error) {
	coin = models.NormalizeCoin(coin)
	if coin == "" {
		coin = s.store.SelectedAsset()
	}
	if coin == "" {
		return nil, fmt.Errorf("%w: no asset selected", ErrUnknownAsset)
	}
	if len(s.store.Assets()) > 0 {
		if _, ok := s.store.Asset(coin); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, coin)
		}
	}

	rctx, cancel := s.requestContext(ctx)
	defer cancel()
	rates, err := s.client.GetFunding(rctx, coin, DefaultFundingLimit)
	if err != nil {
		s.logger.WithError(err).WithField("coin", coin).Warn("Failed to load funding history")
		return nil, err
	}
	return rates, nil
}

// SelectAsset switches the active market. The store is reset and the old
// market channels are closed before the new ones open, so nothing of the
// previous coin can reach the new view. REST results that resolve after a
// later switch are discarded.
func (s *Session) SelectAsset(ctx context.Context, coin string) error {
	coin = models.NormalizeCoin(coin)
	if coin == "" {
		return fmt.Errorf("%w: empty symbol", ErrUnknownAsset)
	}
	if len(s.store.Assets()) > 0 {
		if _, ok := s.store.Asset(coin); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAsset, coin)
		}
	}

	s.mu.Lock()
	old := s.market
	s.market = marketStreams{}
	old.stop()
	epoch := s.store.UpdateSelectedAsset(coin)
	candleEpoch := s.store.CandleEpoch()
	interval := s.store.CandleInterval()
	if s.ctx != nil && s.cfg.WSBaseURL != "" {
		s.market = s.openMarketStreams(s.ctx, coin, interval)
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"coin":  coin,
		"epoch": epoch,
	}).Info("Selected asset")

	if _, err := s.prefs.AddRecentlyTraded(coin); err != nil {
		s.logger.WithError(err).Warn("Failed to record recently traded asset")
	}

	s.loadMarket(ctx, epoch, candleEpoch, coin, interval)
	return nil
}

// SetCandleInterval changes the chart timeframe and reloads its candles.
func (s *Session) SetCandleInterval(ctx context.Context, interval string) error {
	if _, ok := models.CandleIntervals[interval]; !ok {
		return fmt.Errorf("unsupported candle interval %q", interval)
	}

	s.mu.Lock()
	if s.market.candles != nil {
		s.market.candles.Stop()
		s.market.candles = nil
	}
	candleEpoch := s.store.SetCandleInterval(interval)
	coin := s.store.SelectedAsset()
	if s.ctx != nil && s.cfg.WSBaseURL != "" && coin != "" {
		s.market.candles = s.startStream(s.ctx, "candles:"+coin+":"+interval, liquidvex.CandlesURL(s.cfg.WSBaseURL, coin, interval))
	}
	s.mu.Unlock()

	if coin != "" {
		s.loadCandles(ctx, candleEpoch, coin, interval)
	}
	return nil
}

// loadMarket fills the freshly selected market from REST. Book and trades
// are applied only if the asset has not changed in the meantime; candles
// also need the timeframe to be unchanged.
func (s *Session) loadMarket(ctx context.Context, epoch, candleEpoch uint64, coin, interval string) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.loadCandles(ctx, candleEpoch, coin, interval)
	}()
	go func() {
		defer wg.Done()
		rctx, cancel := s.requestContext(ctx)
		defer cancel()
		book, err := s.client.GetOrderBook(rctx, coin, s.cfg.BookDepth)
		if err != nil {
			s.reportLoadError("order book", coin, err)
			return
		}
		if !s.store.SetOrderBookForEpoch(epoch, book) {
			s.logger.WithField("coin", coin).Debug("Discarding stale order book")
		}
	}()
	go func() {
		defer wg.Done()
		rctx, cancel := s.requestContext(ctx)
		defer cancel()
		trades, err := s.client.GetTrades(rctx, coin, s.cfg.TradeLimit)
		if err != nil {
			s.reportLoadError("trades", coin, err)
			return
		}
		if !s.store.SetTradesForEpoch(epoch, trades) {
			s.logger.WithField("coin", coin).Debug("Discarding stale trades")
		}
	}()
	wg.Wait()
}

func (s *Session) loadCandles(ctx context.Context, candleEpoch uint64, coin, interval string) {
	step := models.CandleIntervals[interval]
	end := time.Now().UTC()
	start := end.Add(-step * time.Duration(s.cfg.CandleCount))

	rctx, cancel := s.requestContext(ctx)
	defer cancel()
	candles, err := s.client.GetCandles(rctx, coin, interval, start, end)
	if err != nil {
		s.reportLoadError("candles", coin, err)
		return
	}
	if !s.store.SetCandlesForEpoch(candleEpoch, candles) {
		s.logger.WithField("coin", coin).Debug("Discarding stale candles")
	}
}

func (s *Session) reportLoadError(what, coin string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.WithError(err).WithField("coin", coin).Warnf("Failed to load %s", what)
	var decErr *liquidvex.DecodeError
	if errors.As(err, &decErr) {
		// malformed payloads degrade to an empty panel without a toast
		return
	}
	s.notifyError(fmt.Sprintf("Failed to load %s", what), err)
}

func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Session) notifyError(title string, err error) {
	s.notifications.Push(models.NotificationError, title, err.Error())
}

// Favorites and the other preference helpers pass through to prefs.

func (s *Session) Favorites() []models.Favorite { return s.prefs.Favorites() }

func (s *Session) ToggleFavorite(coin string) (bool, error) {
	if s.prefs.IsFavorite(coin) {
		_, err := s.prefs.RemoveFavorite(coin)
		return false, err
	}
	_, err := s.prefs.AddFavorite(coin)
	return true, err
}

func (s *Session) Layout() models.LayoutPreferences { return s.prefs.Layout() }

func (s *Session) SaveLayout(layout models.LayoutPreferences) error {
	return s.prefs.SaveLayout(layout)
}

func (s *Session) RecordSearch(query string) ([]string, error) {
	return s.prefs.AddSearch(query)
}
