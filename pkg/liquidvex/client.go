package liquidvex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client is the REST surface of the liquidVex backend. Errors are either
// *NetworkError or *DecodeError; nothing is retried at this layer.
type Client interface {
	GetMeta(ctx context.Context) (*models.ExchangeMeta, error)
	GetAsset(ctx context.Context, coin string) (*models.Asset, error)
	GetFunding(ctx context.Context, coin string, limit int) ([]models.FundingRate, error)
	GetCandles(ctx context.Context, coin, interval string, start, end time.Time) ([]models.Candle, error)
	GetTrades(ctx context.Context, coin string, limit int) ([]models.Trade, error)
	GetOrderBook(ctx context.Context, coin string, depth int) (*models.OrderBook, error)

	PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.OrderResult, error)
	CancelOrder(ctx context.Context, coin string, orderID int64) (*models.OrderResult, error)
	ModifyOrder(ctx context.Context, req *models.ModifyRequest) (*models.OrderResult, error)
	CancelAll(ctx context.Context, coin string) (*models.OrderResult, error)
	ClosePosition(ctx context.Context, coin string) (*models.OrderResult, error)

	GetAccountState(ctx context.Context, address string) (*models.AccountState, error)
	GetPositions(ctx context.Context, address string) ([]models.Position, error)
	GetOpenOrders(ctx context.Context, address string) ([]models.Order, error)
	GetHistory(ctx context.Context, address string, kind models.HistoryKind) (*models.AccountHistory, error)
}

const maxErrorBody = 512

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	auth       Authenticator
	signer     Signer
	logger     *logrus.Logger
	now        func() time.Time
}

type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithRateLimit paces requests. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithAuthenticator(a Authenticator) ClientOption {
	return func(c *HTTPClient) { c.auth = a }
}

func WithSigner(s Signer) ClientOption {
	return func(c *HTTPClient) { c.signer = s }
}

func NewClient(baseURL string, logger *logrus.Logger, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) GetMeta(ctx context.Context) (*models.ExchangeMeta, error) {
	var w wireMeta
	if err := c.doRequest(ctx, "get meta", http.MethodGet, "/api/info/meta", nil, nil, &w); err != nil {
		return nil, err
	}
	meta := &models.ExchangeMeta{Exchange: w.Exchange, Assets: make([]models.Asset, 0, len(w.Assets))}
	for _, a := range w.Assets {
		meta.Assets = append(meta.Assets, a.model())
	}
	return meta, nil
}

func (c *HTTPClient) GetAsset(ctx context.Context, coin string) (*models.Asset, error) {
	var w wireAsset
	path := "/api/info/asset/" + url.PathEscape(models.NormalizeCoin(coin))
	if err := c.doRequest(ctx, "get asset", http.MethodGet, path, nil, nil, &w); err != nil {
		return nil, err
	}
	asset := w.model()
	return &asset, nil
}

func (c *HTTPClient) GetFunding(ctx context.Context, coin string, limit int) ([]models.FundingRate, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var w wireFundings
	path := "/api/info/funding/" + url.PathEscape(models.NormalizeCoin(coin))
	if err := c.doRequest(ctx, "get funding", http.MethodGet, path, q, nil, &w); err != nil {
		return nil, err
	}
	out := make([]models.FundingRate, 0, len(w))
	for _, f := range w {
		out = append(out, models.FundingRate{Timestamp: msTime(f.Timestamp), Rate: f.Rate})
	}
	return out, nil
}

func (c *HTTPClient) GetCandles(ctx context.Context, coin, interval string, start, end time.Time) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("interval", interval)
	if !start.IsZero() {
		q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	var w wireCandles
	path := "/api/info/candles/" + url.PathEscape(models.NormalizeCoin(coin))
	if err := c.doRequest(ctx, "get candles", http.MethodGet, path, q, nil, &w); err != nil {
		return nil, err
	}
	out := make([]models.Candle, 0, len(w))
	for _, wc := range w {
		out = append(out, wc.model())
	}
	return out, nil
}

func (c *HTTPClient) GetTrades(ctx context.Context, coin string, limit int) ([]models.Trade, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var w wireTrades
	path := "/api/info/trades/" + url.PathEscape(models.NormalizeCoin(coin))
	if err := c.doRequest(ctx, "get trades", http.MethodGet, path, q, nil, &w); err != nil {
		return nil, err
	}
	out := make([]models.Trade, 0, len(w))
	for _, wt := range w {
		out = append(out, wt.model())
	}
	return out, nil
}

func (c *HTTPClient) GetOrderBook(ctx context.Context, coin string, depth int) (*models.OrderBook, error) {
	q := url.Values{}
	if depth > 0 {
		q.Set("limit", strconv.Itoa(depth))
	}
	var w wireBook
	path := "/api/info/orderbook/" + url.PathEscape(models.NormalizeCoin(coin))
	if err := c.doRequest(ctx, "get orderbook", http.MethodGet, path, q, nil, &w); err != nil {
		return nil, err
	}
	return w.model(coin), nil
}

// signedFields carries the wallet signature of a trade payload.
type signedFields struct {
	Signature string `json:"signature,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type placePayload struct {
	Coin       string   `json:"coin"`
	IsBuy      bool     `json:"is_buy"`
	LimitPx    float64  `json:"limit_px"`
	Sz         float64  `json:"sz"`
	OrderType  string   `json:"order_type"`
	ReduceOnly bool     `json:"reduce_only"`
	PostOnly   bool     `json:"post_only"`
	Tif        string   `json:"tif"`
	StopPx     *float64 `json:"stop_px,omitempty"`
	signedFields
}

type cancelPayload struct {
	Coin string `json:"coin"`
	Oid  int64  `json:"oid"`
	signedFields
}

type modifyPayload struct {
	Oid     int64    `json:"oid"`
	Coin    string   `json:"coin"`
	LimitPx *float64 `json:"limit_px,omitempty"`
	Sz      *float64 `json:"sz,omitempty"`
	signedFields
}

type coinPayload struct {
	Coin string `json:"coin"`
	signedFields
}

func (c *HTTPClient) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.OrderResult, error) {
	p := &placePayload{
		Coin:       models.NormalizeCoin(req.Coin),
		IsBuy:      req.IsBuy(),
		LimitPx:    req.Price,
		Sz:         req.Size,
		OrderType:  string(req.Type),
		ReduceOnly: req.ReduceOnly,
		PostOnly:   req.PostOnly,
		Tif:        string(req.TimeInForce),
	}
	if req.Type == models.OrderTypeMarket {
		p.LimitPx = 0
	}
	if req.Type.IsStop() {
		stop := req.StopPrice
		p.StopPx = &stop
	}
	if err := c.sign(p, &p.signedFields); err != nil {
		return nil, err
	}
	return c.postTrade(ctx, "place order", "/api/trade/place", p)
}

func (c *HTTPClient) CancelOrder(ctx context.Context, coin string, orderID int64) (*models.OrderResult, error) {
	p := &cancelPayload{Coin: models.NormalizeCoin(coin), Oid: orderID}
	if err := c.sign(p, &p.signedFields); err != nil {
		return nil, err
	}
	return c.postTrade(ctx, "cancel order", "/api/trade/cancel", p)
}

func (c *HTTPClient) ModifyOrder(ctx context.Context, req *models.ModifyRequest) (*models.OrderResult, error) {
	p := &modifyPayload{
		Oid:     req.OrderID,
		Coin:    models.NormalizeCoin(req.Coin),
		LimitPx: req.Price,
		Sz:      req.Size,
	}
	if err := c.sign(p, &p.signedFields); err != nil {
		return nil, err
	}
	return c.postTrade(ctx, "modify order", "/api/trade/modify", p)
}

func (c *HTTPClient) CancelAll(ctx context.Context, coin string) (*models.OrderResult, error) {
	p := &coinPayload{Coin: models.NormalizeCoin(coin)}
	if err := c.sign(p, &p.signedFields); err != nil {
		return nil, err
	}
	return c.postTrade(ctx, "cancel all", "/api/trade/cancel-all", p)
}

func (c *HTTPClient) ClosePosition(ctx context.Context, coin string) (*models.OrderResult, error) {
	p := &coinPayload{Coin: models.NormalizeCoin(coin)}
	if err := c.sign(p, &p.signedFields); err != nil {
		return nil, err
	}
	return c.postTrade(ctx, "close position", "/api/trade/close-position", p)
}

func (c *HTTPClient) GetAccountState(ctx context.Context, address string) (*models.AccountState, error) {
	var w wireAccountState
	if err := c.doRequest(ctx, "get account state", http.MethodGet, "/api/account/state/"+url.PathEscape(address), nil, nil, &w); err != nil {
		return nil, err
	}
	state := w.model()
	return &state, nil
}

func (c *HTTPClient) GetPositions(ctx context.Context, address string) ([]models.Position, error) {
	var w wirePositions
	if err := c.doRequest(ctx, "get positions", http.MethodGet, "/api/account/positions/"+url.PathEscape(address), nil, nil, &w); err != nil {
		return nil, err
	}
	out := make([]models.Position, 0, len(w))
	for _, p := range w {
		out = append(out, p.model())
	}
	return out, nil
}

func (c *HTTPClient) GetOpenOrders(ctx context.Context, address string) ([]models.Order, error) {
	var w wireOrders
	if err := c.doRequest(ctx, "get open orders", http.MethodGet, "/api/account/orders/"+url.PathEscape(address), nil, nil, &w); err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(w))
	for _, o := range w {
		out = append(out, o.model())
	}
	return out, nil
}

func (c *HTTPClient) GetHistory(ctx context.Context, address string, kind models.HistoryKind) (*models.AccountHistory, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("type", string(kind))
	}
	var w wireHistory
	if err := c.doRequest(ctx, "get history", http.MethodGet, "/api/account/history/"+url.PathEscape(address), q, nil, &w); err != nil {
		return nil, err
	}
	h := &models.AccountHistory{
		Orders: make([]models.Order, 0, len(w.Orders)),
		Trades: make([]models.Trade, 0, len(w.Trades)),
	}
	for _, o := range w.Orders {
		h.Orders = append(h.Orders, o.model())
	}
	for _, t := range w.Trades {
		h.Trades = append(h.Trades, t.model())
	}
	return h, nil
}

func (c *HTTPClient) postTrade(ctx context.Context, op, path string, payload any) (*models.OrderResult, error) {
	var w wireResult
	if err := c.doRequest(ctx, op, http.MethodPost, path, nil, payload, &w); err != nil {
		return nil, err
	}
	res := w.model()
	return &res, nil
}

// sign stamps the payload and, when a wallet signer is configured, attaches
// its signature over the stamped payload.
func (c *HTTPClient) sign(payload any, sf *signedFields) error {
	if c.signer == nil {
		return nil
	}
	sf.Timestamp = c.now().Unix()
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for signing: %w", err)
	}
	sig, err := c.signer.Sign(raw)
	if err != nil {
		return fmt.Errorf("sign payload: %w", err)
	}
	sf.Signature = sig
	return nil
}

func (c *HTTPClient) doRequest(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &NetworkError{Op: op, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if c.auth != nil {
		if err := c.auth.AddAuthHeaders(req); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, StatusCode: 0, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.WithFields(logrus.Fields{
		"op":          op,
		"status":      resp.StatusCode,
		"request_id":  requestID,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("Backend request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(data)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Body: snippet}
	}

	if err := decodeStrict(data, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}
