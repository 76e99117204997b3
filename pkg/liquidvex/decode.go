package liquidvex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gregtusar/liquidvex/pkg/models"
)

// Wire shapes of the backend. Each one validates itself after decoding so
// that a payload with the right JSON syntax but the wrong shape is rejected
// at the transport boundary.

type validator interface {
	validate() error
}

func decodeStrict(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(out); err != nil {
		return err
	}
	if v, ok := out.(validator); ok {
		return v.validate()
	}
	return nil
}

func validateAll[T validator](items []T) error {
	for i, item := range items {
		if err := item.validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func finite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s is not finite", name)
	}
	return nil
}

func nonNegative(name string, v float64) error {
	if err := finite(name, v); err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("%s is negative", name)
	}
	return nil
}

func msTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func sideFromWire(s string) (models.TradeSide, error) {
	switch s {
	case "B", "buy", "b":
		return models.TradeSideBuy, nil
	case "A", "S", "sell", "a", "s":
		return models.TradeSideSell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

type wireAsset struct {
	Coin           string  `json:"coin"`
	SzDecimals     int     `json:"sz_decimals"`
	PxDecimals     int     `json:"px_decimals"`
	MinSz          float64 `json:"min_sz"`
	MaxLeverage    int     `json:"max_leverage"`
	FundingRate    float64 `json:"funding_rate"`
	OpenInterest   float64 `json:"open_interest"`
	Volume24h      float64 `json:"volume_24h"`
	PriceChange24h float64 `json:"price_change_24h"`
}

func (w *wireAsset) validate() error {
	if w.Coin == "" {
		return errors.New("asset coin is empty")
	}
	if w.SzDecimals < 0 || w.PxDecimals < 0 {
		return fmt.Errorf("asset %s has negative decimals", w.Coin)
	}
	if w.MaxLeverage < 1 {
		return fmt.Errorf("asset %s has max leverage %d", w.Coin, w.MaxLeverage)
	}
	return nonNegative("min_sz", w.MinSz)
}

func (w *wireAsset) model() models.Asset {
	return models.Asset{
		Coin:           models.NormalizeCoin(w.Coin),
		DisplayName:    models.NormalizeCoin(w.Coin) + "-PERP",
		SzDecimals:     w.SzDecimals,
		PxDecimals:     w.PxDecimals,
		MinSize:        w.MinSz,
		MaxLeverage:    w.MaxLeverage,
		FundingRate:    w.FundingRate,
		OpenInterest:   w.OpenInterest,
		Volume24h:      w.Volume24h,
		PriceChange24h: w.PriceChange24h,
	}
}

type wireMeta struct {
	Exchange string       `json:"exchange"`
	Assets   []*wireAsset `json:"assets"`
}

func (w *wireMeta) validate() error {
	if w.Assets == nil {
		return errors.New("meta has no assets field")
	}
	return validateAll(w.Assets)
}

type wireFunding struct {
	Timestamp int64   `json:"timestamp"`
	Rate      float64 `json:"rate"`
}

func (w *wireFunding) validate() error {
	if w.Timestamp <= 0 {
		return errors.New("funding timestamp missing")
	}
	return finite("rate", w.Rate)
}

type wireFundings []*wireFunding

func (w *wireFundings) validate() error { return validateAll(*w) }

type wireCandle struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

func (w *wireCandle) validate() error {
	if w.T <= 0 {
		return errors.New("candle timestamp missing")
	}
	for name, v := range map[string]float64{"o": w.O, "h": w.H, "l": w.L, "c": w.C, "v": w.V} {
		if err := nonNegative(name, v); err != nil {
			return err
		}
	}
	return nil
}

// model does not enforce the OHLC envelope; the store drops such candles so
// that one bad bar does not discard a whole series.
func (w *wireCandle) model() models.Candle {
	return models.Candle{
		Timestamp: msTime(w.T),
		Open:      w.O,
		High:      w.H,
		Low:       w.L,
		Close:     w.C,
		Volume:    w.V,
	}
}

type wireCandles []*wireCandle

func (w *wireCandles) validate() error { return validateAll(*w) }

type wireLevel struct {
	Px float64 `json:"px"`
	Sz float64 `json:"sz"`
	N  int     `json:"n"`
}

func (w *wireLevel) validate() error {
	if err := finite("px", w.Px); err != nil {
		return err
	}
	if w.Px <= 0 {
		return fmt.Errorf("level price %v is not positive", w.Px)
	}
	if w.N < 0 {
		return errors.New("level order count is negative")
	}
	return nonNegative("sz", w.Sz)
}

func levelsModel(levels []*wireLevel) []models.OrderBookLevel {
	out := make([]models.OrderBookLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, models.OrderBookLevel{Price: l.Px, Size: l.Sz, NumOrder: l.N})
	}
	return out
}

type wireBook struct {
	Coin      string       `json:"coin"`
	Bids      []*wireLevel `json:"bids"`
	Asks      []*wireLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

func (w *wireBook) validate() error {
	if w.Bids == nil || w.Asks == nil {
		return errors.New("book is missing a side")
	}
	if err := validateAll(w.Bids); err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	if err := validateAll(w.Asks); err != nil {
		return fmt.Errorf("asks: %w", err)
	}
	return nil
}

func (w *wireBook) model(coin string) *models.OrderBook {
	if w.Coin != "" {
		coin = w.Coin
	}
	ts := time.Now().UTC()
	if w.Timestamp > 0 {
		ts = msTime(w.Timestamp)
	}
	return &models.OrderBook{
		Coin:      models.NormalizeCoin(coin),
		Bids:      levelsModel(w.Bids),
		Asks:      levelsModel(w.Asks),
		Timestamp: ts,
	}
}

type wireTrades []*wireTrade

func (w *wireTrades) validate() error { return validateAll(*w) }

type wireTrade struct {
	Coin string  `json:"coin"`
	Side string  `json:"side"`
	Px   float64 `json:"px"`
	Sz   float64 `json:"sz"`
	Time int64   `json:"time"`
	Fee  float64 `json:"fee"`
	Hash string  `json:"hash"`
}

func (w *wireTrade) validate() error {
	if w.Coin == "" {
		return errors.New("trade coin is empty")
	}
	if w.Hash == "" {
		return errors.New("trade hash is empty")
	}
	if _, err := sideFromWire(w.Side); err != nil {
		return err
	}
	if w.Px <= 0 || w.Sz <= 0 {
		return errors.New("trade price and size must be positive")
	}
	return nil
}

func (w *wireTrade) model() models.Trade {
	side, _ := sideFromWire(w.Side)
	return models.Trade{
		Coin:      models.NormalizeCoin(w.Coin),
		Side:      side,
		Price:     w.Px,
		Size:      w.Sz,
		Fee:       w.Fee,
		Hash:      w.Hash,
		Timestamp: msTime(w.Time),
	}
}

type wireOrder struct {
	Oid        int64    `json:"oid"`
	Coin       string   `json:"coin"`
	Side       string   `json:"side"`
	LimitPx    float64  `json:"limit_px"`
	StopPx     *float64 `json:"stop_px,omitempty"`
	Sz         float64  `json:"sz"`
	OrigSz     float64  `json:"orig_sz"`
	Status     string   `json:"status"`
	Timestamp  int64    `json:"timestamp"`
	OrderType  string   `json:"order_type"`
	ReduceOnly bool     `json:"reduce_only"`
	PostOnly   bool     `json:"post_only"`
	Tif        string   `json:"tif"`
}

func (w *wireOrder) validate() error {
	if w.Oid <= 0 {
		return errors.New("order id missing")
	}
	if w.Coin == "" {
		return errors.New("order coin is empty")
	}
	if _, err := sideFromWire(w.Side); err != nil {
		return err
	}
	switch models.OrderStatus(w.Status) {
	case models.OrderStatusOpen, models.OrderStatusFilled, models.OrderStatusCanceled, models.OrderStatusTriggered:
	default:
		return fmt.Errorf("unknown order status %q", w.Status)
	}
	if !models.OrderType(w.OrderType).Valid() {
		return fmt.Errorf("unknown order type %q", w.OrderType)
	}
	if !models.TimeInForce(w.Tif).Valid() {
		return fmt.Errorf("unknown time in force %q", w.Tif)
	}
	if err := nonNegative("sz", w.Sz); err != nil {
		return err
	}
	return nonNegative("limit_px", w.LimitPx)
}

func (w *wireOrder) model() models.Order {
	side := models.OrderSideBuy
	if ts, _ := sideFromWire(w.Side); ts == models.TradeSideSell {
		side = models.OrderSideSell
	}
	o := models.Order{
		OrderID:      w.Oid,
		Coin:         models.NormalizeCoin(w.Coin),
		Side:         side,
		Type:         models.OrderType(w.OrderType),
		Price:        w.LimitPx,
		Size:         w.Sz,
		OriginalSize: w.OrigSz,
		Status:       models.OrderStatus(w.Status),
		TimeInForce:  models.TimeInForce(w.Tif),
		PostOnly:     w.PostOnly,
		ReduceOnly:   w.ReduceOnly,
		CreatedAt:    msTime(w.Timestamp),
		UpdatedAt:    msTime(w.Timestamp),
	}
	if w.StopPx != nil {
		o.StopPrice = *w.StopPx
	}
	if o.OriginalSize == 0 {
		o.OriginalSize = o.Size
	}
	return o
}

type wireOrders []*wireOrder

func (w *wireOrders) validate() error { return validateAll(*w) }

type wirePosition struct {
	Coin          string  `json:"coin"`
	Side          string  `json:"side"`
	EntryPx       float64 `json:"entry_px"`
	Sz            float64 `json:"sz"`
	Leverage      float64 `json:"leverage"`
	MarginUsed    float64 `json:"margin_used"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	RealizedPnl   float64 `json:"realized_pnl"`
	LiquidationPx float64 `json:"liquidation_px"`
	MarginType    string  `json:"margin_type"`
}

func (w *wirePosition) validate() error {
	if w.Coin == "" {
		return errors.New("position coin is empty")
	}
	if w.Side != string(models.PositionSideLong) && w.Side != string(models.PositionSideShort) {
		return fmt.Errorf("unknown position side %q", w.Side)
	}
	if w.MarginType != string(models.MarginTypeCross) && w.MarginType != string(models.MarginTypeIsolated) {
		return fmt.Errorf("unknown margin type %q", w.MarginType)
	}
	if w.EntryPx <= 0 {
		return errors.New("position entry price must be positive")
	}
	return nonNegative("sz", w.Sz)
}

func (w *wirePosition) model() models.Position {
	return models.Position{
		Coin:             models.NormalizeCoin(w.Coin),
		Side:             models.PositionSide(w.Side),
		EntryPrice:       w.EntryPx,
		Size:             w.Sz,
		Leverage:         w.Leverage,
		MarginUsed:       w.MarginUsed,
		UnrealizedPnl:    w.UnrealizedPnl,
		RealizedPnl:      w.RealizedPnl,
		LiquidationPrice: w.LiquidationPx,
		MarginType:       models.MarginType(w.MarginType),
		UpdatedAt:        time.Now().UTC(),
	}
}

type wirePositions []*wirePosition

func (w *wirePositions) validate() error { return validateAll(*w) }

type wireAccountState struct {
	Equity             *float64           `json:"equity"`
	MarginUsed         float64            `json:"margin_used"`
	AvailableBalance   *float64           `json:"available_balance"`
	Withdrawable       float64            `json:"withdrawable"`
	CrossMarginSummary map[string]float64 `json:"cross_margin_summary"`
}

func (w *wireAccountState) validate() error {
	if w.Equity == nil || w.AvailableBalance == nil {
		return errors.New("account state is missing equity or available_balance")
	}
	return finite("equity", *w.Equity)
}

func (w *wireAccountState) model() models.AccountState {
	return models.AccountState{
		Equity:             *w.Equity,
		MarginUsed:         w.MarginUsed,
		AvailableBalance:   *w.AvailableBalance,
		Withdrawable:       w.Withdrawable,
		CrossMarginSummary: w.CrossMarginSummary,
		UpdatedAt:          time.Now().UTC(),
	}
}

type wireHistory struct {
	Orders []*wireOrder `json:"orders"`
	Trades []*wireTrade `json:"trades"`
}

func (w *wireHistory) validate() error {
	if err := validateAll(w.Orders); err != nil {
		return fmt.Errorf("orders: %w", err)
	}
	if err := validateAll(w.Trades); err != nil {
		return fmt.Errorf("trades: %w", err)
	}
	return nil
}

// wireResult accepts both spellings the backend has used for the order id
// and the failure reason.
type wireResult struct {
	Success       *bool  `json:"success"`
	OrderID       *int64 `json:"order_id"`
	OrderIDCamel  *int64 `json:"orderId"`
	Message       string `json:"message"`
	Error         string `json:"error"`
	CanceledCount *int   `json:"canceledCount"`
	CanceledSnake *int   `json:"canceled_count"`
}

func (w *wireResult) validate() error {
	if w.Success == nil {
		return errors.New("result has no success field")
	}
	return nil
}

func (w *wireResult) model() models.OrderResult {
	r := models.OrderResult{Success: *w.Success, Message: w.Message}
	switch {
	case w.CanceledCount != nil:
		r.CanceledCount = *w.CanceledCount
	case w.CanceledSnake != nil:
		r.CanceledCount = *w.CanceledSnake
	}
	if w.Error != "" {
		r.Message = w.Error
	}
	switch {
	case w.OrderIDCamel != nil:
		r.OrderID = *w.OrderIDCamel
	case w.OrderID != nil:
		r.OrderID = *w.OrderID
	}
	return r
}
