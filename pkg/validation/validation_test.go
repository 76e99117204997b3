package validation

import (
	"testing"

	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btc = models.Asset{Coin: "BTC", SzDecimals: 4, PxDecimals: 1, MinSize: 0.001, MaxLeverage: 50}

func testMarket() Market {
	return Market{
		Asset: btc,
		Book: &models.OrderBook{
			Coin: "BTC",
			Bids: []models.OrderBookLevel{{Price: 94999.0, Size: 1}},
			Asks: []models.OrderBookLevel{{Price: 95001.0, Size: 1}},
		},
		Account:      &models.AccountState{Equity: 20000, AvailableBalance: 10000},
		CurrentPrice: 95000,
	}
}

func limitBuy() models.OrderRequest {
	return models.OrderRequest{
		Coin: "BTC", Side: models.OrderSideBuy, Type: models.OrderTypeLimit,
		Price: 94000, Size: 0.1, Leverage: 10, TimeInForce: models.TimeInForceGTC,
	}
}

func fieldErrors(t *testing.T, err error) ValidationErrors {
	t.Helper()
	require.Error(t, err)
	v, ok := AsValidationErrors(err)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	return v
}

func TestValidOrderPasses(t *testing.T) {
	assert.NoError(t, ValidateOrder(limitBuy(), testMarket()))

	mkt := limitBuy()
	mkt.Type = models.OrderTypeMarket
	mkt.Price = 0
	assert.NoError(t, ValidateOrder(mkt, testMarket()))
}

func TestPriceMustBePositive(t *testing.T) {
	for _, px := range []float64{0, -1} {
		req := limitBuy()
		req.Price = px
		errs := fieldErrors(t, ValidateOrder(req, testMarket()))
		fe, ok := errs.Field(FieldPrice)
		require.True(t, ok)
		assert.Equal(t, RulePositive, fe.Rule)
	}
}

func TestSizeMustBePositive(t *testing.T) {
	for _, sz := range []float64{0, -0.5} {
		req := limitBuy()
		req.Size = sz
		errs := fieldErrors(t, ValidateOrder(req, testMarket()))
		fe, ok := errs.Field(FieldSize)
		require.True(t, ok)
		assert.Equal(t, RulePositive, fe.Rule)
	}
}

func TestPostOnlyCrossingIsRejected(t *testing.T) {
	req := limitBuy()
	req.PostOnly = true
	req.Price = 99000
	errs := fieldErrors(t, ValidateOrder(req, testMarket()))
	fe, ok := errs.Field(FieldPrice)
	require.True(t, ok)
	assert.Equal(t, RuleCrossSpread, fe.Rule)

	req.Price = 95001.0
	errs = fieldErrors(t, ValidateOrder(req, testMarket()))
	assert.Equal(t, RuleCrossSpread, errs[0].Rule, "at the best ask still crosses")

	req.Price = 95000.9
	assert.NoError(t, ValidateOrder(req, testMarket()), "one tick below the ask rests")

	sell := req
	sell.Side = models.OrderSideSell
	sell.Price = 94999.0
	errs = fieldErrors(t, ValidateOrder(sell, testMarket()))
	assert.Equal(t, RuleCrossSpread, errs[0].Rule)
	sell.Price = 94999.1
	assert.NoError(t, ValidateOrder(sell, testMarket()))
}

func TestPostOnlyRestrictions(t *testing.T) {
	req := limitBuy()
	req.PostOnly = true
	req.TimeInForce = models.TimeInForceIOC
	errs := fieldErrors(t, ValidateOrder(req, testMarket()))
	assert.True(t, errs.Has(FieldPostOnly))

	req = limitBuy()
	req.PostOnly = true
	req.Type = models.OrderTypeMarket
	req.Price = 0
	errs = fieldErrors(t, ValidateOrder(req, testMarket()))
	assert.True(t, errs.Has(FieldPostOnly))
}

func TestIncrementAlignment(t *testing.T) {
	req := limitBuy()
	req.Price = 94000.05
	req.Size = 0.00015
	errs := fieldErrors(t, ValidateOrder(req, testMarket()))
	p, _ := errs.Field(FieldPrice)
	s, _ := errs.Field(FieldSize)
	assert.Equal(t, RuleIncrement, p.Rule)
	assert.Equal(t, RuleIncrement, s.Rule)
	assert.Contains(t, p.Message, "0.1")

	req = limitBuy()
	req.Price = 94000.3
	req.Size = 0.0123
	assert.NoError(t, ValidateOrder(req, testMarket()))
}

func TestSizeBounds(t *testing.T) {
	req := limitBuy()
	req.Size = 0.0005
	errs := fieldErrors(t, ValidateOrder(req, testMarket()))
	fe, _ := errs.Field(FieldSize)
	assert.Equal(t, RuleMinSize, fe.Rule)

	req.Size = 2_000_000
	errs = fieldErrors(t, ValidateOrder(req, testMarket()))
	fe, _ = errs.Field(FieldSize)
	assert.Equal(t, RuleMaxSize, fe.Rule)
}

func TestLeverageRange(t *testing.T) {
	for _, lev := range []int{0, 51} {
		req := limitBuy()
		req.Leverage = lev
		errs := fieldErrors(t, ValidateOrder(req, testMarket()))
		fe, ok := errs.Field(FieldLeverage)
		require.True(t, ok)
		assert.Equal(t, RuleRange, fe.Rule)
	}
	req := limitBuy()
	req.Leverage = 50
	assert.NoError(t, ValidateOrder(req, testMarket()))
}

func TestMarginCheck(t *testing.T) {
	// 2 BTC at 94000 with 10x needs 18800 against 10000 available
	req := limitBuy()
	req.Size = 2
	errs := fieldErrors(t, ValidateOrder(req, testMarket()))
	fe, ok := errs.Field(FieldMargin)
	require.True(t, ok)
	assert.Equal(t, RuleInsufficient, fe.Rule)

	req.Leverage = 20
	assert.NoError(t, ValidateOrder(req, testMarket()))

	// market orders are priced at the current price
	mkt := models.OrderRequest{Coin: "BTC", Side: models.OrderSideSell, Type: models.OrderTypeMarket, Size: 1.1, Leverage: 10}
	errs = fieldErrors(t, ValidateOrder(mkt, testMarket()))
	assert.True(t, errs.Has(FieldMargin))

	noAccount := testMarket()
	noAccount.Account = nil
	assert.NoError(t, ValidateOrder(mkt, noAccount))
}

func TestStopOrdersNeedTrigger(t *testing.T) {
	req := limitBuy()
	req.Type = models.OrderTypeStopMarket
	req.Price = 0
	errs := fieldErrors(t, ValidateOrder(req, testMarket()))
	fe, ok := errs.Field(FieldStopPrice)
	require.True(t, ok)
	assert.Equal(t, RulePositive, fe.Rule)

	req.StopPrice = 96000
	assert.NoError(t, ValidateOrder(req, testMarket()))
}

func TestReduceOnly(t *testing.T) {
	m := testMarket()
	req := limitBuy()
	req.Side = models.OrderSideSell
	req.Price = 96000
	req.ReduceOnly = true

	errs := fieldErrors(t, ValidateOrder(req, m))
	fe, _ := errs.Field(FieldReduceOnly)
	assert.Equal(t, RuleNoPosition, fe.Rule)

	m.Position = &models.Position{Coin: "BTC", Side: models.PositionSideLong, Size: 0.05, EntryPrice: 90000}
	errs = fieldErrors(t, ValidateOrder(req, m))
	fe, _ = errs.Field(FieldReduceOnly)
	assert.Equal(t, RuleExceeds, fe.Rule)

	req.Size = 0.05
	assert.NoError(t, ValidateOrder(req, m))

	req.Side = models.OrderSideBuy
	req.Price = 94000
	errs = fieldErrors(t, ValidateOrder(req, m))
	assert.True(t, errs.Has(FieldReduceOnly))
}

func TestCoinChecks(t *testing.T) {
	req := limitBuy()
	req.Coin = "btc-perp"
	assert.NoError(t, ValidateOrder(req, testMarket()))

	req.Coin = "B1"
	errs := fieldErrors(t, ValidateOrder(req, testMarket()))
	fe, _ := errs.Field(FieldCoin)
	assert.Equal(t, RuleFormat, fe.Rule)

	req.Coin = "ETH"
	errs = fieldErrors(t, ValidateOrder(req, testMarket()))
	fe, _ = errs.Field(FieldCoin)
	assert.Equal(t, RuleUnavailable, fe.Rule)
}

func TestValidateModify(t *testing.T) {
	px, sz, zero := 95000.5, 0.2, 0.0

	assert.NoError(t, ValidateModify(models.ModifyRequest{OrderID: 7, Coin: "BTC", Price: &px}, btc))
	assert.NoError(t, ValidateModify(models.ModifyRequest{OrderID: 7, Coin: "BTC", Size: &sz}, btc))

	errs := fieldErrors(t, ValidateModify(models.ModifyRequest{OrderID: 7, Coin: "BTC"}, btc))
	assert.Equal(t, RuleRequired, errs[0].Rule)

	errs = fieldErrors(t, ValidateModify(models.ModifyRequest{OrderID: 7, Coin: "BTC", Price: &zero}, btc))
	assert.True(t, errs.Has(FieldPrice))

	errs = fieldErrors(t, ValidateModify(models.ModifyRequest{Coin: "BTC", Size: &sz}, btc))
	assert.True(t, errs.Has(FieldOrderID))
}

func TestValidationErrorsMessage(t *testing.T) {
	req := limitBuy()
	req.Price = 0
	req.Size = 0
	err := ValidateOrder(req, testMarket())
	assert.Contains(t, err.Error(), "price: price must be greater than 0")
	assert.Contains(t, err.Error(), "size: size must be greater than 0")
}
