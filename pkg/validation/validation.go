// Package validation holds the order-entry business rules. Nothing reaches
// the transport client unless it passes here.
package validation

import (
	"fmt"
	"math"
	"regexp"

	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/shopspring/decimal"
)

// MaxOrderSize is the largest size the backend accepts in one order.
const MaxOrderSize = 1_000_000

var coinPattern = regexp.MustCompile(`^[A-Z]{2,10}$`)

// Market is what the validator needs to know about the market the order
// targets. Book, Account and Position may be nil when not loaded; the
// checks depending on them are then skipped.
type Market struct {
	Asset        models.Asset
	Book         *models.OrderBook
	Account      *models.AccountState
	Position     *models.Position
	CurrentPrice float64
}

// PriceIncrement is the tick size of asset.
func PriceIncrement(asset models.Asset) decimal.Decimal {
	return decimal.New(1, -int32(asset.PxDecimals))
}

// SizeIncrement is the lot size of asset.
func SizeIncrement(asset models.Asset) decimal.Decimal {
	return decimal.New(1, -int32(asset.SzDecimals))
}

func aligned(v float64, decimals int) bool {
	d := decimal.NewFromFloat(v)
	return d.Equal(d.Truncate(int32(decimals)))
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// ValidateOrder checks req against every order-entry rule and returns
// ValidationErrors listing all violations, or nil.
func ValidateOrder(req models.OrderRequest, m Market) error {
	var errs ValidationErrors
	add := func(field, rule, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	coin := models.NormalizeCoin(req.Coin)
	switch {
	case coin == "":
		add(FieldCoin, RuleRequired, "coin is required")
	case !coinPattern.MatchString(coin):
		add(FieldCoin, RuleFormat, "coin %q must be 2 to 10 capital letters", req.Coin)
	case models.NormalizeCoin(m.Asset.Coin) != coin:
		add(FieldCoin, RuleUnavailable, "unknown asset %s", coin)
		return errs.err()
	}

	if req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell {
		add(FieldSide, RuleUnsupported, "side must be buy or sell")
	}
	if !req.Type.Valid() {
		add(FieldOrderType, RuleUnsupported, "unsupported order type %q", req.Type)
		return errs.err()
	}
	if req.TimeInForce != "" && !req.TimeInForce.Valid() {
		add(FieldTIF, RuleUnsupported, "unsupported time in force %q", req.TimeInForce)
	}

	asset := m.Asset
	sizeOK := false
	switch {
	case !positive(req.Size):
		add(FieldSize, RulePositive, "size must be greater than 0")
	case !aligned(req.Size, asset.SzDecimals):
		add(FieldSize, RuleIncrement, "size must be a multiple of %s", SizeIncrement(asset))
	case req.Size < asset.MinSize:
		add(FieldSize, RuleMinSize, "size must be at least %g", asset.MinSize)
	case req.Size > MaxOrderSize:
		add(FieldSize, RuleMaxSize, "size must be at most %d", MaxOrderSize)
	default:
		sizeOK = true
	}

	priceOK := false
	if req.Type.HasLimitPrice() {
		switch {
		case !positive(req.Price):
			add(FieldPrice, RulePositive, "price must be greater than 0")
		case !aligned(req.Price, asset.PxDecimals):
			add(FieldPrice, RuleIncrement, "price must be a multiple of %s", PriceIncrement(asset))
		default:
			priceOK = true
		}
	}
	if req.Type.IsStop() {
		switch {
		case !positive(req.StopPrice):
			add(FieldStopPrice, RulePositive, "stop orders need a trigger price greater than 0")
		case !aligned(req.StopPrice, asset.PxDecimals):
			add(FieldStopPrice, RuleIncrement, "trigger price must be a multiple of %s", PriceIncrement(asset))
		}
	}

	leverageOK := false
	switch {
	case req.Leverage < 1:
		add(FieldLeverage, RuleRange, "leverage must be at least 1")
	case asset.MaxLeverage > 0 && req.Leverage > asset.MaxLeverage:
		add(FieldLeverage, RuleRange, "leverage must be between 1 and %d", asset.MaxLeverage)
	default:
		leverageOK = true
	}

	if req.PostOnly {
		switch {
		case req.Type != models.OrderTypeLimit:
			add(FieldPostOnly, RuleUnsupported, "post-only is only available for limit orders")
		case req.TimeInForce == models.TimeInForceIOC || req.TimeInForce == models.TimeInForceFOK:
			add(FieldPostOnly, RuleUnsupported, "post-only cannot be combined with %s", req.TimeInForce)
		case priceOK:
			if fe, crossed := checkCross(req, m.Book, PriceIncrement(asset)); crossed {
				errs = append(errs, fe)
			}
		}
	}

	if req.ReduceOnly {
		pos := m.Position
		switch {
		case pos == nil || pos.Size <= 0:
			add(FieldReduceOnly, RuleNoPosition, "reduce-only needs an open position in %s", coin)
		case (pos.Side == models.PositionSideLong) == (req.Side == models.OrderSideBuy):
			add(FieldReduceOnly, RuleNoPosition, "reduce-only must trade against the open %s position", pos.Side)
		case sizeOK && req.Size > pos.Size:
			add(FieldReduceOnly, RuleExceeds, "size %g exceeds the position size %g", req.Size, pos.Size)
		}
	} else if sizeOK && leverageOK && m.Account != nil {
		px := referencePrice(req, m)
		if px > 0 {
			required := decimal.NewFromFloat(req.Size).
				Mul(decimal.NewFromFloat(px)).
				Div(decimal.NewFromInt(int64(req.Leverage)))
			available := decimal.NewFromFloat(m.Account.AvailableBalance)
			if required.GreaterThan(available) {
				add(FieldMargin, RuleInsufficient, "required margin %s exceeds available balance %s",
					required.StringFixed(2), available.StringFixed(2))
			}
		}
	}

	return errs.err()
}

// checkCross rejects a post-only price that would take liquidity. A buy must
// rest at least one tick below the best ask, a sell one tick above the best
// bid.
func checkCross(req models.OrderRequest, book *models.OrderBook, tick decimal.Decimal) (FieldError, bool) {
	px := decimal.NewFromFloat(req.Price)
	if req.Side == models.OrderSideBuy {
		ask, ok := book.BestAsk()
		if !ok {
			return FieldError{}, false
		}
		limit := decimal.NewFromFloat(ask.Price).Sub(tick)
		if px.GreaterThan(limit) {
			return FieldError{
				Field:   FieldPrice,
				Rule:    RuleCrossSpread,
				Message: fmt.Sprintf("post-only buy at %s would cross the spread (best ask %g)", px, ask.Price),
			}, true
		}
		return FieldError{}, false
	}
	bid, ok := book.BestBid()
	if !ok {
		return FieldError{}, false
	}
	limit := decimal.NewFromFloat(bid.Price).Add(tick)
	if px.LessThan(limit) {
		return FieldError{
			Field:   FieldPrice,
			Rule:    RuleCrossSpread,
			Message: fmt.Sprintf("post-only sell at %s would cross the spread (best bid %g)", px, bid.Price),
		}, true
	}
	return FieldError{}, false
}

// referencePrice is the price margin is computed at: the limit price when
// the order has one, else the trigger price, else the current market.
func referencePrice(req models.OrderRequest, m Market) float64 {
	if req.Type.HasLimitPrice() && req.Price > 0 {
		return req.Price
	}
	if req.Type.IsStop() && req.StopPrice > 0 {
		return req.StopPrice
	}
	if m.CurrentPrice > 0 {
		return m.CurrentPrice
	}
	return m.Book.MidPrice()
}

// ValidateModify checks a modify request against asset. At least one of
// price and size must change.
func ValidateModify(req models.ModifyRequest, asset models.Asset) error {
	var errs ValidationErrors
	add := func(field, rule, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	if req.OrderID <= 0 {
		add(FieldOrderID, RuleRequired, "order id is required")
	}
	if models.NormalizeCoin(req.Coin) != models.NormalizeCoin(asset.Coin) || asset.Coin == "" {
		add(FieldCoin, RuleUnavailable, "unknown asset %s", req.Coin)
		return errs.err()
	}
	if req.Price == nil && req.Size == nil {
		add(FieldPrice, RuleRequired, "a new price or size is required")
		return errs.err()
	}
	if req.Price != nil {
		switch {
		case !positive(*req.Price):
			add(FieldPrice, RulePositive, "price must be greater than 0")
		case !aligned(*req.Price, asset.PxDecimals):
			add(FieldPrice, RuleIncrement, "price must be a multiple of %s", PriceIncrement(asset))
		}
	}
	if req.Size != nil {
		switch {
		case !positive(*req.Size):
			add(FieldSize, RulePositive, "size must be greater than 0")
		case !aligned(*req.Size, asset.SzDecimals):
			add(FieldSize, RuleIncrement, "size must be a multiple of %s", SizeIncrement(asset))
		case *req.Size < asset.MinSize:
			add(FieldSize, RuleMinSize, "size must be at least %g", asset.MinSize)
		case *req.Size > MaxOrderSize:
			add(FieldSize, RuleMaxSize, "size must be at most %d", MaxOrderSize)
		}
	}
	return errs.err()
}
