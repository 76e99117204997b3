package validation

import (
	"errors"
	"strings"
)

// Fields reported by FieldError.
const (
	FieldCoin       = "coin"
	FieldSide       = "side"
	FieldOrderType  = "orderType"
	FieldSize       = "size"
	FieldPrice      = "price"
	FieldStopPrice  = "stopPrice"
	FieldLeverage   = "leverage"
	FieldMargin     = "margin"
	FieldPostOnly   = "postOnly"
	FieldReduceOnly = "reduceOnly"
	FieldTIF        = "timeInForce"
	FieldOrderID    = "orderId"
)

// Rules reported by FieldError.
const (
	RuleRequired     = "required"
	RulePositive     = "positive"
	RuleIncrement    = "increment"
	RuleRange        = "range"
	RuleMinSize      = "min_size"
	RuleMaxSize      = "max_size"
	RuleFormat       = "format"
	RuleUnsupported  = "unsupported"
	RuleCrossSpread  = "cross_spread"
	RuleInsufficient = "insufficient_margin"
	RuleNoPosition   = "no_position"
	RuleExceeds      = "exceeds_position"
	RuleUnavailable  = "unavailable"
)

// FieldError names the form field and the rule it broke.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors is every rule an order broke, in form order.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Field returns the first error for field.
func (v ValidationErrors) Field(field string) (FieldError, bool) {
	for _, e := range v {
		if e.Field == field {
			return e, true
		}
	}
	return FieldError{}, false
}

func (v ValidationErrors) Has(field string) bool {
	_, ok := v.Field(field)
	return ok
}

func (v ValidationErrors) err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// AsValidationErrors unwraps err into the field list.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var v ValidationErrors
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
