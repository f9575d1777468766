// Package coupon holds the pure validate-and-discount rules consumed by
// checkout. Coupon management (creation, usage counters) lives elsewhere;
// this package only answers "what discount does this code give on this
// subtotal, if any".
package coupon

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercent DiscountType = "PERCENT"
	DiscountFixed   DiscountType = "FIXED"
)

type Rule struct {
	Code           string
	Type           DiscountType
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	ValidFrom      time.Time
	ValidUntil     time.Time
	Active         bool
}

type Validator struct {
	rules map[string]Rule
	now   func() time.Time
}

func NewValidator(rules []Rule) *Validator {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		m[strings.ToUpper(r.Code)] = r
	}
	return &Validator{rules: m, now: time.Now}
}

// Validate returns the discount amount for the code against the subtotal,
// or an error describing why the code does not apply. The discount never
// exceeds the subtotal.
func (v *Validator) Validate(code string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	rule, ok := v.rules[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid coupon code")
	}

	if !rule.Active {
		return decimal.Zero, fmt.Errorf("coupon is no longer active")
	}

	now := v.now()
	if !rule.ValidFrom.IsZero() && now.Before(rule.ValidFrom) {
		return decimal.Zero, fmt.Errorf("coupon is not yet valid")
	}
	if !rule.ValidUntil.IsZero() && now.After(rule.ValidUntil) {
		return decimal.Zero, fmt.Errorf("coupon has expired")
	}

	if rule.MinOrderAmount.IsPositive() && subtotal.LessThan(rule.MinOrderAmount) {
		return decimal.Zero, fmt.Errorf("minimum order amount of %s required", rule.MinOrderAmount.StringFixed(2))
	}

	var discount decimal.Decimal
	switch rule.Type {
	case DiscountPercent:
		discount = subtotal.Mul(rule.Value).Div(decimal.NewFromInt(100)).Round(2)
	case DiscountFixed:
		discount = rule.Value
	default:
		return decimal.Zero, fmt.Errorf("unknown discount type %q", rule.Type)
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	return discount, nil
}
