package optimization

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount with currency
// =============================================================================

// DefaultCurrency is used when a cost model does not name one.
const DefaultCurrency = "SAR"

// Money uses decimal.Decimal so cost totals do not drift.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(value float64, currency string) Money {
	return Money{Amount: decimal.NewFromFloat(value), Currency: currency}
}

func MoneyFromDecimal(d decimal.Decimal, currency string) Money {
	return Money{Amount: d, Currency: currency}
}

// ParseMoney parses a decimal string such as "12500.50".
func ParseMoney(s, currency string) (Money, error) {
	if s == "" {
		return Money{Amount: decimal.Zero, Currency: currency}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

func ZeroMoney(currency string) Money { return Money{Amount: decimal.Zero, Currency: currency} }

// Add keeps the receiver's currency unless the receiver has none.
func (m Money) Add(o Money) Money {
	cur := m.Currency
	if cur == "" {
		cur = o.Currency
	}
	return Money{Amount: m.Amount.Add(o.Amount), Currency: cur}
}

func (m Money) Sub(o Money) Money {
	cur := m.Currency
	if cur == "" {
		cur = o.Currency
	}
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: cur}
}

func (m Money) MulFloat(f float64) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromFloat(f)), Currency: m.Currency}
}

func (m Money) Round(places int32) Money {
	return Money{Amount: m.Amount.Round(places), Currency: m.Currency}
}

func (m Money) Cmp(o Money) int { return m.Amount.Cmp(o.Amount) }
func (m Money) IsZero() bool { return m.Amount.IsZero() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }
func (m Money) LessThan(o Money) bool { return m.Amount.LessThan(o.Amount) }
func (m Money) GreaterThan(o Money) bool { return m.Amount.GreaterThan(o.Amount) }
func (m Money) Float64() float64 { return m.Amount.InexactFloat64() }
func (m Money) String() string { return m.Amount.StringFixed(2) + " " + m.Currency }

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Amount, Currency: m.Currency})
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var v moneyJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	m.Amount, m.Currency = v.Amount, v.Currency
	return nil
}
