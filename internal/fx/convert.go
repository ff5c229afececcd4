package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource returns how many units of currency buy one unit of the company
// currency on date. Missing rates are reported with ok=false.
type RateSource interface {
	RateOn(ctx context.Context, companyID int64, currency string, date time.Time) (rate decimal.Decimal, ok bool, err error)
}

// ErrInvalidRate indicates a stored rate that cannot be used for conversion.
var ErrInvalidRate = errors.New("fx: rate must be positive")

// zeroDecimalCurrencies lists ISO currencies without minor units.
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {},
	"KRW": {},
	"CLP": {},
	"VND": {},
	"ISK": {},
}

// Precision returns the number of decimals amounts in currency are rounded to.
func Precision(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return 0
	}
	return 2
}

// Round rounds amount to the precision of currency.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(Precision(currency))
}

// Converter converts amounts between currencies using company-scoped rates.
type Converter struct {
	rates RateSource
}

// NewConverter constructs a converter instance.
func NewConverter(rates RateSource) *Converter {
	return &Converter{rates: rates}
}

// Convert converts amount from one currency to another at date and rounds the
// result to the target currency. A currency without a stored rate counts as
// the company currency (rate 1).
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, companyID int64, date time.Time) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to || amount.IsZero() {
		return Round(amount, to), nil
	}
	if c == nil || c.rates == nil {
		return decimal.Zero, errors.New("fx: rate source required")
	}
	fromRate, err := c.rate(ctx, companyID, from, date)
	if err != nil {
		return decimal.Zero, err
	}
	toRate, err := c.rate(ctx, companyID, to, date)
	if err != nil {
		return decimal.Zero, err
	}
	converted := amount.Mul(toRate).DivRound(fromRate, 12)
	return Round(converted, to), nil
}

func (c *Converter) rate(ctx context.Context, companyID int64, currency string, date time.Time) (decimal.Decimal, error) {
	rate, ok, err := c.rates.RateOn(ctx, companyID, currency, date)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fx: rate %s: %w", currency, err)
	}
	if !ok {
		return decimal.NewFromInt(1), nil
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s=%s", ErrInvalidRate, currency, rate)
	}
	return rate, nil
}
