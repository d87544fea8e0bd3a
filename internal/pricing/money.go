package pricing

import "github.com/shopspring/decimal"

const currencyPlaces = 2

var (
	hundred = decimal.NewFromInt(100)
	// MinorUnit is the smallest representable currency amount.
	MinorUnit = decimal.New(1, -currencyPlaces)
)

func RoundCurrency(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(currencyPlaces)
}

func clamp(amount decimal.Decimal, ceiling decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(ceiling) {
		return ceiling
	}
	return amount
}
