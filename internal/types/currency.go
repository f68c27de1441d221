package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// currencyPrecision maps ISO currency codes to their minor-unit precision.
// Currencies not listed default to 2.
var currencyPrecision = map[string]int32{
	"usd": 2, "eur": 2, "gbp": 2, "aud": 2, "cad": 2, "inr": 2,
	"sar": 2, "aed": 2, "sgd": 2, "brl": 2, "mxn": 2, "chf": 2,
	"jpy": 0, "krw": 0, "vnd": 0, "clp": 0,
	"bhd": 3, "kwd": 3, "omr": 3, "tnd": 3,
}

// GetCurrencyPrecision returns the number of minor-unit decimals for a currency
func GetCurrencyPrecision(currency string) int32 {
	if p, ok := currencyPrecision[strings.ToLower(currency)]; ok {
		return p
	}
	return 2
}

// RoundToCurrencyPrecision rounds half-up to the currency's minor unit.
// Used for discounts and tax, which round at source before aggregation.
func RoundToCurrencyPrecision(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(GetCurrencyPrecision(currency))
}

// RoundBankersToCurrencyPrecision rounds half-to-even to the currency's minor
// unit. Proration credits and charges use banker's rounding so that repeated
// half-cent cases do not bias totals in either direction.
func RoundBankersToCurrencyPrecision(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.RoundBank(GetCurrencyPrecision(currency))
}
