package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRoundToCurrencyPrecision(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		expected string
	}{
		// discount and tax components round half up at source
		{"usd half cent rounds up", "9.905", "usd", "9.91"},
		{"usd below half cent rounds down", "21.494", "usd", "21.49"},
		{"uppercase code accepted", "10.275", "USD", "10.28"},
		{"jpy has no minor unit", "333.3", "jpy", "333"},
		{"jpy half yen rounds up", "1000.5", "jpy", "1001"},
		{"bhd keeps three decimals", "3.3333", "bhd", "3.333"},
		{"kwd half fils rounds up", "1.2345", "kwd", "1.235"},
		{"unknown currency defaults to two decimals", "5.555", "xts", "5.56"},
		{"exact amounts pass through", "89.10", "usd", "89.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToCurrencyPrecision(decimal.RequireFromString(tt.amount), tt.currency)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)),
				"rounded %s %s to %s, want %s", tt.amount, tt.currency, got, tt.expected)
		})
	}
}

func TestRoundBankersToCurrencyPrecision(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		expected string
	}{
		// proration credits and charges round half to even so repeated
		// half-cent cases do not bias totals
		{"half cent with even neighbor stays", "2.345", "usd", "2.34"},
		{"half cent with odd neighbor rounds up", "2.355", "usd", "2.36"},
		{"negative credit mirrors positive charge", "-2.345", "usd", "-2.34"},
		{"jpy half yen to even", "10.5", "jpy", "10"},
		{"jpy half yen to even rounds up", "11.5", "jpy", "12"},
		{"bhd half fils to even", "0.1235", "bhd", "0.124"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundBankersToCurrencyPrecision(decimal.RequireFromString(tt.amount), tt.currency)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)),
				"rounded %s %s to %s, want %s", tt.amount, tt.currency, got, tt.expected)
		})
	}
}

func TestGetCurrencyPrecision(t *testing.T) {
	assert.Equal(t, int32(2), GetCurrencyPrecision("usd"))
	assert.Equal(t, int32(0), GetCurrencyPrecision("JPY"))
	assert.Equal(t, int32(3), GetCurrencyPrecision("bhd"))
	// anything unmapped bills in cents
	assert.Equal(t, int32(2), GetCurrencyPrecision("xts"))
	assert.Equal(t, int32(2), GetCurrencyPrecision(""))
}
