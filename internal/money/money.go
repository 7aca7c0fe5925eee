// Package money fixes the monetary scales used across the engine.
//
// Fiat values carry 2 fractional digits, crypto values carry 8 (satoshi
// precision). Intermediate arithmetic runs at full decimal precision;
// rounding happens once, at the edges, with half-up semantics.
package money

import "github.com/shopspring/decimal"

const (
	// FiatScale is the number of fractional digits for fiat amounts.
	FiatScale int32 = 2
	// CryptoScale is the number of fractional digits for crypto amounts.
	CryptoScale int32 = 8
)

var (
	Zero    = decimal.Zero
	Hundred = decimal.NewFromInt(100)
)

// RoundFiat rounds to 2 decimal places, half away from zero.
func RoundFiat(d decimal.Decimal) decimal.Decimal {
	return d.Round(FiatScale)
}

// RoundCrypto rounds to 8 decimal places, half away from zero.
func RoundCrypto(d decimal.Decimal) decimal.Decimal {
	return d.Round(CryptoScale)
}

// ParseFiat parses a decimal string and normalizes it to fiat scale.
func ParseFiat(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundFiat(d), nil
}

// ParseCrypto parses a decimal string and normalizes it to crypto scale.
func ParseCrypto(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundCrypto(d), nil
}

// FiatString renders d with exactly 2 fractional digits.
func FiatString(d decimal.Decimal) string {
	return d.StringFixed(FiatScale)
}

// CryptoString renders d with exactly 8 fractional digits.
func CryptoString(d decimal.Decimal) string {
	return d.StringFixed(CryptoScale)
}
