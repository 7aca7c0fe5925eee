package pricing

import (
	"testing"

	"EscrowDesk/internal/money"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// Increasing the margin must strictly increase the effective price and
// strictly decrease the buyer's fiat side, for any market price and notional.
func TestProperty_MarginMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		priceCents := rapid.Int64Range(1_00, 10_000_000_00).Draw(t, "priceCents")
		fiatCents := rapid.Int64Range(1_00, 1_000_000_00).Draw(t, "fiatCents")
		// Margins in basis points, kept below 100% and far enough apart that
		// the 2dp output rounding cannot collapse the difference.
		loBps := rapid.Int64Range(-9000, 8000).Draw(t, "loBps")
		hiBps := loBps + rapid.Int64Range(500, 1000).Draw(t, "deltaBps")

		price := decimal.New(priceCents, -2)
		fiat := decimal.New(fiatCents, -2)
		lo := decimal.New(loBps, -2)
		hi := decimal.New(hiBps, -2)

		qLo := Compute(lo, price, fiat)
		qHi := Compute(hi, price, fiat)

		if !qHi.EffectivePrice.GreaterThan(qLo.EffectivePrice) {
			t.Fatalf("effective price not increasing: margin %s -> %s gave %s -> %s",
				lo, hi, qLo.EffectivePrice, qHi.EffectivePrice)
		}
		if !qHi.FiatAmountWithMargin.LessThan(qLo.FiatAmountWithMargin) {
			t.Fatalf("fiat with margin not decreasing: margin %s -> %s gave %s -> %s",
				lo, hi, qLo.FiatAmountWithMargin, qHi.FiatAmountWithMargin)
		}
	})
}

// Converting fiat to BTC and multiplying back by the market price must land
// within 8-decimal rounding tolerance of the original notional.
func TestProperty_ConvertRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		priceCents := rapid.Int64Range(1_00, 10_000_000_00).Draw(t, "priceCents")
		fiatCents := rapid.Int64Range(1, 1_000_000_00).Draw(t, "fiatCents")

		price := decimal.New(priceCents, -2)
		fiat := decimal.New(fiatCents, -2)

		btc := ConvertFiatToBTC(fiat, price)
		back := btc.Mul(price)

		// Half a unit in the 8th decimal place, scaled back through the price.
		tolerance := decimal.New(5, -(money.CryptoScale + 1)).Mul(price)
		diff := back.Sub(fiat).Abs()
		if diff.GreaterThan(tolerance) {
			t.Fatalf("round-trip drift %s exceeds tolerance %s (fiat=%s price=%s btc=%s)",
				diff, tolerance, fiat, price, btc)
		}
	})
}
