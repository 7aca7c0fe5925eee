// Package pricing derives trade amounts from a live market rate and a
// per-offer margin. Pure computation, no state, no I/O.
package pricing

import (
	"EscrowDesk/internal/money"

	"github.com/shopspring/decimal"
)

// Quote is the priced view of a requested trade.
type Quote struct {
	// EffectivePrice is the unit price after the margin shift, 2dp.
	EffectivePrice decimal.Decimal
	// FiatAmountWithMargin is what the buyer actually pays, 2dp.
	FiatAmountWithMargin decimal.Decimal
	// BTCAmountWithMargin is the crypto credited to the buyer on release, 8dp.
	BTCAmountWithMargin decimal.Decimal
}

// Compute applies a signed margin percentage to a market price and a
// requested fiat notional.
//
// A negative margin discounts the price and inflates the buyer's fiat side; a
// positive margin does the opposite. The crypto credit is always derived from
// the unmodified market price: margin shifts the fiat side, not the
// conversion rate. The caller guarantees marketPrice > 0.
func Compute(margin, marketPrice, fiatAmount decimal.Decimal) Quote {
	pct := margin.Abs().Div(money.Hundred)

	var effectivePrice, fiatWithMargin decimal.Decimal
	if margin.IsNegative() {
		effectivePrice = marketPrice.Mul(decimal.NewFromInt(1).Sub(pct))
		fiatWithMargin = fiatAmount.Mul(decimal.NewFromInt(1).Add(pct))
	} else {
		effectivePrice = marketPrice.Mul(decimal.NewFromInt(1).Add(pct))
		fiatWithMargin = fiatAmount.Mul(decimal.NewFromInt(1).Sub(pct))
	}

	btcWithMargin := fiatWithMargin.Div(marketPrice)

	return Quote{
		EffectivePrice:       money.RoundFiat(effectivePrice),
		FiatAmountWithMargin: money.RoundFiat(fiatWithMargin),
		BTCAmountWithMargin:  money.RoundCrypto(btcWithMargin),
	}
}

// ConvertFiatToBTC converts a fiat amount at the unmargined market price,
// rounded to 8 decimals. This is the escrow amount: the seller's real cost,
// independent of the margin the buyer pays.
func ConvertFiatToBTC(fiatAmount, marketPrice decimal.Decimal) decimal.Decimal {
	return money.RoundCrypto(fiatAmount.Div(marketPrice))
}
