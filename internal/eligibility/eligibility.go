// Package eligibility evaluates the policy gate a trade request must clear
// before anything is priced or locked. All checks are read-only and strictly
// ordered; the first failing check wins.
package eligibility

import (
	"github.com/shopspring/decimal"

	"EscrowDesk/internal/money"
	"EscrowDesk/internal/offer"
	"EscrowDesk/internal/trade"
)

// HealthActive is the only account health value permitted to open trades.
const HealthActive = "active"

// Requester is the engine's read-only view of the user opening the trade.
type Requester struct {
	ID       int64
	Health   string
	Verified bool
	Name     string
}

// NetworkSignal carries the geolocation and network-reputation data attached
// to the inbound request by the edge.
type NetworkSignal struct {
	CountryISO string // empty when the country could not be resolved
	IsVPNOrTor bool
}

// Request bundles everything a single eligibility evaluation needs.
type Request struct {
	Requester      Requester
	Offer          *offer.Offer
	FiatAmount     decimal.Decimal
	CompletedCount int
	Network        NetworkSignal
}

// Check runs the ordered policy checks. It returns nil when the trade may
// proceed, or the first failing rule's error.
func Check(req Request) error {
	o := req.Offer

	if o == nil {
		return trade.ErrOfferNotFound
	}
	if !o.Tradable() {
		return trade.ErrOfferInactive
	}
	if req.Requester.ID == o.OwnerID {
		return trade.ErrSelfTrade
	}
	if req.Requester.Health != HealthActive {
		return &trade.AccountNotActiveError{Health: req.Requester.Health}
	}
	if o.Policy.Deauthorized {
		return trade.ErrOfferDeauthorized
	}
	if o.Policy.IDVerificationRequired && !req.Requester.Verified {
		return trade.ErrVerificationRequired
	}
	if o.Policy.FullNameRequired && len(req.Requester.Name) < 2 {
		return trade.ErrFullNameRequired
	}
	if err := checkBounds(req.FiatAmount, o); err != nil {
		return err
	}
	if o.Policy.NewTraderMinimumTrades > 0 && req.CompletedCount < o.Policy.NewTraderMinimumTrades {
		return trade.ErrInsufficientTradeHistory
	}
	if o.Policy.VPNBlocked && req.Network.IsVPNOrTor {
		return trade.ErrGeoRestricted
	}
	if !o.CountryPermitted(req.Network.CountryISO) {
		return trade.ErrGeoRestricted
	}

	return nil
}

// checkBounds applies the offer's fiat bounds. A bound of zero means the
// offer does not constrain that side.
func checkBounds(amount decimal.Decimal, o *offer.Offer) error {
	below := o.Minimum.IsPositive() && amount.LessThan(o.Minimum)
	above := o.Maximum.IsPositive() && amount.GreaterThan(o.Maximum)
	if below || above {
		return &trade.AmountOutOfBoundsError{
			Amount:  money.FiatString(amount),
			Minimum: money.FiatString(o.Minimum),
			Maximum: money.FiatString(o.Maximum),
		}
	}
	return nil
}
