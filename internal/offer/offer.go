// Package offer defines the standing listing a trade is created against.
// Offers are owned by the listing subsystem; the engine reads them and never
// writes them.
package offer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the trade direction of an offer from the owner's perspective.
type Direction string

const (
	// DirectionSell: the offer owner sells crypto; the requester is the buyer.
	DirectionSell Direction = "sell"
	// DirectionBuy: the offer owner buys crypto; the requester is the seller.
	DirectionBuy Direction = "buy"
)

// Status is the listing status of an offer.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusPaused   Status = "paused"
)

// CountryMode selects how the country list on an offer is interpreted.
type CountryMode string

const (
	CountryModeNone    CountryMode = "none"
	CountryModeBlocked CountryMode = "blocked"
	CountryModeAllowed CountryMode = "allowed"
)

// Policy is the eligibility policy bundle attached to an offer.
type Policy struct {
	Deauthorized           bool
	IDVerificationRequired bool
	FullNameRequired       bool
	NewTraderMinimumTrades int
	VPNBlocked             bool
	CountryMode            CountryMode
	Countries              []string // ISO codes, meaning depends on CountryMode
}

// Offer is a standing listing. Read-only to the engine.
type Offer struct {
	ID        int64
	OwnerID   int64
	Direction Direction
	Currency  string // fiat currency code, e.g. "USD"

	// Margin is a signed percentage applied to the market rate.
	// -5 means the owner trades 5% below market.
	Margin decimal.Decimal

	// Fiat bounds for a single trade. Zero means no bound.
	Minimum decimal.Decimal
	Maximum decimal.Decimal

	Active bool
	Status Status
	Policy Policy

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tradable reports whether the offer can currently accept new trades.
func (o *Offer) Tradable() bool {
	return o.Active && o.Status == StatusActive
}

// CountryPermitted applies the offer's country list to a resolved ISO code.
// Unknown (empty) countries are always permitted; the list only applies when
// the caller's country could be resolved.
func (o *Offer) CountryPermitted(iso string) bool {
	if iso == "" || o.Policy.CountryMode == CountryModeNone {
		return true
	}

	listed := false
	for _, c := range o.Policy.Countries {
		if c == iso {
			listed = true
			break
		}
	}

	switch o.Policy.CountryMode {
	case CountryModeAllowed:
		return listed
	case CountryModeBlocked:
		return !listed
	default:
		return true
	}
}
