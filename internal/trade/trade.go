// Package trade defines the central trade entity, its lifecycle statuses and
// the error catalogue the engine surfaces to callers.
package trade

import (
	"time"

	"github.com/shopspring/decimal"
)

// Party identifies which side of a trade performed an action.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

// CancelledNone is the annotation value of a trade that was never cancelled.
const CancelledNone = "NA"

// Trade is one instance of a buyer and seller transacting against an offer.
//
// BTCAmountOriginal is the escrow: it is locked out of the seller's balance
// at creation and is the sole source of truth for how much is held. It is
// released (or refunded) exactly once; EscrowReturn records that the move
// happened for the award/expiry settlement paths.
type Trade struct {
	ID        int64
	RequestID string // externally supplied idempotency key, unique

	OfferID  int64
	BuyerID  int64
	SellerID int64

	Currency string

	FiatAmountOriginal   decimal.Decimal // buyer's requested notional, 2dp
	FiatAmountWithMargin decimal.Decimal // what the buyer actually pays, 2dp
	BTCAmountOriginal    decimal.Decimal // escrow amount, 8dp
	BTCAmountWithMargin  decimal.Decimal // buyer credit on release, 8dp
	Price                decimal.Decimal // effective unit price after margin, 2dp

	Status Status

	Cancelled string // free-text reason, CancelledNone when not cancelled

	DisputeStarted     bool
	DisputeTime        *time.Time
	DisputeReason      string
	DisputeExplanation string
	DisputeStartedBy   Party
	DisputeModNotes    string
	DisputeTimeResolve *time.Time

	EscrowReturn bool

	ExpiryTime time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PartyOf reports which side userID is on, or false if not a participant.
func (t *Trade) PartyOf(userID int64) (Party, bool) {
	switch userID {
	case t.BuyerID:
		return PartyBuyer, true
	case t.SellerID:
		return PartySeller, true
	default:
		return "", false
	}
}

// Expired reports whether an OPENED trade has passed its expiry deadline.
func (t *Trade) Expired(now time.Time) bool {
	return t.Status == StatusOpened && now.After(t.ExpiryTime)
}
