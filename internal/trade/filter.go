package trade

import "time"

// Filter is the criteria set for trade listing queries. Zero values mean
// "no constraint".
type Filter struct {
	Status   Status
	BuyerID  int64
	SellerID int64
	OfferID  int64

	DisputedOnly bool

	CreatedAfter  time.Time
	CreatedBefore time.Time

	Limit  int
	Offset int
}
