package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"EscrowDesk/internal/eligibility"
	"EscrowDesk/internal/escrow"
	"EscrowDesk/internal/offer"
	"EscrowDesk/internal/trade"
)

// OfferLookup resolves the offer a trade is created against.
// Returns trade.ErrOfferNotFound for unknown ids.
type OfferLookup interface {
	OfferByID(ctx context.Context, id int64) (*offer.Offer, error)
}

// UserDirectory is the engine's read-only view of the account subsystem.
// Returns trade.ErrUserNotFound for unknown ids.
type UserDirectory interface {
	UserByID(ctx context.Context, id int64) (eligibility.Requester, error)
}

// PriceOracle quotes the current unit price of the asset in a fiat currency.
// Failures surface as trade.ErrPriceUnavailable; the engine does not retry.
type PriceOracle interface {
	Price(ctx context.Context, currency string) (decimal.Decimal, error)
}

// TradeHistory counts a user's completed trades for new-trader policy checks.
type TradeHistory interface {
	CompletedCount(ctx context.Context, userID int64) (int, error)
}

// Clock is the engine's time source. Injected so transitions are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock Clock used in production wiring.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Tx is one transactional scope: the trade write and any balance mutation it
// triggers commit together or not at all.
type Tx interface {
	escrow.BalanceStore

	// TradeForUpdate reads a trade and holds its row against concurrent
	// transitions until the transaction ends.
	TradeForUpdate(ctx context.Context, id int64) (*trade.Trade, error)

	// InsertTrade persists a new trade and assigns its id. A request_id
	// collision returns trade.ErrDuplicateRequestID.
	InsertTrade(ctx context.Context, t *trade.Trade) error

	// UpdateTrade writes t guarded by a compare-and-swap on the status the
	// transaction read. A stale status returns trade.ErrInvalidStateTransition.
	UpdateTrade(ctx context.Context, t *trade.Trade, expected trade.Status) error
}

// Store is the engine's persistence contract.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	TradeByID(ctx context.Context, id int64) (*trade.Trade, error)
	TradeByRequestID(ctx context.Context, requestID string) (*trade.Trade, error)
	TradesForUser(ctx context.Context, userID int64, limit, offset int) ([]*trade.Trade, error)
	FilterTrades(ctx context.Context, f trade.Filter) ([]*trade.Trade, error)

	// ExpiredOpenTradeIDs lists OPENED trades whose expiry_time has passed,
	// for the periodic sweep.
	ExpiredOpenTradeIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)

	// DeleteTrade is the administrative escape hatch: a hard row delete that
	// bypasses the state machine and moves no funds.
	DeleteTrade(ctx context.Context, id int64) error
}

// Event is an outbound lifecycle notification emitted after a commit.
type Event struct {
	Type  string
	Trade *trade.Trade
}

// Outbound event types.
const (
	EventTradeCreated   = "created"
	EventTradePaid      = "paid"
	EventTradeCancelled = "cancelled"
	EventTradeDisputed  = "disputed"
	EventTradeResolved  = "resolved"
	EventTradeReleased  = "released"
	EventTradeReopened  = "reopened"
	EventTradeExpired   = "expired"
	EventTradeSettled   = "settled"
	EventTradeRefunded  = "refunded"
)

// EventSink receives post-commit lifecycle events. Implementations must not
// block the caller; delivery is best effort.
type EventSink interface {
	Publish(ctx context.Context, evt Event)
}
