// Package engine implements the trade lifecycle state machine and the
// balance-ledger movements that accompany each transition.
//
// All collaborators are injected at construction; the engine holds no global
// state and never reads the wall clock directly. Every transition runs inside
// one store transaction: the trade status write and any escrow movement
// commit together or roll back together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"EscrowDesk/internal/eligibility"
	"EscrowDesk/internal/escrow"
	"EscrowDesk/internal/money"
	"EscrowDesk/internal/observability"
	"EscrowDesk/internal/offer"
	"EscrowDesk/internal/pricing"
	"EscrowDesk/internal/trade"
)

// Transition trigger names, used in errors, logs and metrics.
const (
	TriggerCreate        = "create"
	TriggerMarkPaid      = "mark_paid"
	TriggerCancel        = "cancel"
	TriggerOpenDispute   = "open_dispute"
	TriggerResolve       = "resolve_dispute"
	TriggerRelease       = "release_crypto"
	TriggerReopen        = "reopen"
	TriggerExpire        = "expire"
	TriggerSettleAward   = "settle_award"
	TriggerRefundExpired = "refund_expired"
)

// Config carries the engine's tunables.
type Config struct {
	// TradeWindow is how long an OPENED trade stays open before the system
	// may expire it.
	TradeWindow time.Duration
	// DedupCacheSize bounds the in-process request-id LRU.
	DedupCacheSize int
}

// Manager is the trade lifecycle engine.
type Manager struct {
	store   Store
	offers  OfferLookup
	users   UserDirectory
	oracle  PriceOracle
	history TradeHistory
	clock   Clock
	sink    EventSink

	window  time.Duration
	deduper *requestDeduper

	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewManager wires the engine with its collaborators. sink and metrics may be
// nil; the engine then runs without outbound events or instrumentation.
func NewManager(
	cfg Config,
	store Store,
	offers OfferLookup,
	users UserDirectory,
	oracle PriceOracle,
	history TradeHistory,
	clock Clock,
	sink EventSink,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Manager {
	capacity := cfg.DedupCacheSize
	if capacity <= 0 {
		capacity = 100_000
	}
	window := cfg.TradeWindow
	if window <= 0 {
		window = 90 * time.Minute
	}

	return &Manager{
		store:   store,
		offers:  offers,
		users:   users,
		oracle:  oracle,
		history: history,
		clock:   clock,
		sink:    sink,
		window:  window,
		deduper: newRequestDeduper(capacity, store),
		log:     log,
		metrics: metrics,
	}
}

// CreateRequest is the input for opening a trade against an offer.
type CreateRequest struct {
	RequestID   string
	OfferID     int64
	RequesterID int64
	FiatAmount  decimal.Decimal
	Network     eligibility.NetworkSignal
}

// Create validates eligibility, prices the trade, locks the escrow out of the
// seller's balance and persists the new trade in OPENED state.
//
// Eligibility and the price fetch complete before any lock is taken, so a
// slow oracle never holds a balance row.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*trade.Trade, error) {
	start := m.clock.Now()

	if req.RequestID == "" {
		return nil, fmt.Errorf("create: empty request_id")
	}
	if !req.FiatAmount.IsPositive() {
		return nil, fmt.Errorf("create: fiat amount must be positive, got %s", req.FiatAmount)
	}

	if dup, tier := m.deduper.IsDuplicate(ctx, req.RequestID); dup {
		if m.metrics != nil {
			m.metrics.DuplicateRequests.WithLabelValues(tier).Inc()
		}
		m.log.Info().Str("request_id", req.RequestID).Str("tier", tier).Msg("duplicate create rejected")
		return nil, trade.ErrDuplicateRequestID
	}

	o, err := m.offers.OfferByID(ctx, req.OfferID)
	if err != nil {
		return nil, m.reject(TriggerCreate, err)
	}

	requester, err := m.users.UserByID(ctx, req.RequesterID)
	if err != nil {
		return nil, m.reject(TriggerCreate, err)
	}

	completed, err := m.history.CompletedCount(ctx, req.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("create: trade history for user %d: %w", req.RequesterID, err)
	}

	fiat := money.RoundFiat(req.FiatAmount)
	if err := eligibility.Check(eligibility.Request{
		Requester:      requester,
		Offer:          o,
		FiatAmount:     fiat,
		CompletedCount: completed,
		Network:        req.Network,
	}); err != nil {
		return nil, m.reject(TriggerCreate, err)
	}

	marketPrice, err := m.oracle.Price(ctx, o.Currency)
	if err != nil {
		return nil, m.reject(TriggerCreate, err)
	}

	quote := pricing.Compute(o.Margin, marketPrice, fiat)
	escrowAmount := pricing.ConvertFiatToBTC(fiat, marketPrice)

	buyerID, sellerID := parties(o, req.RequesterID)
	now := m.clock.Now()

	t := &trade.Trade{
		RequestID:            req.RequestID,
		OfferID:              o.ID,
		BuyerID:              buyerID,
		SellerID:             sellerID,
		Currency:             o.Currency,
		FiatAmountOriginal:   fiat,
		FiatAmountWithMargin: quote.FiatAmountWithMargin,
		BTCAmountOriginal:    escrowAmount,
		BTCAmountWithMargin:  quote.BTCAmountWithMargin,
		Price:                quote.EffectivePrice,
		Status:               trade.StatusOpened,
		Cancelled:            trade.CancelledNone,
		ExpiryTime:           now.Add(m.window),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err = m.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertTrade(ctx, t); err != nil {
			return err
		}
		return escrow.Lock(ctx, tx, sellerID, escrowAmount)
	})
	if err != nil {
		return nil, m.reject(TriggerCreate, err)
	}

	m.deduper.Mark(req.RequestID)
	m.observe(TriggerCreate, start)
	if m.metrics != nil {
		m.metrics.TradesCreated.Inc()
		m.metrics.EscrowLocks.Inc()
	}
	m.log.Info().
		Int64("trade_id", t.ID).
		Int64("offer_id", o.ID).
		Int64("buyer_id", buyerID).
		Int64("seller_id", sellerID).
		Str("escrow", money.CryptoString(escrowAmount)).
		Str("fiat", money.FiatString(fiat)).
		Msg("trade opened")
	m.emit(ctx, EventTradeCreated, t)

	return t, nil
}

// MarkPaid records the buyer's off-platform payment. OPENED → PAID.
func (m *Manager) MarkPaid(ctx context.Context, tradeID, callerID int64) (*trade.Trade, error) {
	return m.transition(ctx, tradeID, TriggerMarkPaid, EventTradePaid, func(tx Tx, t *trade.Trade) error {
		if p, ok := t.PartyOf(callerID); !ok || p != trade.PartyBuyer {
			return trade.ErrNotParticipant
		}
		if t.Status != trade.StatusOpened {
			return &trade.TransitionError{From: t.Status, Trigger: TriggerMarkPaid}
		}
		t.Status = trade.StatusPaid
		return nil
	})
}

// Cancel aborts an OPENED trade and refunds the full escrow to the seller.
// The resulting status names the initiator.
func (m *Manager) Cancel(ctx context.Context, tradeID, callerID int64, reason string) (*trade.Trade, error) {
	t, err := m.transition(ctx, tradeID, TriggerCancel, EventTradeCancelled, func(tx Tx, t *trade.Trade) error {
		p, ok := t.PartyOf(callerID)
		if !ok {
			return trade.ErrNotParticipant
		}
		if t.Status != trade.StatusOpened {
			return &trade.TransitionError{From: t.Status, Trigger: TriggerCancel}
		}

		if err := escrow.Refund(ctx, tx, t.SellerID, t.BTCAmountOriginal); err != nil {
			return err
		}

		if p == trade.PartyBuyer {
			t.Status = trade.StatusCancelledBuyer
		} else {
			t.Status = trade.StatusCancelledSeller
		}
		if reason == "" {
			reason = "cancelled by " + string(p)
		}
		t.Cancelled = reason
		return nil
	})
	if err == nil && m.metrics != nil {
		m.metrics.EscrowRefunds.Inc()
	}
	return t, err
}

// ReleaseCrypto completes a PAID trade: the buyer receives the margined
// amount and the seller gets back the remainder of the escrow. Seller only.
func (m *Manager) ReleaseCrypto(ctx context.Context, tradeID, callerID int64) (*trade.Trade, error) {
	t, err := m.transition(ctx, tradeID, TriggerRelease, EventTradeReleased, func(tx Tx, t *trade.Trade) error {
		if p, ok := t.PartyOf(callerID); !ok || p != trade.PartySeller {
			return trade.ErrNotParticipant
		}
		if t.Status != trade.StatusPaid {
			return &trade.TransitionError{From: t.Status, Trigger: TriggerRelease}
		}

		if err := escrow.Release(ctx, tx, t.BTCAmountOriginal, t.BTCAmountWithMargin, t.BuyerID, t.SellerID); err != nil {
			return err
		}
		t.Status = trade.StatusSuccessful
		return nil
	})
	if err == nil && m.metrics != nil {
		m.metrics.EscrowReleases.Inc()
	}
	return t, err
}

// Reopen takes a buyer- or seller-cancelled trade back to OPENED, re-locking
// the escrow from the seller and granting a fresh expiry window.
func (m *Manager) Reopen(ctx context.Context, tradeID, callerID int64) (*trade.Trade, error) {
	t, err := m.transition(ctx, tradeID, TriggerReopen, EventTradeReopened, func(tx Tx, t *trade.Trade) error {
		if _, ok := t.PartyOf(callerID); !ok {
			return trade.ErrNotParticipant
		}
		if !t.Status.Reopenable() {
			return &trade.TransitionError{From: t.Status, Trigger: TriggerReopen}
		}

		if err := escrow.Lock(ctx, tx, t.SellerID, t.BTCAmountOriginal); err != nil {
			return err
		}
		t.Status = trade.StatusOpened
		t.Cancelled = trade.CancelledNone
		t.ExpiryTime = m.clock.Now().Add(m.window)
		return nil
	})
	if err == nil && m.metrics != nil {
		m.metrics.EscrowLocks.Inc()
	}
	return t, err
}

// Expire moves an OPENED trade past its deadline to CANCELLED_SYSTEM. Called
// by the periodic sweep; expiring an already-expired trade is a no-op, so the
// sweep can safely revisit trades.
//
// Unlike a party-initiated cancel, expiry moves no funds: the escrow stays
// locked until RefundExpired settles it. Expiries that leave escrow locked
// log at warn so operators can find them.
func (m *Manager) Expire(ctx context.Context, tradeID int64) (*trade.Trade, error) {
	var noop bool
	t, err := m.transition(ctx, tradeID, TriggerExpire, EventTradeExpired, func(tx Tx, t *trade.Trade) error {
		if t.Status == trade.StatusCancelledSystem {
			noop = true
			return nil
		}
		if t.Status != trade.StatusOpened {
			return &trade.TransitionError{From: t.Status, Trigger: TriggerExpire}
		}
		if !t.Expired(m.clock.Now()) {
			return &trade.TransitionError{From: t.Status, Trigger: TriggerExpire}
		}
		t.Status = trade.StatusCancelledSystem
		t.Cancelled = "expired by system"
		return nil
	})
	if err == nil && !noop {
		m.log.Warn().
			Int64("trade_id", t.ID).
			Str("escrow", money.CryptoString(t.BTCAmountOriginal)).
			Msg("trade expired with escrow still locked")
	}
	return t, err
}

// RefundExpired returns the escrow of a system-cancelled trade to the seller.
// The escrow_return marker guards it: the escrow moves at most once.
func (m *Manager) RefundExpired(ctx context.Context, tradeID int64) (*trade.Trade, error) {
	t, err := m.transition(ctx, tradeID, TriggerRefundExpired, EventTradeRefunded, func(tx Tx, t *trade.Trade) error {
		if t.Status != trade.StatusCancelledSystem {
			return &trade.TransitionError{From: t.Status, Trigger: TriggerRefundExpired}
		}
		if t.EscrowReturn {
			return trade.ErrEscrowAlreadySettled
		}

		if err := escrow.Refund(ctx, tx, t.SellerID, t.BTCAmountOriginal); err != nil {
			return err
		}
		t.EscrowReturn = true
		return nil
	})
	if err == nil && m.metrics != nil {
		m.metrics.EscrowRefunds.Inc()
	}
	return t, err
}

// Delete is the administrative escape hatch: a hard delete that bypasses the
// state machine entirely and moves no funds.
func (m *Manager) Delete(ctx context.Context, tradeID int64) error {
	m.log.Warn().Int64("trade_id", tradeID).Msg("administrative hard delete")
	return m.store.DeleteTrade(ctx, tradeID)
}

// --- Reads ---

func (m *Manager) FindByID(ctx context.Context, id int64) (*trade.Trade, error) {
	return m.store.TradeByID(ctx, id)
}

func (m *Manager) FindByRequestID(ctx context.Context, requestID string) (*trade.Trade, error) {
	return m.store.TradeByRequestID(ctx, requestID)
}

func (m *Manager) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]*trade.Trade, error) {
	return m.store.TradesForUser(ctx, userID, limit, offset)
}

func (m *Manager) Filter(ctx context.Context, f trade.Filter) ([]*trade.Trade, error) {
	return m.store.FilterTrades(ctx, f)
}

// --- Internals ---

// transition runs one guarded state change: row lock, guard, mutate, CAS
// write. The mutation callback performs any escrow movement on the same tx.
func (m *Manager) transition(ctx context.Context, tradeID int64, trigger, event string, fn func(tx Tx, t *trade.Trade) error) (*trade.Trade, error) {
	start := m.clock.Now()

	var result *trade.Trade
	err := m.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TradeForUpdate(ctx, tradeID)
		if err != nil {
			return err
		}

		prev := t.Status
		if err := fn(tx, t); err != nil {
			return err
		}

		t.UpdatedAt = m.clock.Now()
		if err := tx.UpdateTrade(ctx, t, prev); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, m.reject(trigger, err)
	}

	m.observe(trigger, start)
	m.log.Info().
		Int64("trade_id", result.ID).
		Str("trigger", trigger).
		Str("status", string(result.Status)).
		Msg("trade transition")
	m.emit(ctx, event, result)

	return result, nil
}

// parties derives buyer and seller from the offer direction: a sell offer's
// owner is the seller, a buy offer's owner is the buyer.
func parties(o *offer.Offer, requesterID int64) (buyerID, sellerID int64) {
	if o.Direction == offer.DirectionBuy {
		return o.OwnerID, requesterID
	}
	return requesterID, o.OwnerID
}

// reject records the outcome of a failed operation. Expected caller-facing
// rejections log at info; anything else is an infrastructure failure.
func (m *Manager) reject(trigger string, err error) error {
	outcome := "error"
	if callerFacing(err) {
		outcome = "rejected"
		m.log.Info().Str("trigger", trigger).Err(err).Msg("operation rejected")
	} else {
		m.log.Error().Str("trigger", trigger).Err(err).Msg("operation failed")
	}
	if m.metrics != nil {
		m.metrics.Transitions.WithLabelValues(trigger, outcome).Inc()
	}
	return err
}

func (m *Manager) observe(trigger string, start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.Transitions.WithLabelValues(trigger, "ok").Inc()
	m.metrics.TransitionDuration.WithLabelValues(trigger).Observe(m.clock.Now().Sub(start).Seconds())
}

func (m *Manager) emit(ctx context.Context, event string, t *trade.Trade) {
	if m.sink == nil {
		return
	}
	m.sink.Publish(ctx, Event{Type: event, Trade: t})
}

// callerFacing reports whether err is one of the expected, recoverable
// rejection kinds rather than an infrastructure failure.
func callerFacing(err error) bool {
	for _, sentinel := range []error{
		trade.ErrOfferNotFound, trade.ErrOfferInactive, trade.ErrSelfTrade,
		trade.ErrAccountNotActive, trade.ErrOfferDeauthorized,
		trade.ErrVerificationRequired, trade.ErrFullNameRequired,
		trade.ErrAmountOutOfBounds, trade.ErrInsufficientTradeHistory,
		trade.ErrGeoRestricted, trade.ErrDuplicateRequestID,
		trade.ErrPriceUnavailable, trade.ErrInsufficientEscrow,
		trade.ErrInvalidStateTransition, trade.ErrNotParticipant,
		trade.ErrDisputeAlreadyOpen, trade.ErrNoDisputeExists,
		trade.ErrTradeNotFound, trade.ErrUserNotFound,
		trade.ErrEscrowAlreadySettled,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
