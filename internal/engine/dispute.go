package engine

import (
	"context"
	"fmt"

	"EscrowDesk/internal/escrow"
	"EscrowDesk/internal/trade"
)

// OpenDispute flags a trade for moderator review. Either party may open one
// from OPENED or PAID; a trade carries at most one open dispute.
func (m *Manager) OpenDispute(ctx context.Context, tradeID, callerID int64, reason, explanation string) (*trade.Trade, error) {
	return m.transition(ctx, tradeID, TriggerOpenDispute, EventTradeDisputed, func(tx Tx, t *trade.Trade) error {
		p, ok := t.PartyOf(callerID)
		if !ok {
			return trade.ErrNotParticipant
		}
		if !t.Status.Disputable() {
			return &trade.TransitionError{From: t.Status, Trigger: TriggerOpenDispute}
		}
		if t.DisputeStarted {
			return trade.ErrDisputeAlreadyOpen
		}

		now := m.clock.Now()
		t.Status = trade.StatusDisputed
		t.DisputeStarted = true
		t.DisputeTime = &now
		t.DisputeReason = reason
		t.DisputeExplanation = explanation
		t.DisputeStartedBy = p
		return nil
	})
}

// ResolveDispute closes a dispute with a moderator award. It only changes
// status and annotations; fund movement is the explicit follow-up
// SettleAward, so a moderator decision is never entangled with a balance
// write. Caller authorization (moderator role) is the controller's job.
func (m *Manager) ResolveDispute(ctx context.Context, tradeID int64, awardedTo trade.Party, modNotes string) (*trade.Trade, error) {
	if awardedTo != trade.PartyBuyer && awardedTo != trade.PartySeller {
		return nil, fmt.Errorf("resolve dispute: unknown award target %q", awardedTo)
	}

	return m.transition(ctx, tradeID, TriggerResolve, EventTradeResolved, func(tx Tx, t *trade.Trade) error {
		if !t.DisputeStarted {
			return trade.ErrNoDisputeExists
		}
		if t.Status != trade.StatusDisputed {
			return &trade.TransitionError{From: t.Status, Trigger: TriggerResolve}
		}

		now := m.clock.Now()
		if awardedTo == trade.PartyBuyer {
			t.Status = trade.StatusAwardedBuyer
		} else {
			t.Status = trade.StatusAwardedSeller
		}
		t.DisputeStarted = false
		t.DisputeTimeResolve = &now
		t.DisputeModNotes = modNotes
		return nil
	})
}

// SettleAward moves the escrow according to a resolved dispute's award: a
// buyer award pays out exactly like a normal release, a seller award refunds
// the full escrow. Guarded by escrow_return, so it settles at most once.
func (m *Manager) SettleAward(ctx context.Context, tradeID int64) (*trade.Trade, error) {
	t, err := m.transition(ctx, tradeID, TriggerSettleAward, EventTradeSettled, func(tx Tx, t *trade.Trade) error {
		if t.Status != trade.StatusAwardedBuyer && t.Status != trade.StatusAwardedSeller {
			return &trade.TransitionError{From: t.Status, Trigger: TriggerSettleAward}
		}
		if t.EscrowReturn {
			return trade.ErrEscrowAlreadySettled
		}

		if t.Status == trade.StatusAwardedBuyer {
			if err := escrow.Release(ctx, tx, t.BTCAmountOriginal, t.BTCAmountWithMargin, t.BuyerID, t.SellerID); err != nil {
				return err
			}
		} else {
			if err := escrow.Refund(ctx, tx, t.SellerID, t.BTCAmountOriginal); err != nil {
				return err
			}
		}
		t.EscrowReturn = true
		return nil
	})
	if err == nil && m.metrics != nil {
		m.metrics.EscrowReleases.Inc()
	}
	return t, err
}
