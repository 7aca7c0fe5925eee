// Package escrow implements the balance mutation primitives of a trade's
// life: lock at creation, refund on cancel, split release on completion.
//
// Every operation is a read-modify-write against the caller's transactional
// balance store; the caller pairs it with the matching trade status write in
// the same transaction. A balance change without a status write (or the
// reverse) is a correctness violation, so the ledger never commits anything
// itself.
package escrow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"EscrowDesk/internal/trade"
)

// BalanceStore is the transactional view of user balances. Implementations
// must serialize concurrent access per user (row lock or equivalent) for the
// duration of the enclosing transaction.
type BalanceStore interface {
	// BalanceForUpdate reads a user's balance and holds it against
	// concurrent writers until the transaction ends.
	BalanceForUpdate(ctx context.Context, userID int64) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error
}

// Lock sets amount aside from userID's balance. Fails with
// ErrInsufficientEscrowBalance when the balance cannot cover it.
func Lock(ctx context.Context, s BalanceStore, userID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("escrow lock: negative amount %s", amount)
	}

	balance, err := s.BalanceForUpdate(ctx, userID)
	if err != nil {
		return fmt.Errorf("escrow lock: read balance for user %d: %w", userID, err)
	}
	if balance.LessThan(amount) {
		return trade.ErrInsufficientEscrow
	}
	if err := s.SetBalance(ctx, userID, balance.Sub(amount)); err != nil {
		return fmt.Errorf("escrow lock: write balance for user %d: %w", userID, err)
	}
	return nil
}

// Refund returns the full escrow amount to userID.
func Refund(ctx context.Context, s BalanceStore, userID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("escrow refund: negative amount %s", amount)
	}

	balance, err := s.BalanceForUpdate(ctx, userID)
	if err != nil {
		return fmt.Errorf("escrow refund: read balance for user %d: %w", userID, err)
	}
	if err := s.SetBalance(ctx, userID, balance.Add(amount)); err != nil {
		return fmt.Errorf("escrow refund: write balance for user %d: %w", userID, err)
	}
	return nil
}

// Release splits the escrow between the two parties: the buyer is credited
// buyerCredit, and whatever remains of the escrow returns to the seller. The
// two credits are one logical unit; both happen inside the caller's
// transaction or neither does.
//
// Balances are locked in ascending user id order so concurrent releases
// touching the same pair cannot deadlock.
func Release(ctx context.Context, s BalanceStore, escrowAmount, buyerCredit decimal.Decimal, buyerID, sellerID int64) error {
	if buyerCredit.IsNegative() {
		return fmt.Errorf("escrow release: negative buyer credit %s", buyerCredit)
	}

	sellerReturn := escrowAmount.Sub(buyerCredit)
	if sellerReturn.IsNegative() {
		sellerReturn = decimal.Zero
	}

	credits := map[int64]decimal.Decimal{buyerID: buyerCredit}
	order := []int64{buyerID}
	if sellerReturn.IsPositive() {
		credits[sellerID] = sellerReturn
		if sellerID < buyerID {
			order = []int64{sellerID, buyerID}
		} else {
			order = []int64{buyerID, sellerID}
		}
	}

	for _, userID := range order {
		balance, err := s.BalanceForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("escrow release: read balance for user %d: %w", userID, err)
		}
		if err := s.SetBalance(ctx, userID, balance.Add(credits[userID])); err != nil {
			return fmt.Errorf("escrow release: write balance for user %d: %w", userID, err)
		}
	}
	return nil
}

// SellerReturn is the seller's side of a release split for a given escrow and
// buyer credit. Exposed so callers can report the split without moving funds.
func SellerReturn(escrowAmount, buyerCredit decimal.Decimal) decimal.Decimal {
	r := escrowAmount.Sub(buyerCredit)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}
