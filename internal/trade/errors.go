package trade

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller-facing rejections. The transport layer maps
// these to HTTP status codes; they are expected conditions, never retried.
var (
	ErrOfferNotFound            = errors.New("offer_not_found")
	ErrOfferInactive            = errors.New("offer_inactive")
	ErrSelfTrade                = errors.New("self_trade")
	ErrAccountNotActive         = errors.New("account_not_active")
	ErrOfferDeauthorized        = errors.New("offer_deauthorized")
	ErrVerificationRequired     = errors.New("verification_required")
	ErrFullNameRequired         = errors.New("full_name_required")
	ErrAmountOutOfBounds        = errors.New("amount_out_of_bounds")
	ErrInsufficientTradeHistory = errors.New("insufficient_trade_history")
	ErrGeoRestricted            = errors.New("geo_restricted")
	ErrDuplicateRequestID       = errors.New("duplicate_request_id")
	ErrPriceUnavailable         = errors.New("price_unavailable")
	ErrInsufficientEscrow       = errors.New("insufficient_escrow_balance")
	ErrInvalidStateTransition   = errors.New("invalid_state_transition")
	ErrNotParticipant           = errors.New("not_participant")
	ErrDisputeAlreadyOpen       = errors.New("dispute_already_open")
	ErrNoDisputeExists          = errors.New("no_dispute_exists")
	ErrTradeNotFound            = errors.New("trade_not_found")
	ErrUserNotFound             = errors.New("user_not_found")
	ErrEscrowAlreadySettled     = errors.New("escrow_already_settled")
)

// TransitionError names the current status and the attempted trigger.
// errors.Is(err, ErrInvalidStateTransition) matches it.
type TransitionError struct {
	From    Status
	Trigger string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s not allowed from %s", e.Trigger, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// AccountNotActiveError names the offending account health value.
type AccountNotActiveError struct {
	Health string
}

func (e *AccountNotActiveError) Error() string {
	return fmt.Sprintf("account not active: health is %q", e.Health)
}

func (e *AccountNotActiveError) Is(target error) bool {
	return target == ErrAccountNotActive
}

// AmountOutOfBoundsError names the requested amount and the offer bounds.
type AmountOutOfBoundsError struct {
	Amount  string
	Minimum string
	Maximum string
}

func (e *AmountOutOfBoundsError) Error() string {
	return fmt.Sprintf("amount %s outside offer bounds [%s, %s]", e.Amount, e.Minimum, e.Maximum)
}

func (e *AmountOutOfBoundsError) Is(target error) bool {
	return target == ErrAmountOutOfBounds
}
