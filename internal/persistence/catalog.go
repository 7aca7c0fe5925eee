package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"EscrowDesk/internal/eligibility"
	"EscrowDesk/internal/offer"
	"EscrowDesk/internal/trade"
)

// PGOffers reads standing offers for the engine. Offers are written by the
// listing subsystem; this side only ever selects.
type PGOffers struct {
	db *sql.DB
}

func NewPGOffers(db *sql.DB) *PGOffers {
	return &PGOffers{db: db}
}

func (s *PGOffers) OfferByID(ctx context.Context, id int64) (*offer.Offer, error) {
	var (
		o         offer.Offer
		direction string
		status    string
		mode      string
		countries pq.StringArray
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, direction, currency, margin, minimum, maximum,
			active, status, deauthorized, id_verification_required,
			full_name_required, new_trader_minimum_trades, vpn_blocked,
			country_mode, countries, created_at, updated_at
		 FROM offers WHERE id = $1`, id).Scan(
		&o.ID, &o.OwnerID, &direction, &o.Currency, &o.Margin, &o.Minimum,
		&o.Maximum, &o.Active, &status, &o.Policy.Deauthorized,
		&o.Policy.IDVerificationRequired, &o.Policy.FullNameRequired,
		&o.Policy.NewTraderMinimumTrades, &o.Policy.VPNBlocked,
		&mode, &countries, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, trade.ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read offer %d: %w", id, err)
	}
	o.Direction = offer.Direction(direction)
	o.Status = offer.Status(status)
	o.Policy.CountryMode = offer.CountryMode(mode)
	o.Policy.Countries = countries
	return &o, nil
}

// PGAccounts reads user accounts for the engine's eligibility checks.
type PGAccounts struct {
	db *sql.DB
}

func NewPGAccounts(db *sql.DB) *PGAccounts {
	return &PGAccounts{db: db}
}

func (s *PGAccounts) UserByID(ctx context.Context, id int64) (eligibility.Requester, error) {
	var r eligibility.Requester
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, health, verified, full_name
		 FROM accounts WHERE user_id = $1`, id).Scan(
		&r.ID, &r.Health, &r.Verified, &r.Name,
	)
	if err == sql.ErrNoRows {
		return eligibility.Requester{}, trade.ErrUserNotFound
	}
	if err != nil {
		return eligibility.Requester{}, fmt.Errorf("read account %d: %w", id, err)
	}
	return r, nil
}
