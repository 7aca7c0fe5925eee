// Package persistence implements the engine's Store contract against
// Postgres, plus an in-memory backend for tests and dev mode.
//
// Serialization model: every transition transaction takes the trade row with
// SELECT … FOR UPDATE (per-trade exclusion) and each touched balance row the
// same way (per-user exclusion). The status write carries a compare-and-swap
// guard on top, so a stale reader loses with invalid_state_transition instead
// of overwriting.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"EscrowDesk/internal/engine"
	"EscrowDesk/internal/trade"
)

// pqUniqueViolation is the Postgres error code for unique constraint hits.
const pqUniqueViolation = "23505"

// PGStore is the Postgres-backed trade store. It also implements the
// engine's TradeHistory collaborator (completed-trade counts come from the
// same trades table).
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const tradeColumns = `id, request_id, offer_id, buyer_id, seller_id, currency,
	fiat_amount_original, fiat_amount_with_margin, btc_amount_original,
	btc_amount_with_margin, price, status, cancelled,
	dispute_started, dispute_time, dispute_reason, dispute_explanation,
	dispute_started_by, dispute_mod_notes, dispute_time_resolve,
	escrow_return, expiry_time, created_at, updated_at`

func (s *PGStore) InTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PGStore) TradeByID(ctx context.Context, id int64) (*trade.Trade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	return scanTrade(row)
}

func (s *PGStore) TradeByRequestID(ctx context.Context, requestID string) (*trade.Trade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE request_id = $1`, requestID)
	return scanTrade(row)
}

func (s *PGStore) TradesForUser(ctx context.Context, userID int64, limit, offset int) ([]*trade.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE buyer_id = $1 OR seller_id = $1
		 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list trades for user %d: %w", userID, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PGStore) FilterTrades(ctx context.Context, f trade.Filter) ([]*trade.Trade, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.BuyerID != 0 && f.BuyerID == f.SellerID {
		p := arg(f.BuyerID)
		where = append(where, "(buyer_id = "+p+" OR seller_id = "+p+")")
	} else {
		if f.BuyerID != 0 {
			where = append(where, "buyer_id = "+arg(f.BuyerID))
		}
		if f.SellerID != 0 {
			where = append(where, "seller_id = "+arg(f.SellerID))
		}
	}
	if f.OfferID != 0 {
		where = append(where, "offer_id = "+arg(f.OfferID))
	}
	if f.DisputedOnly {
		where = append(where, "(dispute_started OR status = 'DISPUTED')")
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at > "+arg(f.CreatedAfter))
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < "+arg(f.CreatedBefore))
	}

	query := `SELECT ` + tradeColumns + ` FROM trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PGStore) ExpiredOpenTradeIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM trades
		 WHERE status = 'OPENED' AND expiry_time < $1
		 ORDER BY id LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired trades: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGStore) DeleteTrade(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trades WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete trade %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return trade.ErrTradeNotFound
	}
	return nil
}

// CompletedCount implements engine.TradeHistory.
func (s *PGStore) CompletedCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades
		 WHERE status = 'SUCCESSFUL' AND (buyer_id = $1 OR seller_id = $1)`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count completed trades for user %d: %w", userID, err)
	}
	return count, nil
}

// --- transaction ---

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) TradeForUpdate(ctx context.Context, id int64) (*trade.Trade, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, id)
	return scanTrade(row)
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *trade.Trade) error {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO trades (
			request_id, offer_id, buyer_id, seller_id, currency,
			fiat_amount_original, fiat_amount_with_margin, btc_amount_original,
			btc_amount_with_margin, price, status, cancelled,
			dispute_started, dispute_reason, dispute_explanation,
			dispute_started_by, dispute_mod_notes,
			escrow_return, expiry_time, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING id`,
		tr.RequestID, tr.OfferID, tr.BuyerID, tr.SellerID, tr.Currency,
		tr.FiatAmountOriginal, tr.FiatAmountWithMargin, tr.BTCAmountOriginal,
		tr.BTCAmountWithMargin, tr.Price, string(tr.Status), tr.Cancelled,
		tr.DisputeStarted, tr.DisputeReason, tr.DisputeExplanation,
		string(tr.DisputeStartedBy), tr.DisputeModNotes,
		tr.EscrowReturn, tr.ExpiryTime, tr.CreatedAt, tr.UpdatedAt,
	).Scan(&tr.ID)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return trade.ErrDuplicateRequestID
	}
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateTrade(ctx context.Context, tr *trade.Trade, expected trade.Status) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE trades SET
			status = $1, cancelled = $2,
			dispute_started = $3, dispute_time = $4, dispute_reason = $5,
			dispute_explanation = $6, dispute_started_by = $7,
			dispute_mod_notes = $8, dispute_time_resolve = $9,
			escrow_return = $10, expiry_time = $11, updated_at = $12
		 WHERE id = $13 AND status = $14`,
		string(tr.Status), tr.Cancelled,
		tr.DisputeStarted, tr.DisputeTime, tr.DisputeReason,
		tr.DisputeExplanation, string(tr.DisputeStartedBy),
		tr.DisputeModNotes, tr.DisputeTimeResolve,
		tr.EscrowReturn, tr.ExpiryTime, tr.UpdatedAt,
		tr.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update trade %d: %w", tr.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &trade.TransitionError{From: expected, Trigger: "stale status"}
	}
	return nil
}

func (t *pgTx) BalanceForUpdate(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE`,
		userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, trade.ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance for user %d: %w", userID, err)
	}
	return balance, nil
}

func (t *pgTx) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE user_id = $2`,
		balance, userID)
	if err != nil {
		return fmt.Errorf("write balance for user %d: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return trade.ErrUserNotFound
	}
	return nil
}

// --- row scanning ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*trade.Trade, error) {
	var (
		t         trade.Trade
		status    string
		startedBy string
	)
	err := row.Scan(
		&t.ID, &t.RequestID, &t.OfferID, &t.BuyerID, &t.SellerID, &t.Currency,
		&t.FiatAmountOriginal, &t.FiatAmountWithMargin, &t.BTCAmountOriginal,
		&t.BTCAmountWithMargin, &t.Price, &status, &t.Cancelled,
		&t.DisputeStarted, &t.DisputeTime, &t.DisputeReason, &t.DisputeExplanation,
		&startedBy, &t.DisputeModNotes, &t.DisputeTimeResolve,
		&t.EscrowReturn, &t.ExpiryTime, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, trade.ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	t.Status = trade.Status(status)
	t.DisputeStartedBy = trade.Party(startedBy)
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]*trade.Trade, error) {
	var out []*trade.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
