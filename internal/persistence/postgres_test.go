package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"EscrowDesk/internal/engine"
	"EscrowDesk/internal/persistence"
	"EscrowDesk/internal/testutil"
	"EscrowDesk/internal/trade"
)

// setupPGStore migrates a live test database and seeds the two accounts and
// the offer every test here trades against. Skips without Postgres.
func setupPGStore(t *testing.T) *persistence.PGStore {
	t.Helper()

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, health, verified, full_name, balance) VALUES
			(1, 'active', TRUE, 'Alice Chu', 0),
			(2, 'active', TRUE, 'Bob Osei', 1.0)
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance`)
	if err != nil {
		t.Fatalf("seed accounts: %v", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO offers (id, owner_id, direction, currency, margin, active)
		VALUES (10, 2, 'sell', 'USD', 5, TRUE)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		t.Fatalf("seed offer: %v", err)
	}

	return persistence.NewPGStore(db)
}

func pgTestTrade(requestID string) *trade.Trade {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &trade.Trade{
		RequestID:            requestID,
		OfferID:              10,
		BuyerID:              1,
		SellerID:             2,
		Currency:             "USD",
		FiatAmountOriginal:   decimal.RequireFromString("100.00"),
		FiatAmountWithMargin: decimal.RequireFromString("95.00"),
		BTCAmountOriginal:    decimal.RequireFromString("0.00200000"),
		BTCAmountWithMargin:  decimal.RequireFromString("0.00190000"),
		Price:                decimal.RequireFromString("52500.00"),
		Status:               trade.StatusOpened,
		Cancelled:            trade.CancelledNone,
		ExpiryTime:           now.Add(90 * time.Minute),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func TestPGInsertAndReadBack(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()

	tr := pgTestTrade("pg-req-1")
	err := store.InTx(ctx, func(tx engine.Tx) error {
		return tx.InsertTrade(ctx, tr)
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if tr.ID == 0 {
		t.Fatal("id not assigned")
	}

	got, err := store.TradeByID(ctx, tr.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.RequestID != "pg-req-1" || got.Status != trade.StatusOpened {
		t.Errorf("got %+v", got)
	}
	if !got.BTCAmountOriginal.Equal(tr.BTCAmountOriginal) {
		t.Errorf("escrow = %s, want %s", got.BTCAmountOriginal, tr.BTCAmountOriginal)
	}
	if !got.ExpiryTime.Equal(tr.ExpiryTime) {
		t.Errorf("expiry = %s, want %s", got.ExpiryTime, tr.ExpiryTime)
	}
}

func TestPGDuplicateRequestID(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()

	if err := store.InTx(ctx, func(tx engine.Tx) error {
		return tx.InsertTrade(ctx, pgTestTrade("pg-req-dup"))
	}); err != nil {
		t.Fatal(err)
	}

	err := store.InTx(ctx, func(tx engine.Tx) error {
		return tx.InsertTrade(ctx, pgTestTrade("pg-req-dup"))
	})
	if !errors.Is(err, trade.ErrDuplicateRequestID) {
		t.Fatalf("err = %v, want ErrDuplicateRequestID", err)
	}
}

func TestPGStatusCAS(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()

	tr := pgTestTrade("pg-req-cas")
	if err := store.InTx(ctx, func(tx engine.Tx) error {
		return tx.InsertTrade(ctx, tr)
	}); err != nil {
		t.Fatal(err)
	}

	err := store.InTx(ctx, func(tx engine.Tx) error {
		cur, err := tx.TradeForUpdate(ctx, tr.ID)
		if err != nil {
			return err
		}
		cur.Status = trade.StatusPaid
		return tx.UpdateTrade(ctx, cur, trade.StatusOpened)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	// A writer holding the old status loses the swap.
	err = store.InTx(ctx, func(tx engine.Tx) error {
		cur, err := tx.TradeForUpdate(ctx, tr.ID)
		if err != nil {
			return err
		}
		cur.Status = trade.StatusSuccessful
		return tx.UpdateTrade(ctx, cur, trade.StatusOpened)
	})
	if !errors.Is(err, trade.ErrInvalidStateTransition) {
		t.Fatalf("stale write err = %v, want ErrInvalidStateTransition", err)
	}

	got, _ := store.TradeByID(ctx, tr.ID)
	if got.Status != trade.StatusPaid {
		t.Errorf("status = %s, want PAID", got.Status)
	}
}

func TestPGBalanceRoundTrip(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()

	err := store.InTx(ctx, func(tx engine.Tx) error {
		bal, err := tx.BalanceForUpdate(ctx, 2)
		if err != nil {
			return err
		}
		return tx.SetBalance(ctx, 2, bal.Sub(decimal.RequireFromString("0.002")))
	})
	if err != nil {
		t.Fatalf("balance tx: %v", err)
	}

	var after decimal.Decimal
	err = store.InTx(ctx, func(tx engine.Tx) error {
		after, err = tx.BalanceForUpdate(ctx, 2)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if !after.Equal(decimal.RequireFromString("0.998")) {
		t.Errorf("balance = %s, want 0.998", after)
	}
}

func TestPGExpiredOpenTradeIDs(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()

	stale := pgTestTrade("pg-req-stale")
	stale.ExpiryTime = time.Now().UTC().Add(-time.Hour)
	fresh := pgTestTrade("pg-req-fresh")

	if err := store.InTx(ctx, func(tx engine.Tx) error {
		if err := tx.InsertTrade(ctx, stale); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, fresh)
	}); err != nil {
		t.Fatal(err)
	}

	ids, err := store.ExpiredOpenTradeIDs(ctx, time.Now().UTC(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != stale.ID {
		t.Fatalf("ids = %v, want [%d]", ids, stale.ID)
	}
}
