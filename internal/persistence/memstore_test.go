package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"EscrowDesk/internal/eligibility"
	"EscrowDesk/internal/engine"
	"EscrowDesk/internal/trade"
)

func newTestTrade(requestID string, status trade.Status) *trade.Trade {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &trade.Trade{
		RequestID:            requestID,
		OfferID:              10,
		BuyerID:              1,
		SellerID:             2,
		Currency:             "USD",
		FiatAmountOriginal:   decimal.RequireFromString("100.00"),
		FiatAmountWithMargin: decimal.RequireFromString("105.00"),
		BTCAmountOriginal:    decimal.RequireFromString("0.00200000"),
		BTCAmountWithMargin:  decimal.RequireFromString("0.00210000"),
		Price:                decimal.RequireFromString("50000.00"),
		Status:               status,
		Cancelled:            trade.CancelledNone,
		ExpiryTime:           now.Add(90 * time.Minute),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func insertTrade(t *testing.T, s *MemStore, tr *trade.Trade) *trade.Trade {
	t.Helper()
	err := s.InTx(context.Background(), func(tx engine.Tx) error {
		return tx.InsertTrade(context.Background(), tr)
	})
	if err != nil {
		t.Fatalf("insert trade: %v", err)
	}
	return tr
}

func TestMemStoreInsertAndRead(t *testing.T) {
	s := NewMemStore()
	tr := insertTrade(t, s, newTestTrade("req-1", trade.StatusOpened))

	if tr.ID == 0 {
		t.Fatal("expected id assigned on insert")
	}

	got, err := s.TradeByID(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("TradeByID: %v", err)
	}
	if got.RequestID != "req-1" {
		t.Errorf("request id = %q, want req-1", got.RequestID)
	}

	byReq, err := s.TradeByRequestID(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("TradeByRequestID: %v", err)
	}
	if byReq.ID != tr.ID {
		t.Errorf("id by request = %d, want %d", byReq.ID, tr.ID)
	}
}

func TestMemStoreDuplicateRequestID(t *testing.T) {
	s := NewMemStore()
	insertTrade(t, s, newTestTrade("req-dup", trade.StatusOpened))

	err := s.InTx(context.Background(), func(tx engine.Tx) error {
		return tx.InsertTrade(context.Background(), newTestTrade("req-dup", trade.StatusOpened))
	})
	if !errors.Is(err, trade.ErrDuplicateRequestID) {
		t.Fatalf("err = %v, want ErrDuplicateRequestID", err)
	}
}

func TestMemStoreUpdateCAS(t *testing.T) {
	s := NewMemStore()
	tr := insertTrade(t, s, newTestTrade("req-cas", trade.StatusOpened))

	err := s.InTx(context.Background(), func(tx engine.Tx) error {
		cur, err := tx.TradeForUpdate(context.Background(), tr.ID)
		if err != nil {
			return err
		}
		cur.Status = trade.StatusPaid
		return tx.UpdateTrade(context.Background(), cur, trade.StatusOpened)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.TradeByID(context.Background(), tr.ID)
	if got.Status != trade.StatusPaid {
		t.Errorf("status = %s, want PAID", got.Status)
	}

	// Second writer expecting the old status must lose.
	err = s.InTx(context.Background(), func(tx engine.Tx) error {
		cur, err := tx.TradeForUpdate(context.Background(), tr.ID)
		if err != nil {
			return err
		}
		cur.Status = trade.StatusSuccessful
		return tx.UpdateTrade(context.Background(), cur, trade.StatusOpened)
	})
	if !errors.Is(err, trade.ErrInvalidStateTransition) {
		t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
	}
	got, _ = s.TradeByID(context.Background(), tr.ID)
	if got.Status != trade.StatusPaid {
		t.Errorf("status after stale write = %s, want PAID", got.Status)
	}
}

func TestMemStoreRollbackOnError(t *testing.T) {
	s := NewMemStore()
	s.SeedUser(eligibility.Requester{ID: 2, Health: "active"}, decimal.RequireFromString("1.0"))

	boom := errors.New("boom")
	err := s.InTx(context.Background(), func(tx engine.Tx) error {
		if err := tx.InsertTrade(context.Background(), newTestTrade("req-roll", trade.StatusOpened)); err != nil {
			return err
		}
		if err := tx.SetBalance(context.Background(), 2, decimal.Zero); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	if _, err := s.TradeByRequestID(context.Background(), "req-roll"); !errors.Is(err, trade.ErrTradeNotFound) {
		t.Errorf("trade visible after rollback: %v", err)
	}
	if got := s.Balance(2); !got.Equal(decimal.RequireFromString("1.0")) {
		t.Errorf("balance after rollback = %s, want 1.0", got)
	}
}

func TestMemStoreFilterTrades(t *testing.T) {
	s := NewMemStore()

	a := newTestTrade("req-a", trade.StatusOpened)
	b := newTestTrade("req-b", trade.StatusSuccessful)
	b.BuyerID, b.SellerID = 3, 1
	c := newTestTrade("req-c", trade.StatusDisputed)
	c.DisputeStarted = true
	insertTrade(t, s, a)
	insertTrade(t, s, b)
	insertTrade(t, s, c)

	ctx := context.Background()

	byStatus, err := s.FilterTrades(ctx, trade.Filter{Status: trade.StatusSuccessful})
	if err != nil {
		t.Fatalf("filter by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].RequestID != "req-b" {
		t.Errorf("status filter matched %d trades", len(byStatus))
	}

	disputed, err := s.FilterTrades(ctx, trade.Filter{DisputedOnly: true})
	if err != nil {
		t.Fatalf("filter disputed: %v", err)
	}
	if len(disputed) != 1 || disputed[0].RequestID != "req-c" {
		t.Errorf("disputed filter matched %d trades", len(disputed))
	}

	// User 1 is buyer on a and c, seller on b: either-side match.
	mine, err := s.TradesForUser(ctx, 1, 10, 0)
	if err != nil {
		t.Fatalf("trades for user: %v", err)
	}
	if len(mine) != 3 {
		t.Fatalf("trades for user 1 = %d, want 3", len(mine))
	}
	// Newest first.
	if mine[0].RequestID != "req-c" || mine[2].RequestID != "req-a" {
		t.Errorf("order = %s..%s, want req-c..req-a", mine[0].RequestID, mine[2].RequestID)
	}

	paged, err := s.TradesForUser(ctx, 1, 1, 1)
	if err != nil {
		t.Fatalf("paged: %v", err)
	}
	if len(paged) != 1 || paged[0].RequestID != "req-b" {
		t.Errorf("page 2 = %v", paged)
	}
}

func TestMemStoreExpiredOpenTradeIDs(t *testing.T) {
	s := NewMemStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	open := newTestTrade("req-open", trade.StatusOpened)
	open.ExpiryTime = now.Add(-time.Minute)
	fresh := newTestTrade("req-fresh", trade.StatusOpened)
	fresh.ExpiryTime = now.Add(time.Hour)
	paid := newTestTrade("req-paid", trade.StatusPaid)
	paid.ExpiryTime = now.Add(-time.Hour)
	insertTrade(t, s, open)
	insertTrade(t, s, fresh)
	insertTrade(t, s, paid)

	ids, err := s.ExpiredOpenTradeIDs(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("ExpiredOpenTradeIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != open.ID {
		t.Fatalf("ids = %v, want [%d]", ids, open.ID)
	}
}

func TestMemStoreDeleteTrade(t *testing.T) {
	s := NewMemStore()
	tr := insertTrade(t, s, newTestTrade("req-del", trade.StatusOpened))

	if err := s.DeleteTrade(context.Background(), tr.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.TradeByID(context.Background(), tr.ID); !errors.Is(err, trade.ErrTradeNotFound) {
		t.Errorf("read after delete: %v", err)
	}
	// request_id is free again after a hard delete
	if _, err := s.TradeByRequestID(context.Background(), "req-del"); !errors.Is(err, trade.ErrTradeNotFound) {
		t.Errorf("request id still mapped after delete: %v", err)
	}
	if err := s.DeleteTrade(context.Background(), tr.ID); !errors.Is(err, trade.ErrTradeNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestMemStoreCompletedCount(t *testing.T) {
	s := NewMemStore()
	s.SeedCompletedCount(1, 5)

	done := newTestTrade("req-done", trade.StatusSuccessful)
	insertTrade(t, s, done)
	insertTrade(t, s, newTestTrade("req-still-open", trade.StatusOpened))

	got, err := s.CompletedCount(context.Background(), 1)
	if err != nil {
		t.Fatalf("CompletedCount: %v", err)
	}
	if got != 6 {
		t.Errorf("completed count = %d, want 6", got)
	}
}
