package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"EscrowDesk/internal/eligibility"
	"EscrowDesk/internal/engine"
	"EscrowDesk/internal/offer"
	"EscrowDesk/internal/trade"
)

// MemStore is the in-memory backend: it serves the `storage: memory` dev mode
// and the engine's unit tests. One mutex serializes transactions, standing in
// for Postgres row locks; writes are staged per transaction and applied only
// on commit, so a failed transaction leaves nothing behind.
//
// MemStore also implements the engine's OfferLookup, UserDirectory and
// TradeHistory collaborators so a single instance can back a full dev stack.
type MemStore struct {
	mu sync.Mutex

	nextID      int64
	trades      map[int64]*trade.Trade
	byRequestID map[string]int64

	balances map[int64]decimal.Decimal
	users    map[int64]eligibility.Requester
	offers   map[int64]*offer.Offer
	// completedBase seeds trade counts beyond what this store has recorded.
	completedBase map[int64]int
}

func NewMemStore() *MemStore {
	return &MemStore{
		trades:        make(map[int64]*trade.Trade),
		byRequestID:   make(map[string]int64),
		balances:      make(map[int64]decimal.Decimal),
		users:         make(map[int64]eligibility.Requester),
		offers:        make(map[int64]*offer.Offer),
		completedBase: make(map[int64]int),
	}
}

// --- Seeding (dev mode and tests) ---

func (s *MemStore) SeedOffer(o *offer.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.ID] = o
}

func (s *MemStore) SeedUser(u eligibility.Requester, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	s.balances[u.ID] = balance
}

func (s *MemStore) SeedCompletedCount(userID int64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedBase[userID] = count
}

// Balance reads a user's committed balance.
func (s *MemStore) Balance(userID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

// --- engine.Store ---

func (s *MemStore) InTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:          s,
		stagedTrades:   make(map[int64]*trade.Trade),
		stagedBalances: make(map[int64]decimal.Decimal),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemStore) TradeByID(ctx context.Context, id int64) (*trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, trade.ErrTradeNotFound
	}
	return cloneTrade(t), nil
}

func (s *MemStore) TradeByRequestID(ctx context.Context, requestID string) (*trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRequestID[requestID]
	if !ok {
		return nil, trade.ErrTradeNotFound
	}
	return cloneTrade(s.trades[id]), nil
}

func (s *MemStore) TradesForUser(ctx context.Context, userID int64, limit, offset int) ([]*trade.Trade, error) {
	return s.FilterTrades(ctx, trade.Filter{BuyerID: userID, SellerID: userID, Limit: limit, Offset: offset})
}

// FilterTrades matches the Postgres semantics: BuyerID and SellerID set to
// the same user select either side; otherwise each constraint is conjunctive.
func (s *MemStore) FilterTrades(ctx context.Context, f trade.Filter) ([]*trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.trades))
	for id := range s.trades {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	matched := make([]*trade.Trade, 0)
	for _, id := range ids {
		t := s.trades[id]
		if !matchesFilter(t, f) {
			continue
		}
		matched = append(matched, cloneTrade(t))
	}

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*trade.Trade{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (s *MemStore) ExpiredOpenTradeIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0)
	for id, t := range s.trades {
		if t.Status == trade.StatusOpened && now.After(t.ExpiryTime) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemStore) DeleteTrade(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return trade.ErrTradeNotFound
	}
	delete(s.byRequestID, t.RequestID)
	delete(s.trades, id)
	return nil
}

// --- engine collaborators ---

func (s *MemStore) OfferByID(ctx context.Context, id int64) (*offer.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, trade.ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemStore) UserByID(ctx context.Context, id int64) (eligibility.Requester, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return eligibility.Requester{}, trade.ErrUserNotFound
	}
	return u, nil
}

func (s *MemStore) CompletedCount(ctx context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.completedBase[userID]
	for _, t := range s.trades {
		if t.Status == trade.StatusSuccessful && (t.BuyerID == userID || t.SellerID == userID) {
			count++
		}
	}
	return count, nil
}

// --- transaction ---

type memTx struct {
	store          *MemStore
	stagedTrades   map[int64]*trade.Trade
	insertedIDs    []int64
	stagedBalances map[int64]decimal.Decimal
}

func (tx *memTx) TradeForUpdate(ctx context.Context, id int64) (*trade.Trade, error) {
	if t, ok := tx.stagedTrades[id]; ok {
		return cloneTrade(t), nil
	}
	t, ok := tx.store.trades[id]
	if !ok {
		return nil, trade.ErrTradeNotFound
	}
	return cloneTrade(t), nil
}

func (tx *memTx) InsertTrade(ctx context.Context, t *trade.Trade) error {
	if _, ok := tx.store.byRequestID[t.RequestID]; ok {
		return trade.ErrDuplicateRequestID
	}
	for _, id := range tx.insertedIDs {
		if tx.stagedTrades[id].RequestID == t.RequestID {
			return trade.ErrDuplicateRequestID
		}
	}

	tx.store.nextID++
	t.ID = tx.store.nextID
	tx.stagedTrades[t.ID] = cloneTrade(t)
	tx.insertedIDs = append(tx.insertedIDs, t.ID)
	return nil
}

func (tx *memTx) UpdateTrade(ctx context.Context, t *trade.Trade, expected trade.Status) error {
	current, ok := tx.stagedTrades[t.ID]
	if !ok {
		current, ok = tx.store.trades[t.ID]
	}
	if !ok {
		return trade.ErrTradeNotFound
	}
	if current.Status != expected {
		return &trade.TransitionError{From: current.Status, Trigger: "stale status"}
	}
	tx.stagedTrades[t.ID] = cloneTrade(t)
	return nil
}

func (tx *memTx) BalanceForUpdate(ctx context.Context, userID int64) (decimal.Decimal, error) {
	if b, ok := tx.stagedBalances[userID]; ok {
		return b, nil
	}
	return tx.store.balances[userID], nil
}

func (tx *memTx) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	tx.stagedBalances[userID] = balance
	return nil
}

func (tx *memTx) commit() {
	for id, t := range tx.stagedTrades {
		tx.store.trades[id] = t
		tx.store.byRequestID[t.RequestID] = id
	}
	for userID, b := range tx.stagedBalances {
		tx.store.balances[userID] = b
	}
}

func matchesFilter(t *trade.Trade, f trade.Filter) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.BuyerID != 0 && f.BuyerID == f.SellerID {
		if t.BuyerID != f.BuyerID && t.SellerID != f.BuyerID {
			return false
		}
	} else {
		if f.BuyerID != 0 && t.BuyerID != f.BuyerID {
			return false
		}
		if f.SellerID != 0 && t.SellerID != f.SellerID {
			return false
		}
	}
	if f.OfferID != 0 && t.OfferID != f.OfferID {
		return false
	}
	if f.DisputedOnly && !t.DisputeStarted && t.Status != trade.StatusDisputed {
		return false
	}
	if !f.CreatedAfter.IsZero() && !t.CreatedAt.After(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !t.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

func cloneTrade(t *trade.Trade) *trade.Trade {
	cp := *t
	if t.DisputeTime != nil {
		dt := *t.DisputeTime
		cp.DisputeTime = &dt
	}
	if t.DisputeTimeResolve != nil {
		dt := *t.DisputeTimeResolve
		cp.DisputeTimeResolve = &dt
	}
	return &cp
}
