package engine

import (
	"container/list"
	"context"
	"sync"
)

// requestDeduper is the two-tier duplicate guard for create requests: an
// in-process LRU fast path in front of the store's unique constraint. The
// constraint is authoritative; the LRU only saves a round trip for keys seen
// by this process recently.
type requestDeduper struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	store Store
}

func newRequestDeduper(capacity int, store Store) *requestDeduper {
	return &requestDeduper{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
		store:    store,
	}
}

// tier names for duplicate metrics.
const (
	dedupTierLRU   = "lru"
	dedupTierStore = "store"
)

// IsDuplicate checks the LRU, then the store. Store errors are treated as
// "not a duplicate"; the insert's unique constraint still catches the race,
// and a store hiccup must not reject legitimate creates.
func (d *requestDeduper) IsDuplicate(ctx context.Context, requestID string) (bool, string) {
	d.mu.Lock()
	if elem, ok := d.cache[requestID]; ok {
		d.lruList.MoveToFront(elem)
		d.mu.Unlock()
		return true, dedupTierLRU
	}
	d.mu.Unlock()

	existing, err := d.store.TradeByRequestID(ctx, requestID)
	if err != nil {
		return false, ""
	}
	if existing != nil {
		d.Mark(requestID)
		return true, dedupTierStore
	}
	return false, ""
}

// Mark records a request id after a successful create.
func (d *requestDeduper) Mark(requestID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.cache[requestID]; ok {
		d.lruList.MoveToFront(elem)
		return
	}

	elem := d.lruList.PushFront(requestID)
	d.cache[requestID] = elem

	if d.lruList.Len() > d.capacity {
		oldest := d.lruList.Back()
		if oldest != nil {
			d.lruList.Remove(oldest)
			delete(d.cache, oldest.Value.(string))
		}
	}
}
