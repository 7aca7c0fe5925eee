package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"EscrowDesk/internal/observability"
	"EscrowDesk/internal/trade"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeLister struct {
	ids []int64
	err error
}

func (l *fakeLister) ExpiredOpenTradeIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return l.ids, l.err
}

type fakeExpirer struct {
	calls []int64
	errs  map[int64]error
}

func (e *fakeExpirer) Expire(ctx context.Context, tradeID int64) (*trade.Trade, error) {
	e.calls = append(e.calls, tradeID)
	if err, ok := e.errs[tradeID]; ok {
		return nil, err
	}
	return &trade.Trade{ID: tradeID, Status: trade.StatusCancelledSystem}, nil
}

func newSweeper(lister *fakeLister, expirer *fakeExpirer) *Sweeper {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewSweeper(Config{}, lister, expirer, clock, zerolog.Nop(), metrics)
}

func TestSweepExpiresAllCandidates(t *testing.T) {
	expirer := &fakeExpirer{}
	s := newSweeper(&fakeLister{ids: []int64{1, 2, 3}}, expirer)

	if got := s.Sweep(context.Background()); got != 3 {
		t.Fatalf("expired = %d, want 3", got)
	}
	if len(expirer.calls) != 3 {
		t.Errorf("expire calls = %v", expirer.calls)
	}
}

func TestSweepEmpty(t *testing.T) {
	expirer := &fakeExpirer{}
	s := newSweeper(&fakeLister{}, expirer)

	if got := s.Sweep(context.Background()); got != 0 {
		t.Fatalf("expired = %d, want 0", got)
	}
	if len(expirer.calls) != 0 {
		t.Errorf("expire calls = %v", expirer.calls)
	}
}

func TestSweepSkipsRaceLosers(t *testing.T) {
	expirer := &fakeExpirer{errs: map[int64]error{
		2: trade.ErrInvalidStateTransition,
		3: trade.ErrTradeNotFound,
	}}
	s := newSweeper(&fakeLister{ids: []int64{1, 2, 3, 4}}, expirer)

	if got := s.Sweep(context.Background()); got != 2 {
		t.Fatalf("expired = %d, want 2", got)
	}
	if len(expirer.calls) != 4 {
		t.Errorf("expire calls = %v, want all four attempted", expirer.calls)
	}
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	expirer := &fakeExpirer{}
	s := newSweeper(&fakeLister{ids: []int64{1, 2, 3}}, expirer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Sweep(ctx)

	if len(expirer.calls) != 0 {
		t.Errorf("expire calls after cancel = %v", expirer.calls)
	}
}
