package trade

import "testing"

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{
		StatusOpened, StatusPaid, StatusSuccessful,
		StatusCancelledBuyer, StatusCancelledSeller, StatusCancelledSystem,
		StatusDisputed, StatusAwardedBuyer, StatusAwardedSeller,
	} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("PENDING").Valid() {
		t.Error("unknown status should not be valid")
	}
	if Status("").Valid() {
		t.Error("empty status should not be valid")
	}
}

func TestStatusPredicates(t *testing.T) {
	cases := []struct {
		status     Status
		terminal   bool
		reopenable bool
		disputable bool
	}{
		{StatusOpened, false, false, true},
		{StatusPaid, false, false, true},
		{StatusSuccessful, true, false, false},
		{StatusCancelledBuyer, false, true, false},
		{StatusCancelledSeller, false, true, false},
		{StatusCancelledSystem, true, false, false},
		{StatusDisputed, false, false, false},
		{StatusAwardedBuyer, true, false, false},
		{StatusAwardedSeller, true, false, false},
	}
	for _, c := range cases {
		if got := c.status.Terminal(); got != c.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", c.status, got, c.terminal)
		}
		if got := c.status.Reopenable(); got != c.reopenable {
			t.Errorf("%s.Reopenable() = %v, want %v", c.status, got, c.reopenable)
		}
		if got := c.status.Disputable(); got != c.disputable {
			t.Errorf("%s.Disputable() = %v, want %v", c.status, got, c.disputable)
		}
	}
}
