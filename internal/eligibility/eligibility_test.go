package eligibility_test

import (
	"errors"
	"testing"

	"EscrowDesk/internal/eligibility"
	"EscrowDesk/internal/offer"
	"EscrowDesk/internal/trade"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func baseOffer() *offer.Offer {
	return &offer.Offer{
		ID:        1,
		OwnerID:   100,
		Direction: offer.DirectionSell,
		Currency:  "USD",
		Margin:    dec("2"),
		Minimum:   dec("50"),
		Maximum:   dec("500"),
		Active:    true,
		Status:    offer.StatusActive,
	}
}

func baseRequest(o *offer.Offer) eligibility.Request {
	return eligibility.Request{
		Requester: eligibility.Requester{
			ID:       200,
			Health:   eligibility.HealthActive,
			Verified: true,
			Name:     "Jamie Doe",
		},
		Offer:          o,
		FiatAmount:     dec("100"),
		CompletedCount: 10,
	}
}

func TestCheck_Passes(t *testing.T) {
	if err := eligibility.Check(baseRequest(baseOffer())); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestCheck_OfferInactive(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*offer.Offer)
	}{
		{"inactive flag", func(o *offer.Offer) { o.Active = false }},
		{"paused status", func(o *offer.Offer) { o.Status = offer.StatusPaused }},
		{"inactive status", func(o *offer.Offer) { o.Status = offer.StatusInactive }},
	}

	for _, c := range cases {
		o := baseOffer()
		c.mutate(o)
		if err := eligibility.Check(baseRequest(o)); !errors.Is(err, trade.ErrOfferInactive) {
			t.Errorf("%s: got %v, want ErrOfferInactive", c.name, err)
		}
	}
}

func TestCheck_SelfTrade(t *testing.T) {
	o := baseOffer()
	req := baseRequest(o)
	req.Requester.ID = o.OwnerID

	if err := eligibility.Check(req); !errors.Is(err, trade.ErrSelfTrade) {
		t.Fatalf("got %v, want ErrSelfTrade", err)
	}
}

func TestCheck_AccountNotActive_NamesHealth(t *testing.T) {
	req := baseRequest(baseOffer())
	req.Requester.Health = "suspended"

	err := eligibility.Check(req)
	if !errors.Is(err, trade.ErrAccountNotActive) {
		t.Fatalf("got %v, want ErrAccountNotActive", err)
	}

	var healthErr *trade.AccountNotActiveError
	if !errors.As(err, &healthErr) || healthErr.Health != "suspended" {
		t.Fatalf("error should name the health value, got %v", err)
	}
}

func TestCheck_Deauthorized(t *testing.T) {
	o := baseOffer()
	o.Policy.Deauthorized = true

	if err := eligibility.Check(baseRequest(o)); !errors.Is(err, trade.ErrOfferDeauthorized) {
		t.Fatalf("got %v, want ErrOfferDeauthorized", err)
	}
}

func TestCheck_VerificationRequired(t *testing.T) {
	o := baseOffer()
	o.Policy.IDVerificationRequired = true
	req := baseRequest(o)
	req.Requester.Verified = false

	if err := eligibility.Check(req); !errors.Is(err, trade.ErrVerificationRequired) {
		t.Fatalf("got %v, want ErrVerificationRequired", err)
	}
}

func TestCheck_FullNameRequired(t *testing.T) {
	o := baseOffer()
	o.Policy.FullNameRequired = true

	for _, name := range []string{"", "J"} {
		req := baseRequest(o)
		req.Requester.Name = name
		if err := eligibility.Check(req); !errors.Is(err, trade.ErrFullNameRequired) {
			t.Errorf("name %q: got %v, want ErrFullNameRequired", name, err)
		}
	}

	req := baseRequest(o)
	req.Requester.Name = "Jo"
	if err := eligibility.Check(req); err != nil {
		t.Errorf("two-character name should pass, got %v", err)
	}
}

func TestCheck_AmountBounds(t *testing.T) {
	req := baseRequest(baseOffer())
	req.FiatAmount = dec("10")
	if err := eligibility.Check(req); !errors.Is(err, trade.ErrAmountOutOfBounds) {
		t.Fatalf("below minimum: got %v, want ErrAmountOutOfBounds", err)
	}

	req.FiatAmount = dec("600")
	if err := eligibility.Check(req); !errors.Is(err, trade.ErrAmountOutOfBounds) {
		t.Fatalf("above maximum: got %v, want ErrAmountOutOfBounds", err)
	}

	req.FiatAmount = dec("100")
	if err := eligibility.Check(req); err != nil {
		t.Fatalf("within bounds: got %v, want pass", err)
	}
}

func TestCheck_ZeroBoundsMeanUnbounded(t *testing.T) {
	o := baseOffer()
	o.Minimum = decimal.Zero
	o.Maximum = decimal.Zero

	req := baseRequest(o)
	req.FiatAmount = dec("0.01")
	if err := eligibility.Check(req); err != nil {
		t.Fatalf("tiny amount with zero bounds: got %v, want pass", err)
	}

	req.FiatAmount = dec("1000000")
	if err := eligibility.Check(req); err != nil {
		t.Fatalf("huge amount with zero bounds: got %v, want pass", err)
	}
}

func TestCheck_NewTraderMinimum(t *testing.T) {
	o := baseOffer()
	o.Policy.NewTraderMinimumTrades = 5

	req := baseRequest(o)
	req.CompletedCount = 4
	if err := eligibility.Check(req); !errors.Is(err, trade.ErrInsufficientTradeHistory) {
		t.Fatalf("got %v, want ErrInsufficientTradeHistory", err)
	}

	req.CompletedCount = 5
	if err := eligibility.Check(req); err != nil {
		t.Fatalf("exactly the minimum should pass, got %v", err)
	}
}

func TestCheck_VPNBlocked(t *testing.T) {
	o := baseOffer()
	o.Policy.VPNBlocked = true

	req := baseRequest(o)
	req.Network.IsVPNOrTor = true
	if err := eligibility.Check(req); !errors.Is(err, trade.ErrGeoRestricted) {
		t.Fatalf("got %v, want ErrGeoRestricted", err)
	}

	req.Network.IsVPNOrTor = false
	if err := eligibility.Check(req); err != nil {
		t.Fatalf("non-vpn request should pass, got %v", err)
	}
}

func TestCheck_CountryLists(t *testing.T) {
	o := baseOffer()
	o.Policy.CountryMode = offer.CountryModeBlocked
	o.Policy.Countries = []string{"XX"}

	req := baseRequest(o)
	req.Network.CountryISO = "XX"
	if err := eligibility.Check(req); !errors.Is(err, trade.ErrGeoRestricted) {
		t.Fatalf("blocked country: got %v, want ErrGeoRestricted", err)
	}

	req.Network.CountryISO = "US"
	if err := eligibility.Check(req); err != nil {
		t.Fatalf("unlisted country in blocked mode: got %v, want pass", err)
	}

	o.Policy.CountryMode = offer.CountryModeAllowed
	o.Policy.Countries = []string{"US"}
	req.Network.CountryISO = "GB"
	if err := eligibility.Check(req); !errors.Is(err, trade.ErrGeoRestricted) {
		t.Fatalf("unlisted country in allowed mode: got %v, want ErrGeoRestricted", err)
	}

	// Unknown country skips the list entirely.
	req.Network.CountryISO = ""
	if err := eligibility.Check(req); err != nil {
		t.Fatalf("unresolved country: got %v, want pass", err)
	}
}

// The first failing rule in table order wins: an inactive offer owned by the
// requester must report inactivity, not self-trading.
func TestCheck_OrderPrecedence(t *testing.T) {
	o := baseOffer()
	o.Active = false
	req := baseRequest(o)
	req.Requester.ID = o.OwnerID
	req.Requester.Health = "banned"

	if err := eligibility.Check(req); !errors.Is(err, trade.ErrOfferInactive) {
		t.Fatalf("got %v, want ErrOfferInactive (rule order)", err)
	}
}
