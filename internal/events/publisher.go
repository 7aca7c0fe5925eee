// Package events publishes trade lifecycle notifications to NATS JetStream
// for downstream consumers (notifications, reputation, analytics). Publishing
// happens after the database commit; a publish failure never rolls a trade
// back.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"EscrowDesk/internal/engine"
	"EscrowDesk/internal/money"
	"EscrowDesk/internal/observability"
	"EscrowDesk/internal/trade"
)

// StreamName is the JetStream stream holding lifecycle events.
const StreamName = "ESCROWDESK_TRADES"

// subjectPrefix is the subject root; events publish to p2p.trades.{type}.
const subjectPrefix = "p2p.trades"

// Envelope is the wire form of a lifecycle event.
type Envelope struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	TradeID    int64  `json:"trade_id"`
	RequestID  string `json:"request_id"`
	OfferID    int64  `json:"offer_id"`
	BuyerID    int64  `json:"buyer_id"`
	SellerID   int64  `json:"seller_id"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	Cancelled  string `json:"cancelled,omitempty"`
	AwardedTo  string `json:"awarded_to,omitempty"`
	FiatAmount string `json:"fiat_amount_with_margin"`
	BTCAmount  string `json:"btc_amount_with_margin"`
	Price      string `json:"price"`
}

// Publisher implements engine.EventSink over JetStream.
type Publisher struct {
	js      jetstream.JetStream
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, log zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{js: js, log: log, metrics: metrics}
}

// Publish sends one lifecycle event. Failures are logged and counted, not
// returned: the trade is already committed.
func (p *Publisher) Publish(ctx context.Context, evt engine.Event) {
	env := envelope(evt)
	data, err := json.Marshal(env)
	if err != nil {
		p.metrics.EventPublishErr.Inc()
		p.log.Error().Err(err).Str("event", evt.Type).Msg("marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, evt.Type)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.metrics.EventPublishErr.Inc()
		p.log.Warn().Err(err).
			Str("subject", subject).
			Int64("trade_id", evt.Trade.ID).
			Msg("event publish failed")
		return
	}

	p.metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
}

func envelope(evt engine.Event) Envelope {
	t := evt.Trade
	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  evt.Type,
		Timestamp:  time.Now().UTC(),
		TradeID:    t.ID,
		RequestID:  t.RequestID,
		OfferID:    t.OfferID,
		BuyerID:    t.BuyerID,
		SellerID:   t.SellerID,
		Currency:   t.Currency,
		Status:     string(t.Status),
		FiatAmount: money.FiatString(t.FiatAmountWithMargin),
		BTCAmount:  money.CryptoString(t.BTCAmountWithMargin),
		Price:      money.FiatString(t.Price),
	}
	if t.Cancelled != trade.CancelledNone {
		env.Cancelled = t.Cancelled
	}
	switch t.Status {
	case trade.StatusAwardedBuyer:
		env.AwardedTo = string(trade.PartyBuyer)
	case trade.StatusAwardedSeller:
		env.AwardedTo = string(trade.PartySeller)
	}
	return env
}

// EnsureStream creates or updates the lifecycle event stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create trade event stream: %w", err)
	}
	log.Info().Str("stream", StreamName).Msg("ensured trade event stream")
	return nil
}
