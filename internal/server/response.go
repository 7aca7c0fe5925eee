package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"EscrowDesk/internal/money"
	"EscrowDesk/internal/trade"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorResponse is the standard error body.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// parseJSON decodes the request body, rejecting unknown fields.
func parseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return errors.New("request body must be JSON with Content-Type: application/json")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("request body must be valid JSON")
	}
	return nil
}

// statusMapping pairs each engine sentinel with its HTTP status. The error
// string doubles as the machine-readable error code.
var statusMapping = []struct {
	sentinel error
	status   int
}{
	{trade.ErrTradeNotFound, http.StatusNotFound},
	{trade.ErrOfferNotFound, http.StatusNotFound},
	{trade.ErrUserNotFound, http.StatusNotFound},
	{trade.ErrDuplicateRequestID, http.StatusConflict},
	{trade.ErrInvalidStateTransition, http.StatusConflict},
	{trade.ErrDisputeAlreadyOpen, http.StatusConflict},
	{trade.ErrNoDisputeExists, http.StatusConflict},
	{trade.ErrEscrowAlreadySettled, http.StatusConflict},
	{trade.ErrInsufficientEscrow, http.StatusConflict},
	{trade.ErrNotParticipant, http.StatusForbidden},
	{trade.ErrSelfTrade, http.StatusForbidden},
	{trade.ErrAccountNotActive, http.StatusForbidden},
	{trade.ErrGeoRestricted, http.StatusForbidden},
	{trade.ErrOfferInactive, http.StatusUnprocessableEntity},
	{trade.ErrOfferDeauthorized, http.StatusUnprocessableEntity},
	{trade.ErrVerificationRequired, http.StatusUnprocessableEntity},
	{trade.ErrFullNameRequired, http.StatusUnprocessableEntity},
	{trade.ErrAmountOutOfBounds, http.StatusUnprocessableEntity},
	{trade.ErrInsufficientTradeHistory, http.StatusUnprocessableEntity},
	{trade.ErrPriceUnavailable, http.StatusServiceUnavailable},
}

// badRequestError marks handler-level validation failures so the shared
// transition wrappers can surface them as 400 rather than 500.
type badRequestError string

func errBadRequest(msg string) error { return badRequestError(msg) }

func (e badRequestError) Error() string { return string(e) }

// writeEngineError translates an engine error into the standard error body.
// Unmatched errors become an opaque 500.
func writeEngineError(w http.ResponseWriter, err error) {
	var bad badRequestError
	if errors.As(err, &bad) {
		writeError(w, http.StatusBadRequest, "invalid_request", bad.Error())
		return
	}
	for _, m := range statusMapping {
		if errors.Is(err, m.sentinel) {
			writeError(w, m.status, m.sentinel.Error(), err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

// tradeResponse is the JSON shape of a trade. Monetary fields are fixed-point
// strings so clients never touch floats.
type tradeResponse struct {
	ID        int64  `json:"id"`
	RequestID string `json:"request_id"`
	OfferID   int64  `json:"offer_id"`
	BuyerID   int64  `json:"buyer_id"`
	SellerID  int64  `json:"seller_id"`
	Currency  string `json:"currency"`

	FiatAmountOriginal   string `json:"fiat_amount_original"`
	FiatAmountWithMargin string `json:"fiat_amount_with_margin"`
	BTCAmountOriginal    string `json:"btc_amount_original"`
	BTCAmountWithMargin  string `json:"btc_amount_with_margin"`
	Price                string `json:"price"`

	Status    string `json:"status"`
	Cancelled string `json:"cancelled"`

	DisputeStarted     bool    `json:"dispute_started"`
	DisputeTime        *string `json:"dispute_time,omitempty"`
	DisputeReason      string  `json:"dispute_reason,omitempty"`
	DisputeExplanation string  `json:"dispute_explanation,omitempty"`
	DisputeStartedBy   string  `json:"dispute_started_by,omitempty"`
	DisputeModNotes    string  `json:"dispute_mod_notes,omitempty"`
	DisputeTimeResolve *string `json:"dispute_time_resolve,omitempty"`

	EscrowReturn bool   `json:"escrow_return"`
	ExpiryTime   string `json:"expiry_time"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toTradeResponse(t *trade.Trade) tradeResponse {
	resp := tradeResponse{
		ID:        t.ID,
		RequestID: t.RequestID,
		OfferID:   t.OfferID,
		BuyerID:   t.BuyerID,
		SellerID:  t.SellerID,
		Currency:  t.Currency,

		FiatAmountOriginal:   money.FiatString(t.FiatAmountOriginal),
		FiatAmountWithMargin: money.FiatString(t.FiatAmountWithMargin),
		BTCAmountOriginal:    money.CryptoString(t.BTCAmountOriginal),
		BTCAmountWithMargin:  money.CryptoString(t.BTCAmountWithMargin),
		Price:                money.FiatString(t.Price),

		Status:    string(t.Status),
		Cancelled: t.Cancelled,

		DisputeStarted:     t.DisputeStarted,
		DisputeReason:      t.DisputeReason,
		DisputeExplanation: t.DisputeExplanation,
		DisputeStartedBy:   string(t.DisputeStartedBy),
		DisputeModNotes:    t.DisputeModNotes,

		EscrowReturn: t.EscrowReturn,
		ExpiryTime:   t.ExpiryTime.UTC().Format(time.RFC3339),
		CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    t.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if t.DisputeTime != nil {
		s := t.DisputeTime.UTC().Format(time.RFC3339)
		resp.DisputeTime = &s
	}
	if t.DisputeTimeResolve != nil {
		s := t.DisputeTimeResolve.UTC().Format(time.RFC3339)
		resp.DisputeTimeResolve = &s
	}
	return resp
}

func toTradeResponses(trades []*trade.Trade) []tradeResponse {
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	return out
}
