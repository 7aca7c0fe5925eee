package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"EscrowDesk/internal/eligibility"
	"EscrowDesk/internal/engine"
	"EscrowDesk/internal/trade"
)

// Caller identity and network signals arrive as headers set by the edge.
// The API itself does no authentication.
const (
	headerUserID      = "X-User-ID"
	headerCountryISO  = "X-Country-ISO"
	headerAnonNetwork = "X-Anon-Network"
)

// TradeHandler exposes the lifecycle engine over HTTP.
type TradeHandler struct {
	engine *engine.Manager
}

func NewTradeHandler(eng *engine.Manager) *TradeHandler {
	return &TradeHandler{engine: eng}
}

func callerID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(headerUserID), 10, 64)
	return id, err == nil && id > 0
}

func networkSignal(r *http.Request) eligibility.NetworkSignal {
	return eligibility.NetworkSignal{
		CountryISO: strings.ToUpper(r.Header.Get(headerCountryISO)),
		IsVPNOrTor: r.Header.Get(headerAnonNetwork) == "true",
	}
}

func tradeID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "trade_id"), 10, 64)
	return id, err == nil && id > 0
}

type createTradeRequest struct {
	RequestID  string `json:"request_id"`
	OfferID    int64  `json:"offer_id"`
	FiatAmount string `json:"fiat_amount"`
}

// Create handles POST /trades.
func (h *TradeHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing or invalid "+headerUserID+" header")
		return
	}

	var req createTradeRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.RequestID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "request_id is required")
		return
	}
	amount, err := decimal.NewFromString(req.FiatAmount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "invalid_request", "fiat_amount must be a positive decimal string")
		return
	}

	t, err := h.engine.Create(r.Context(), engine.CreateRequest{
		RequestID:   req.RequestID,
		OfferID:     req.OfferID,
		RequesterID: caller,
		FiatAmount:  amount,
		Network:     networkSignal(r),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTradeResponse(t))
}

// Get handles GET /trades/{trade_id}.
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := tradeID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid trade id")
		return
	}
	t, err := h.engine.FindByID(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(t))
}

// GetByRequestID handles GET /trades/by-request/{request_id}.
func (h *TradeHandler) GetByRequestID(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.FindByRequestID(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(t))
}

// ListForUser handles GET /users/{user_id}/trades.
func (h *TradeHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid user id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	trades, err := h.engine.ListForUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": toTradeResponses(trades)})
}

// List handles GET /trades with filter query parameters.
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := trade.Filter{
		Status:       trade.Status(q.Get("status")),
		DisputedOnly: q.Get("disputed") == "true",
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown status "+string(f.Status))
		return
	}
	f.BuyerID, _ = strconv.ParseInt(q.Get("buyer_id"), 10, 64)
	f.SellerID, _ = strconv.ParseInt(q.Get("seller_id"), 10, 64)
	f.OfferID, _ = strconv.ParseInt(q.Get("offer_id"), 10, 64)
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	if v := q.Get("created_after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "created_after must be RFC3339")
			return
		}
		f.CreatedAfter = ts
	}
	if v := q.Get("created_before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "created_before must be RFC3339")
			return
		}
		f.CreatedBefore = ts
	}

	trades, err := h.engine.Filter(r.Context(), f)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": toTradeResponses(trades)})
}

// callerTransition wraps the party-initiated transitions that need only the
// trade id and the caller.
func (h *TradeHandler) callerTransition(fn func(ctx transitionCtx) (*trade.Trade, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := tradeID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid trade id")
			return
		}
		caller, ok := callerID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", "missing or invalid "+headerUserID+" header")
			return
		}
		t, err := fn(transitionCtx{r: r, tradeID: id, callerID: caller})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTradeResponse(t))
	}
}

type transitionCtx struct {
	r        *http.Request
	tradeID  int64
	callerID int64
}

// MarkPaid handles POST /trades/{trade_id}/paid.
func (h *TradeHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	h.callerTransition(func(c transitionCtx) (*trade.Trade, error) {
		return h.engine.MarkPaid(c.r.Context(), c.tradeID, c.callerID)
	})(w, r)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /trades/{trade_id}/cancel.
func (h *TradeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.callerTransition(func(c transitionCtx) (*trade.Trade, error) {
		var req cancelRequest
		if c.r.ContentLength > 0 {
			if err := parseJSON(c.r, &req); err != nil {
				return nil, errBadRequest(err.Error())
			}
		}
		return h.engine.Cancel(c.r.Context(), c.tradeID, c.callerID, req.Reason)
	})(w, r)
}

// Release handles POST /trades/{trade_id}/release.
func (h *TradeHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.callerTransition(func(c transitionCtx) (*trade.Trade, error) {
		return h.engine.ReleaseCrypto(c.r.Context(), c.tradeID, c.callerID)
	})(w, r)
}

// Reopen handles POST /trades/{trade_id}/reopen.
func (h *TradeHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.callerTransition(func(c transitionCtx) (*trade.Trade, error) {
		return h.engine.Reopen(c.r.Context(), c.tradeID, c.callerID)
	})(w, r)
}

type openDisputeRequest struct {
	Reason      string `json:"reason"`
	Explanation string `json:"explanation"`
}

// OpenDispute handles POST /trades/{trade_id}/dispute.
func (h *TradeHandler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	h.callerTransition(func(c transitionCtx) (*trade.Trade, error) {
		var req openDisputeRequest
		if err := parseJSON(c.r, &req); err != nil {
			return nil, errBadRequest(err.Error())
		}
		if req.Reason == "" {
			return nil, errBadRequest("reason is required")
		}
		return h.engine.OpenDispute(c.r.Context(), c.tradeID, c.callerID, req.Reason, req.Explanation)
	})(w, r)
}

type resolveDisputeRequest struct {
	AwardedTo string `json:"awarded_to"`
	ModNotes  string `json:"mod_notes"`
}

// ResolveDispute handles POST /trades/{trade_id}/dispute/resolve.
// A moderator operation: no participant check applies.
func (h *TradeHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := tradeID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid trade id")
		return
	}
	var req resolveDisputeRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	awarded := trade.Party(req.AwardedTo)
	if awarded != trade.PartyBuyer && awarded != trade.PartySeller {
		writeError(w, http.StatusBadRequest, "invalid_request", "awarded_to must be buyer or seller")
		return
	}

	t, err := h.engine.ResolveDispute(r.Context(), id, awarded, req.ModNotes)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(t))
}

// adminTransition wraps the operator calls keyed only on the trade id.
func (h *TradeHandler) adminTransition(fn func(r *http.Request, id int64) (*trade.Trade, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := tradeID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid trade id")
			return
		}
		t, err := fn(r, id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTradeResponse(t))
	}
}

// Settle handles POST /trades/{trade_id}/settle.
func (h *TradeHandler) Settle(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(func(r *http.Request, id int64) (*trade.Trade, error) {
		return h.engine.SettleAward(r.Context(), id)
	})(w, r)
}

// Expire handles POST /trades/{trade_id}/expire.
func (h *TradeHandler) Expire(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(func(r *http.Request, id int64) (*trade.Trade, error) {
		return h.engine.Expire(r.Context(), id)
	})(w, r)
}

// RefundExpired handles POST /trades/{trade_id}/refund-expired.
func (h *TradeHandler) RefundExpired(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(func(r *http.Request, id int64) (*trade.Trade, error) {
		return h.engine.RefundExpired(r.Context(), id)
	})(w, r)
}

// Delete handles DELETE /trades/{trade_id}.
func (h *TradeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := tradeID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid trade id")
		return
	}
	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
