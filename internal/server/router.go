// Package server is the HTTP surface of the lifecycle engine. Routing uses
// chi; domain errors map to status codes in response.go. The API trusts
// identity and geo headers set by the edge and performs no authentication
// itself.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"EscrowDesk/internal/engine"
	"EscrowDesk/internal/observability"
)

// NewRouter builds the chi router with all trade routes, health probes,
// request logging and per-route metrics.
func NewRouter(eng *engine.Manager, health *observability.HealthChecker, log zerolog.Logger, metrics *observability.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(requestObserver(log, metrics))

	h := NewTradeHandler(eng)

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)

	r.Route("/trades", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/by-request/{request_id}", h.GetByRequestID)

		r.Route("/{trade_id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)

			r.Post("/paid", h.MarkPaid)
			r.Post("/cancel", h.Cancel)
			r.Post("/release", h.Release)
			r.Post("/reopen", h.Reopen)

			r.Post("/dispute", h.OpenDispute)
			r.Post("/dispute/resolve", h.ResolveDispute)
			r.Post("/settle", h.Settle)

			r.Post("/expire", h.Expire)
			r.Post("/refund-expired", h.RefundExpired)
		})
	})

	r.Get("/users/{user_id}/trades", h.ListForUser)

	return r
}

// requestObserver logs each request and records route metrics. The route
// label uses the chi pattern, not the raw path, to bound cardinality.
func requestObserver(log zerolog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)

			metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.status)).Inc()
			metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())

			log.Info().
				Str("method", r.Method).
				Str("route", route).
				Int("status", ww.status).
				Dur("duration", elapsed).
				Msg("request")
		})
	}
}

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
