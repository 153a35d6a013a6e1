package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// RateLimit limits request rate per tenant and user, falling back to client
// IP on unauthenticated routes.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(keyByPrincipal),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// ConversationRateLimit limits request rate per conversation, so one chatty
// conversation cannot exhaust its tenant's whole budget.
func ConversationRateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := chi.URLParam(r, "id"); id != "" {
				return "conversation:" + id, nil
			}
			return keyByPrincipal(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func keyByPrincipal(r *http.Request) (string, error) {
	if tenantID := GetTenantID(r.Context()); tenantID != "" {
		if userID := GetUserID(r.Context()); userID != "" {
			return "tenant:" + tenantID + ":user:" + userID, nil
		}
		return "tenant:" + tenantID, nil
	}
	return "ip:" + r.RemoteAddr, nil
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded","retry_after":60}`))
}
