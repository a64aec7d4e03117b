package middleware

import (
	"net/http"
	"strconv"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/audit"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/bans"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/ratelimiter"
)

type RateLimitMiddleware struct {
	limiter *ratelimiter.SlidingLimiter
	auditor *audit.Logger

	// Inline fallback for deployments without the event-stream consumer;
	// when the consumer runs, these stay nil and it evaluates instead.
	ipManager   *bans.Manager
	userManager *bans.Manager
}

func NewRateLimitMiddleware(limiter *ratelimiter.SlidingLimiter, auditor *audit.Logger, ipManager, userManager *bans.Manager) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:     limiter,
		auditor:     auditor,
		ipManager:   ipManager,
		userManager: userManager,
	}
}

func (m *RateLimitMiddleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ip := getClientIP(r)
		userID := GetUserID(ctx)

		result, err := m.limiter.CheckSyncLimit(ctx, userID, ip)
		if err != nil {
			// Counter-store failure; let the request through rather than
			// turn a limiter outage into an outage of the API.
			next.ServeHTTP(w, r)
			return
		}

		if !result.Allowed {
			if m.auditor != nil {
				m.auditor.LogRateLimitExceeded(ctx, userID, ip, r.UserAgent(), result.LimitType)
			}
			if m.ipManager != nil {
				m.ipManager.CheckAndAutoBan(ctx, ip)
			}
			if m.userManager != nil && userID != "" {
				m.userManager.CheckAndAutoBan(ctx, userID)
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": "` + result.Reason + `", "limit_type": "` + result.LimitType + `", "retry_after": ` + strconv.Itoa(result.RetryAfter) + `}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
