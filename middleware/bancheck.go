package middleware

import (
	"net/http"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/audit"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/bans"
)

// BanCheckMiddleware rejects requests from banned IPs or users before any
// quota or upstream work happens.
type BanCheckMiddleware struct {
	ipManager   *bans.Manager
	userManager *bans.Manager
	auditor     *audit.Logger
}

func NewBanCheckMiddleware(ipManager, userManager *bans.Manager, auditor *audit.Logger) *BanCheckMiddleware {
	return &BanCheckMiddleware{
		ipManager:   ipManager,
		userManager: userManager,
		auditor:     auditor,
	}
}

func (m *BanCheckMiddleware) CheckBans(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := getClientIP(r)
		userID := GetUserID(ctx)

		if m.ipManager != nil && m.ipManager.IsBanned(ctx, ip) {
			if m.auditor != nil {
				m.auditor.LogUnauthorizedAccess(ctx, userID, ip, r.UserAgent(), "request from banned ip")
			}
			forbidden(w, "ip banned")
			return
		}

		if userID != "" && m.userManager != nil && m.userManager.IsBanned(ctx, userID) {
			if m.auditor != nil {
				m.auditor.LogUnauthorizedAccess(ctx, userID, ip, r.UserAgent(), "request from banned user")
			}
			forbidden(w, "user banned")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func forbidden(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error": "` + msg + `"}`))
}
