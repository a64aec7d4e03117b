package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/audit"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/middleware"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/proxy"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/urlcheck"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/usage"
)

const (
	// TargetURLHeader names the third-party base URL the caller wants the
	// relay to dial.
	TargetURLHeader = "X-Target-Base-URL"

	// RelayModeHeader selects shared mode (pooled credentials, metered
	// against the daily quota) or private mode (caller's own credentials,
	// unmetered here).
	RelayModeHeader = "X-Relay-Mode"
)

// RelayHandler fronts the AI relay: URL validation, then quota, then
// forward. Quota charged in shared mode is refunded when the upstream
// never answers.
type RelayHandler struct {
	usageManager *usage.Manager
	relay        *proxy.Relay
	auditor      *audit.Logger
}

func NewRelayHandler(usageManager *usage.Manager, relay *proxy.Relay, auditor *audit.Logger) *RelayHandler {
	return &RelayHandler{
		usageManager: usageManager,
		relay:        relay,
		auditor:      auditor,
	}
}

func (h *RelayHandler) Relay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	trustLevel := middleware.GetTrustLevel(ctx)
	ip := middleware.ClientIP(r)

	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	target := r.Header.Get(TargetURLHeader)
	verdict := urlcheck.ValidateBaseURL(target)
	if verdict.IsBlocked {
		if h.auditor != nil {
			h.auditor.LogInvalidInput(ctx, userID, ip, r.UserAgent(), "blocked relay target",
				map[string]interface{}{"target": target, "reason": verdict.Reason, "blocked_domain": verdict.BlockedDomain})
		}
		writeError(w, http.StatusForbidden, "target URL not allowed: "+verdict.Reason)
		return
	}
	if !verdict.IsValid {
		if h.auditor != nil {
			h.auditor.LogInvalidInput(ctx, userID, ip, r.UserAgent(), "invalid relay target",
				map[string]interface{}{"target": target, "reason": verdict.Reason})
		}
		writeError(w, http.StatusBadRequest, "invalid target URL: "+verdict.Reason)
		return
	}

	shared := r.Header.Get(RelayModeHeader) != "private"
	if shared {
		result := h.usageManager.CheckAndRecordUsage(ctx, userID, trustLevel, models.UsageConversation)
		if result.Error != "" && result.Limit <= 0 {
			writeError(w, http.StatusForbidden, result.Error)
			return
		}
		if result.Error != "" {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !result.Allowed {
			retry := int(time.Until(h.usageManager.NextResetTime()).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("X-Quota-Limit", strconv.Itoa(result.Limit))
			writeError(w, http.StatusTooManyRequests, "daily quota exhausted")
			return
		}
	}

	upstreamOK, err := h.relay.Forward(w, r, verdict.NormalizedURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target URL")
		upstreamOK = false
	}
	if !upstreamOK && shared {
		// The quota was charged but the call never reached the provider.
		h.usageManager.RollbackUsage(ctx, userID, models.UsageConversation)
	}
}
