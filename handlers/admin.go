package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/bans"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/database"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/middleware"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/ratelimiter"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/repository"
)

type AdminHandler struct {
	ipBans      *bans.Manager
	userBans    *bans.Manager
	ipBanRepo   *repository.BanRepository
	userBanRepo *repository.BanRepository
	eventRepo   *repository.SecurityEventRepository
	statsRepo   *repository.StatsRepository
	limiter     *ratelimiter.SlidingLimiter
	db          *database.Database
}

func NewAdminHandler(
	ipBans *bans.Manager,
	userBans *bans.Manager,
	ipBanRepo *repository.BanRepository,
	userBanRepo *repository.BanRepository,
	eventRepo *repository.SecurityEventRepository,
	statsRepo *repository.StatsRepository,
	limiter *ratelimiter.SlidingLimiter,
	db *database.Database,
) *AdminHandler {
	return &AdminHandler{
		ipBans:      ipBans,
		userBans:    userBans,
		ipBanRepo:   ipBanRepo,
		userBanRepo: userBanRepo,
		eventRepo:   eventRepo,
		statsRepo:   statsRepo,
		limiter:     limiter,
		db:          db,
	}
}

type banRequest struct {
	Subject         string `json:"subject"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
	Severity        string `json:"severity"`
}

type unbanRequest struct {
	Subject string `json:"subject"`
	Reason  string `json:"reason"`
}

// BanIP creates a manual IP ban; duration_minutes of zero means permanent.
func (h *AdminHandler) BanIP(w http.ResponseWriter, r *http.Request) {
	h.ban(w, r, h.ipBans)
}

func (h *AdminHandler) BanUser(w http.ResponseWriter, r *http.Request) {
	h.ban(w, r, h.userBans)
}

func (h *AdminHandler) ban(w http.ResponseWriter, r *http.Request, manager *bans.Manager) {
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "subject and reason are required")
		return
	}
	if req.DurationMinutes < 0 {
		writeError(w, http.StatusBadRequest, "duration_minutes must not be negative")
		return
	}

	actor := middleware.GetUserID(r.Context())
	if actor == "" {
		actor = "admin"
	}

	result := manager.Ban(r.Context(), req.Subject, req.Reason, req.DurationMinutes, models.Severity(req.Severity), actor)
	writeBanResult(w, result, http.StatusCreated)
}

func (h *AdminHandler) UnbanIP(w http.ResponseWriter, r *http.Request) {
	h.unban(w, r, h.ipBans)
}

func (h *AdminHandler) UnbanUser(w http.ResponseWriter, r *http.Request) {
	h.unban(w, r, h.userBans)
}

func (h *AdminHandler) unban(w http.ResponseWriter, r *http.Request, manager *bans.Manager) {
	var req unbanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "subject and reason are required")
		return
	}

	result := manager.Unban(r.Context(), req.Subject, req.Reason)
	writeBanResult(w, result, http.StatusOK)
}

func (h *AdminHandler) ListIPBans(w http.ResponseWriter, r *http.Request) {
	h.listBans(w, r, h.ipBanRepo)
}

func (h *AdminHandler) ListUserBans(w http.ResponseWriter, r *http.Request) {
	h.listBans(w, r, h.userBanRepo)
}

func (h *AdminHandler) listBans(w http.ResponseWriter, r *http.Request, repo *repository.BanRepository) {
	activeOnly := r.URL.Query().Get("active") == "true"
	limit := queryInt(r, "limit", 100)

	list, err := repo.List(r.Context(), activeOnly, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bans": list, "count": len(list)})
}

// GetIPBanDetails returns the active ban for an IP, 404 when none.
func (h *AdminHandler) GetIPBanDetails(w http.ResponseWriter, r *http.Request) {
	h.banDetails(w, r, h.ipBans, r.URL.Query().Get("ip"))
}

func (h *AdminHandler) GetUserBanDetails(w http.ResponseWriter, r *http.Request) {
	h.banDetails(w, r, h.userBans, r.URL.Query().Get("user_id"))
}

func (h *AdminHandler) banDetails(w http.ResponseWriter, r *http.Request, manager *bans.Manager, subject string) {
	if subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	ban, err := manager.BanDetails(r.Context(), subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ban == nil {
		writeError(w, http.StatusNotFound, "no active ban")
		return
	}
	writeJSON(w, http.StatusOK, ban)
}

func (h *AdminHandler) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	eventType := models.EventType(r.URL.Query().Get("type"))
	limit := queryInt(r, "limit", 100)

	events, err := h.eventRepo.ListRecent(r.Context(), eventType, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (h *AdminHandler) GetAbuseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.statsRepo.GetAbuseStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type resetLimitsRequest struct {
	UserID string `json:"user_id"`
	IP     string `json:"ip"`
}

// ResetRateLimits clears the sliding windows for a user, an IP, or both.
// Administrative escape hatch.
func (h *AdminHandler) ResetRateLimits(w http.ResponseWriter, r *http.Request) {
	var req resetLimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.UserID == "" && req.IP == "") {
		writeError(w, http.StatusBadRequest, "user_id or ip is required")
		return
	}

	if req.UserID != "" {
		if err := h.limiter.ResetUserLimits(r.Context(), req.UserID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	if req.IP != "" {
		if err := h.limiter.ResetIPLimits(r.Context(), req.IP); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]interface{}{"status": status})
}

func writeBanResult(w http.ResponseWriter, result *models.BanResult, successCode int) {
	switch {
	case result.Success:
		writeJSON(w, successCode, result)
	case result.Conflict:
		writeJSON(w, http.StatusConflict, result)
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if val := r.URL.Query().Get(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}
