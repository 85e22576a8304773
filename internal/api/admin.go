package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/admission"
	"github.com/jmaddux/frontdesk/internal/auth"
	"github.com/jmaddux/frontdesk/internal/bridge"
	"github.com/jmaddux/frontdesk/internal/storage"
	"github.com/jmaddux/frontdesk/internal/telephony"
)

// AdminHandler serves the staff/admin observability and control endpoints
type AdminHandler struct {
	limiter  *admission.Limiter
	registry *bridge.Registry
	store    storage.Store
	dialer   *telephony.Dialer
	logger   zerolog.Logger
	started  time.Time
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(limiter *admission.Limiter, registry *bridge.Registry, store storage.Store, dialer *telephony.Dialer, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		limiter:  limiter,
		registry: registry,
		store:    store,
		dialer:   dialer,
		logger:   logger,
		started:  time.Now(),
	}
}

// RequireAdmin allows only the admin role
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || !auth.HasRole(claims, "admin") {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStaffOrAdmin allows the staff and admin roles
func RequireStaffOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || (claims.Role != "admin" && claims.Role != "staff") {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"staff or admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// GetStatus reports live call count and uptime
func (h *AdminHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activeCalls":   h.registry.Count(),
		"liveCallSids":  h.registry.CallSIDs(),
		"uptimeSeconds": int(time.Since(h.started).Seconds()),
	})
}

// GetLimiterStats returns the rate limiter's window counts. With a ?key=
// query parameter it includes that caller's current usage.
func (h *AdminHandler) GetLimiterStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"trackedKeys": h.limiter.KeyCount(),
	}
	if key := r.URL.Query().Get("key"); key != "" {
		resp["key"] = key
		resp["stats"] = h.limiter.Stats(key)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetConsent reports the stored consent flag for a number
func (h *AdminHandler) GetConsent(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	granted, err := h.store.HasConsent(r.Context(), number)
	if err != nil {
		h.logger.Error().Err(err).Str("number", number).Msg("consent lookup failed")
		http.Error(w, `{"error":"storage error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"number":  number,
		"granted": granted,
	})
}

// PutConsent stores or revokes consent for a number
func (h *AdminHandler) PutConsent(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	var req struct {
		Granted bool `json:"granted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.store.SetConsent(r.Context(), number, req.Granted); err != nil {
		h.logger.Error().Err(err).Str("number", number).Msg("consent update failed")
		http.Error(w, `{"error":"storage error"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("number", number).Bool("granted", req.Granted).Msg("consent updated")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"number":  number,
		"granted": req.Granted,
	})
}

// ListCalls returns all call sessions for a date (defaults to today)
func (h *AdminHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	dateKey := r.URL.Query().Get("date")
	if dateKey == "" {
		dateKey = time.Now().UTC().Format("2006-01-02")
	}

	sessions, err := h.store.ListCallSessions(r.Context(), dateKey)
	if err != nil {
		h.logger.Error().Err(err).Str("date", dateKey).Msg("failed to list call sessions")
		http.Error(w, `{"error":"storage error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":  dateKey,
		"count": len(sessions),
		"calls": sessions,
	})
}

// GetCall returns one call session by SID
func (h *AdminHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	callSID := chi.URLParam(r, "callSid")

	session, err := h.store.GetCallSession(r.Context(), callSID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, `{"error":"call not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("call_sid", callSID).Msg("failed to load call session")
		http.Error(w, `{"error":"storage error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// GetWorkflowResult returns the post-call workflow result for a call
func (h *AdminHandler) GetWorkflowResult(w http.ResponseWriter, r *http.Request) {
	callSID := chi.URLParam(r, "callSid")

	result, err := h.store.GetWorkflowResult(r.Context(), callSID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, `{"error":"no workflow result for call"}`, http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("call_sid", callSID).Msg("failed to load workflow result")
		http.Error(w, `{"error":"storage error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Dial places an outbound call. Consent violations and rate rejections map
// to distinct statuses so operators can tell them apart.
func (h *AdminHandler) Dial(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
		http.Error(w, `{"error":"invalid request body, expected {\"to\":\"+1...\"}"}`, http.StatusBadRequest)
		return
	}

	callSID, err := h.dialer.Dial(r.Context(), req.To)
	if err != nil {
		if errors.Is(err, admission.ErrConsentRequired) {
			http.Error(w, `{"error":"recipient has not consented to calls"}`, http.StatusForbidden)
			return
		}
		if errors.Is(err, admission.ErrRejected) {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		h.logger.Error().Err(err).Str("to", req.To).Msg("outbound dial failed")
		http.Error(w, `{"error":"telephony provider unavailable"}`, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"callSid": callSID,
		"to":      req.To,
	})
}
