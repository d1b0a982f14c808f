package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/auth"
	"github.com/dukerupert/pantrysync/internal/middleware"
	"github.com/dukerupert/pantrysync/internal/push"
	"github.com/dukerupert/pantrysync/internal/store"
)

type PushHandler struct {
	pushStore  *store.PushStore
	service    *push.Service
	households middleware.HouseholdLookup
	logger     *slog.Logger
}

func NewPushHandler(ps *store.PushStore, svc *push.Service, households middleware.HouseholdLookup, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, service: svc, households: households, logger: logger}
}

type subscribeRequest struct {
	HouseholdID string `json:"household_id"`
	Endpoint    string `json:"endpoint"`
	P256dh      string `json:"p256dh"`
	Auth        string `json:"auth"`
	DeviceName  string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscribe. Re-subscribing an endpoint
// moves it to the caller and household given.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.HouseholdID == "" || req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "household_id, endpoint, p256dh, and auth are required"})
		return
	}

	userID := auth.UserID(r.Context())
	if _, err := h.households.Get(r.Context(), req.HouseholdID, userID); err != nil {
		writeError(w, h.logger, "push subscribe", err)
		return
	}

	sub, err := h.pushStore.CreateSubscription(r.Context(), userID, req.HouseholdID, req.Endpoint, req.P256dh, req.Auth, req.DeviceName)
	if err != nil {
		writeError(w, h.logger, "create push subscription", apperr.Unavailable("create push subscription", err))
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe handles POST /api/push/unsubscribe
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "endpoint is required"})
		return
	}

	if err := h.pushStore.DeleteByEndpoint(r.Context(), req.Endpoint); err != nil {
		writeError(w, h.logger, "delete push subscription", apperr.Unavailable("delete push subscription", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if !h.service.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "push notifications are not configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.service.VAPIDPublicKey()})
}
