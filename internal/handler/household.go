package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/pantrysync/internal/auth"
	"github.com/dukerupert/pantrysync/internal/email"
	"github.com/dukerupert/pantrysync/internal/household"
	"github.com/dukerupert/pantrysync/internal/model"
)

type HouseholdHandler struct {
	directory *household.Directory
	email     *email.Client
	logger    *slog.Logger
}

func NewHouseholdHandler(dir *household.Directory, ec *email.Client, logger *slog.Logger) *HouseholdHandler {
	return &HouseholdHandler{directory: dir, email: ec, logger: logger}
}

func currentUser(r *http.Request) household.User {
	ac, _ := auth.FromContext(r.Context())
	return household.User{ID: ac.UserID, Email: ac.Email, DisplayName: ac.DisplayName}
}

// List handles GET /api/households
func (h *HouseholdHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.directory.ForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "list households", err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(list))
}

type createHouseholdRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Create handles POST /api/households
func (h *HouseholdHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createHouseholdRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hh, err := h.directory.Create(r.Context(), req.Name, req.Description, currentUser(r))
	if err != nil {
		writeError(w, h.logger, "create household", err)
		return
	}
	writeJSON(w, http.StatusCreated, hh)
}

type joinRequest struct {
	InviteCode string `json:"invite_code"`
}

// Join handles POST /api/households/join
func (h *HouseholdHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hh, err := h.directory.JoinByInviteCode(r.Context(), req.InviteCode, currentUser(r))
	if err != nil {
		writeError(w, h.logger, "join household", err)
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

// Update handles PUT /api/households/{id}
func (h *HouseholdHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req createHouseholdRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hh, err := h.directory.Update(r.Context(), r.PathValue("id"), currentUser(r), req.Name, req.Description)
	if err != nil {
		writeError(w, h.logger, "update household", err)
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

type roleRequest struct {
	Role string `json:"role"`
}

// UpdateRole handles PUT /api/households/{id}/members/{user_id}/role
func (h *HouseholdHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hh, err := h.directory.UpdateMemberRole(r.Context(), r.PathValue("id"), currentUser(r), r.PathValue("user_id"), req.Role)
	if err != nil {
		writeError(w, h.logger, "update member role", err)
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

// RemoveMember handles DELETE /api/households/{id}/members/{user_id}
func (h *HouseholdHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.RemoveMember(r.Context(), r.PathValue("id"), currentUser(r), r.PathValue("user_id")); err != nil {
		writeError(w, h.logger, "remove member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type inviteRequest struct {
	Email string `json:"email"`
}

// Invite handles POST /api/households/{id}/invite. It emails the household's
// invite code; it never creates an account.
func (h *HouseholdHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "a valid email is required"})
		return
	}

	user := currentUser(r)
	hh, err := h.directory.RequireAdmin(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		writeError(w, h.logger, "invite", err)
		return
	}
	if memberByEmail(hh, req.Email) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already a member of this household"})
		return
	}

	inviter := user.DisplayName
	if inviter == "" {
		inviter = user.Email
	}
	err = h.email.SendInvite(r.Context(), email.Invite{
		To:            req.Email,
		InviterName:   inviter,
		HouseholdName: hh.Name,
		InviteCode:    hh.InviteCode,
	})
	if errors.Is(err, email.ErrNotConfigured) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "email is not configured"})
		return
	}
	if err != nil {
		h.logger.Error("send invite", "household_id", hh.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to send invite"})
		return
	}

	h.logger.Info("invite sent", "household_id", hh.ID, "invited_by", user.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func memberByEmail(hh *model.Household, addr string) bool {
	for _, m := range hh.Members {
		if strings.EqualFold(m.Email, addr) {
			return true
		}
	}
	return false
}
