package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pantrysync/internal/auth"
	"github.com/dukerupert/pantrysync/internal/identity"
	"github.com/dukerupert/pantrysync/internal/middleware"
	"github.com/dukerupert/pantrysync/internal/model"
)

type AuthHandler struct {
	identity *identity.Service
	logger   *slog.Logger
}

func NewAuthHandler(svc *identity.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{identity: svc, logger: logger}
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, sess *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

// SignUp handles POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.identity.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, h.logger, "sign up", err)
		return
	}

	setSessionCookie(w, r, sess)
	writeJSON(w, http.StatusCreated, sess)
}

// SignIn handles POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, "sign in", err)
		return
	}

	setSessionCookie(w, r, sess)
	writeJSON(w, http.StatusOK, sess)
}

// SignOut handles POST /api/auth/signout. The cookie is cleared even when
// revoking the session fails.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	ac, _ := auth.FromContext(r.Context())
	if err := h.identity.SignOut(r.Context(), ac.Session); err != nil {
		h.logger.Warn("sign out failed", "user_id", ac.UserID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type profileRequest struct {
	DisplayName string `json:"display_name"`
}

// UpdateProfile handles PUT /api/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.identity.UpdateProfile(r.Context(), auth.UserID(r.Context()), req.DisplayName)
	if err != nil {
		writeError(w, h.logger, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
