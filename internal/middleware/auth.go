package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/auth"
	"github.com/dukerupert/pantrysync/internal/model"
)

// SessionCookieName carries the bearer token for browser clients.
const SessionCookieName = "pantrysync_session"

// Verifier resolves a bearer token to a live session.
type Verifier interface {
	Verify(ctx context.Context, token string) (*model.Session, error)
}

// HouseholdLookup returns a household the user belongs to.
type HouseholdLookup interface {
	Get(ctx context.Context, householdID, userID string) (*model.Household, error)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// BearerToken reads the token from the Authorization header, falling back to
// the session cookie.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuth verifies the caller's token and populates AuthContext.
func RequireAuth(v Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			sess, err := v.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, apperr.ErrUnauthorized) {
					writeError(w, http.StatusUnauthorized, "invalid or expired session")
					return
				}
				logger.Error("verify session", "error", err)
				writeError(w, http.StatusServiceUnavailable, "could not verify session")
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.FromSession(sess))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireMember resolves the {id} path value to a household the caller
// belongs to and adds it and the caller's role to AuthContext. It must run
// after RequireAuth.
func RequireMember(households HouseholdLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := auth.FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			h, err := households.Get(r.Context(), r.PathValue("id"), ac.UserID)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
				writeError(w, http.StatusNotFound, "household not found")
				return
			case err != nil:
				writeError(w, http.StatusServiceUnavailable, "could not load household")
				return
			}

			ac.HouseholdID = h.ID
			ac.Role = h.Member(ac.UserID).Role
			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

// RequireAdmin checks that the authenticated user has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
