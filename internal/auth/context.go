// Package auth carries the authenticated caller through a request context.
package auth

import (
	"context"

	"github.com/dukerupert/pantrysync/internal/model"
)

type contextKey struct{}

// AuthContext is set by the auth middleware. HouseholdID and Role are only
// filled on household-scoped routes.
type AuthContext struct {
	UserID      string
	Email       string
	DisplayName string
	SessionID   string
	HouseholdID string
	Role        string
	Session     *model.Session
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

// FromSession builds the context for a verified session.
func FromSession(s *model.Session) AuthContext {
	return AuthContext{
		UserID:      s.UserID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		SessionID:   s.ID,
		Session:     s,
	}
}

func HouseholdID(ctx context.Context) string {
	ac, _ := FromContext(ctx)
	return ac.HouseholdID
}

func UserID(ctx context.Context) string {
	ac, _ := FromContext(ctx)
	return ac.UserID
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	return ok && ac.Role == model.RoleAdmin
}

// Actor returns the caller as recorded on activity entries.
func Actor(ctx context.Context) model.Actor {
	ac, _ := FromContext(ctx)
	name := ac.DisplayName
	if name == "" {
		name = ac.Email
	}
	return model.Actor{UserID: ac.UserID, Name: name}
}
