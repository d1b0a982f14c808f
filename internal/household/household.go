// Package household is the household directory: creating households,
// listing a user's households, joining by invite code and managing members.
// Membership changes write member_join and member_leave activities.
package household

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/ids"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/obs"
	"github.com/dukerupert/pantrysync/internal/store"
)

// User identifies the member performing an operation.
type User struct {
	ID          string
	Email       string
	DisplayName string
}

// UserFromSession builds a User from a signed-in session.
func UserFromSession(s *model.Session) User {
	return User{ID: s.UserID, Email: s.Email, DisplayName: s.DisplayName}
}

func (u User) name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Directory wraps the household store with membership rules.
type Directory struct {
	households *store.HouseholdStore
	activities *store.ActivityStore
	logger     *slog.Logger
}

func NewDirectory(households *store.HouseholdStore, activities *store.ActivityStore, logger *slog.Logger) *Directory {
	return &Directory{households: households, activities: activities, logger: logger}
}

// Create makes a household with creator as its only admin.
func (d *Directory) Create(ctx context.Context, name, description string, creator User) (*model.Household, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("household name is required")
	}
	if creator.ID == "" {
		return nil, apperr.Validation("creator is required")
	}

	h, err := d.households.Create(ctx, name, strings.TrimSpace(description), model.Member{
		UserID:      creator.ID,
		Email:       creator.Email,
		DisplayName: creator.DisplayName,
	})
	if err != nil {
		return nil, apperr.Unavailable("create household", err)
	}
	d.logger.Info("household created", "household_id", h.ID, "user_id", creator.ID)
	return h, nil
}

// ForUser lists userID's households in stable store order.
func (d *Directory) ForUser(ctx context.Context, userID string) ([]model.Household, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	list, err := d.households.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Unavailable("list households", err)
	}
	return list, nil
}

// HouseholdsForUser satisfies the bootstrap household loader.
func (d *Directory) HouseholdsForUser(ctx context.Context, userID string) ([]model.Household, error) {
	return d.ForUser(ctx, userID)
}

// Get returns a household userID belongs to. Non-members get NotFound so
// household ids do not leak.
func (d *Directory) Get(ctx context.Context, householdID, userID string) (*model.Household, error) {
	h, err := d.households.GetByID(ctx, householdID)
	if err != nil {
		return nil, apperr.Unavailable("get household", err)
	}
	if h == nil || h.Member(userID) == nil {
		return nil, fmt.Errorf("household %s: %w", householdID, apperr.ErrNotFound)
	}
	return h, nil
}

// NormalizeInviteCode trims and upper-cases a typed invite code.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// JoinByInviteCode adds user to the household owning code as a member.
func (d *Directory) JoinByInviteCode(ctx context.Context, code string, user User) (*model.Household, error) {
	code = NormalizeInviteCode(code)
	if len(code) != ids.InviteCodeLength {
		return nil, apperr.ErrInvalidInviteCode
	}

	h, err := d.households.GetByInviteCode(ctx, code)
	if err != nil {
		return nil, apperr.Unavailable("find household", err)
	}
	if h == nil {
		return nil, apperr.ErrInvalidInviteCode
	}
	if h.Member(user.ID) != nil {
		return nil, apperr.ErrAlreadyMember
	}

	added, err := d.households.AddMember(ctx, h.ID, model.Member{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        model.RoleMember,
	})
	if err != nil {
		return nil, apperr.Unavailable("join household", err)
	}
	if !added {
		return nil, apperr.ErrAlreadyMember
	}

	d.record(ctx, model.Activity{
		HouseholdID: h.ID,
		Type:        model.ActivityMemberJoin,
		UserID:      user.ID,
		UserName:    user.name(),
		Description: fmt.Sprintf("%s joined the household", user.name()),
	})

	joined, err := d.households.GetByID(ctx, h.ID)
	if err != nil {
		return nil, apperr.Unavailable("get household", err)
	}
	return joined, nil
}

// Update lets an admin rename the household or change its description.
func (d *Directory) Update(ctx context.Context, householdID string, actor User, name, description string) (*model.Household, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("household name is required")
	}
	if _, err := d.adminHousehold(ctx, householdID, actor.ID); err != nil {
		return nil, err
	}
	h, err := d.households.Update(ctx, householdID, name, strings.TrimSpace(description))
	if err != nil {
		return nil, apperr.Unavailable("update household", err)
	}
	if h == nil {
		return nil, fmt.Errorf("household %s: %w", householdID, apperr.ErrNotFound)
	}
	return h, nil
}

// UpdateMemberRole lets an admin change another member's role. The last
// admin cannot be demoted.
func (d *Directory) UpdateMemberRole(ctx context.Context, householdID string, actor User, memberID, role string) (*model.Household, error) {
	if !model.ValidRole(role) {
		return nil, apperr.Validation("role must be %q or %q", model.RoleAdmin, model.RoleMember)
	}
	h, err := d.adminHousehold(ctx, householdID, actor.ID)
	if err != nil {
		return nil, err
	}
	target := h.Member(memberID)
	if target == nil {
		return nil, fmt.Errorf("member %s: %w", memberID, apperr.ErrNotFound)
	}
	if target.Role == model.RoleAdmin && role != model.RoleAdmin && h.AdminCount() == 1 {
		return nil, apperr.Validation("a household needs at least one admin")
	}

	if _, err := d.households.UpdateMemberRole(ctx, householdID, memberID, role); err != nil {
		return nil, apperr.Unavailable("update member role", err)
	}
	updated, err := d.households.GetByID(ctx, householdID)
	if err != nil {
		return nil, apperr.Unavailable("get household", err)
	}
	return updated, nil
}

// RemoveMember lets an admin remove a member, or any member remove
// themselves. The last admin cannot leave while others remain.
func (d *Directory) RemoveMember(ctx context.Context, householdID string, actor User, memberID string) error {
	h, err := d.households.GetByID(ctx, householdID)
	if err != nil {
		return apperr.Unavailable("get household", err)
	}
	if h == nil || h.Member(actor.ID) == nil {
		return fmt.Errorf("household %s: %w", householdID, apperr.ErrNotFound)
	}
	if memberID != actor.ID && !h.IsAdmin(actor.ID) {
		return fmt.Errorf("remove member: %w", apperr.ErrUnauthorized)
	}
	target := h.Member(memberID)
	if target == nil {
		return fmt.Errorf("member %s: %w", memberID, apperr.ErrNotFound)
	}
	if target.Role == model.RoleAdmin && h.AdminCount() == 1 && len(h.Members) > 1 {
		return apperr.Validation("promote another admin before removing the last one")
	}

	if _, err := d.households.RemoveMember(ctx, householdID, memberID); err != nil {
		return apperr.Unavailable("remove member", err)
	}

	name := target.DisplayName
	if name == "" {
		name = target.Email
	}
	desc := fmt.Sprintf("%s left the household", name)
	if memberID != actor.ID {
		desc = fmt.Sprintf("%s removed %s from the household", actor.name(), name)
	}
	d.record(ctx, model.Activity{
		HouseholdID: householdID,
		Type:        model.ActivityMemberLeave,
		UserID:      actor.ID,
		UserName:    actor.name(),
		Description: desc,
		Metadata:    map[string]any{"memberId": memberID},
	})
	return nil
}

// RequireAdmin returns the household when userID is one of its admins.
func (d *Directory) RequireAdmin(ctx context.Context, householdID, userID string) (*model.Household, error) {
	return d.adminHousehold(ctx, householdID, userID)
}

func (d *Directory) adminHousehold(ctx context.Context, householdID, userID string) (*model.Household, error) {
	h, err := d.Get(ctx, householdID, userID)
	if err != nil {
		return nil, err
	}
	if !h.IsAdmin(userID) {
		return nil, fmt.Errorf("household %s: %w", householdID, apperr.ErrUnauthorized)
	}
	return h, nil
}

// record writes an activity. Failures are logged and counted, never
// returned: the membership change already happened.
func (d *Directory) record(ctx context.Context, a model.Activity) {
	if _, err := d.activities.Add(ctx, a); err != nil {
		obs.ActivityWriteFailures.Inc()
		d.logger.Error("activity write failed", "household_id", a.HouseholdID, "type", a.Type, "error", err)
	}
}
