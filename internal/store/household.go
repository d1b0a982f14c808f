package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/pantrysync/internal/ids"
	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/model"
)

// inviteCodeAttempts bounds retries when a generated invite code collides
// with an existing household.
const inviteCodeAttempts = 5

// HouseholdStore keeps households and their memberships. Members live in
// their own table; Household.Members and MemberUserIDs are both built from
// it, so the two can never disagree.
type HouseholdStore struct {
	db     *sql.DB
	notify Notifier
}

func NewHouseholdStore(db *sql.DB, n Notifier) *HouseholdStore {
	return &HouseholdStore{db: db, notify: notifierOrNop(n)}
}

func scanHousehold(s scanner) (*model.Household, error) {
	var h model.Household
	err := s.Scan(&h.ID, &h.Name, &h.Description, &h.CreatedBy, &h.InviteCode, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	h.Members = []model.Member{}
	h.MemberUserIDs = []string{}
	return &h, nil
}

func scanMember(s scanner) (householdID string, m model.Member, err error) {
	err = s.Scan(&householdID, &m.UserID, &m.Email, &m.DisplayName, &m.Role, &m.JoinedAt)
	return householdID, m, err
}

const householdCols = `id, name, description, created_by, invite_code, created_at, updated_at`
const memberCols = `household_id, user_id, email, display_name, role, joined_at`

// Create inserts a household with a fresh invite code and creator as its
// admin in one transaction.
func (s *HouseholdStore) Create(ctx context.Context, name, description string, creator model.Member) (*model.Household, error) {
	id := ids.New()
	ts := now()

	var lastErr error
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := ids.InviteCode()
		if err != nil {
			return nil, err
		}
		err = s.insert(ctx, id, name, description, code, creator, ts)
		if err == nil {
			s.notify.Publish(livequery.CollectionHouseholds, creator.UserID)
			return s.GetByID(ctx, id)
		}
		if !isUniqueViolation(err, "invite_code") {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("allocate invite code: %w", lastErr)
}

func (s *HouseholdStore) insert(ctx context.Context, id, name, description, code string, creator model.Member, ts time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO households (id, name, description, created_by, invite_code, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, description, creator.UserID, code, ts, ts,
	); err != nil {
		return fmt.Errorf("insert household: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO household_members (household_id, user_id, email, display_name, role, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, creator.UserID, creator.Email, creator.DisplayName, model.RoleAdmin, ts,
	); err != nil {
		return fmt.Errorf("insert creator: %w", err)
	}
	return tx.Commit()
}

func isUniqueViolation(err error, column string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}

func (s *HouseholdStore) GetByID(ctx context.Context, id string) (*model.Household, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+householdCols+` FROM households WHERE id = ?`, id)
	return s.getOne(ctx, row, "get household")
}

// GetByInviteCode looks a household up by its exact invite code.
func (s *HouseholdStore) GetByInviteCode(ctx context.Context, code string) (*model.Household, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+householdCols+` FROM households WHERE invite_code = ?`, code)
	return s.getOne(ctx, row, "get household by invite code")
}

func (s *HouseholdStore) getOne(ctx context.Context, row *sql.Row, op string) (*model.Household, error) {
	h, err := scanHousehold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	byID := map[string]*model.Household{h.ID: h}
	if err := s.loadMembers(ctx, `household_id = ?`, []any{h.ID}, byID); err != nil {
		return nil, err
	}
	return h, nil
}

// ListForUser returns the households userID belongs to, oldest first. The
// order is stable across calls.
func (s *HouseholdStore) ListForUser(ctx context.Context, userID string) ([]model.Household, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT h.id, h.name, h.description, h.created_by, h.invite_code, h.created_at, h.updated_at
		 FROM households h
		 JOIN household_members hm ON h.id = hm.household_id
		 WHERE hm.user_id = ?
		 ORDER BY h.created_at ASC, h.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list households for user: %w", err)
	}

	var list []*model.Household
	byID := make(map[string]*model.Household)
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan household: %w", err)
		}
		list = append(list, h)
		byID[h.ID] = h
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list households for user: %w", err)
	}
	rows.Close()

	if len(list) > 0 {
		err := s.loadMembers(ctx,
			`household_id IN (SELECT household_id FROM household_members WHERE user_id = ?)`,
			[]any{userID}, byID)
		if err != nil {
			return nil, err
		}
	}

	households := make([]model.Household, 0, len(list))
	for _, h := range list {
		households = append(households, *h)
	}
	return households, nil
}

func (s *HouseholdStore) loadMembers(ctx context.Context, where string, args []any, byID map[string]*model.Household) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberCols+` FROM household_members WHERE `+where+` ORDER BY joined_at ASC, user_id ASC`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		hid, m, err := scanMember(rows)
		if err != nil {
			return fmt.Errorf("scan member: %w", err)
		}
		h, ok := byID[hid]
		if !ok {
			continue
		}
		h.Members = append(h.Members, m)
		h.MemberUserIDs = append(h.MemberUserIDs, m.UserID)
	}
	return rows.Err()
}

// Update renames a household and changes its description.
func (s *HouseholdStore) Update(ctx context.Context, id, name, description string) (*model.Household, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE households SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		name, description, now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update household: %w", err)
	}
	h, err := s.GetByID(ctx, id)
	if err != nil || h == nil {
		return h, err
	}
	s.publishMembers(h.MemberUserIDs)
	return h, nil
}

// AddMember inserts a membership. added is false when the user was already
// a member, in which case nothing changes.
func (s *HouseholdStore) AddMember(ctx context.Context, householdID string, m model.Member) (added bool, err error) {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = now()
	}
	added, err = s.changeMembers(ctx, "add member", householdID,
		`INSERT INTO household_members (household_id, user_id, email, display_name, role, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(household_id, user_id) DO NOTHING`,
		householdID, m.UserID, m.Email, m.DisplayName, m.Role, m.JoinedAt,
	)
	if added {
		s.notify.Publish(livequery.CollectionHouseholds, m.UserID)
	}
	return added, err
}

// UpdateMemberRole sets the role of an existing member. updated is false
// when userID is not a member.
func (s *HouseholdStore) UpdateMemberRole(ctx context.Context, householdID, userID, role string) (updated bool, err error) {
	return s.changeMembers(ctx, "update member role", householdID,
		`UPDATE household_members SET role = ? WHERE household_id = ? AND user_id = ?`,
		role, householdID, userID,
	)
}

// RemoveMember deletes a membership. removed is false when userID was not a
// member.
func (s *HouseholdStore) RemoveMember(ctx context.Context, householdID, userID string) (removed bool, err error) {
	removed, err = s.changeMembers(ctx, "remove member", householdID,
		`DELETE FROM household_members WHERE household_id = ? AND user_id = ?`,
		householdID, userID,
	)
	if removed {
		s.notify.Publish(livequery.CollectionHouseholds, userID)
	}
	return removed, err
}

// changeMembers runs one membership statement and, when it changed a row,
// bumps the household's updated_at in the same transaction. Remaining
// members are notified after commit.
func (s *HouseholdStore) changeMembers(ctx context.Context, op, householdID, stmt string, args ...any) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE households SET updated_at = ? WHERE id = ?`, now(), householdID,
	); err != nil {
		return false, fmt.Errorf("%s: touch household: %w", op, err)
	}
	users, err := memberUserIDs(ctx, tx, householdID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: commit: %w", op, err)
	}
	s.publishMembers(users)
	return true, nil
}

func memberUserIDs(ctx context.Context, tx *sql.Tx, householdID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT user_id FROM household_members WHERE household_id = ?`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		users = append(users, uid)
	}
	return users, rows.Err()
}

func (s *HouseholdStore) publishMembers(userIDs []string) {
	for _, uid := range userIDs {
		s.notify.Publish(livequery.CollectionHouseholds, uid)
	}
}
