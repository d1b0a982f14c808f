package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRecord is the server-side half of a signed token. A token is only
// honoured while its session row exists and has not expired.
type SessionRecord struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionCols = `id, user_id, expires_at, created_at`

func scanSession(s scanner) (*SessionRecord, error) {
	var r SessionRecord
	if err := s.Scan(&r.ID, &r.UserID, &r.ExpiresAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// Create stores a session with the given id, normally the token's jti.
func (s *SessionStore) Create(ctx context.Context, id, userID string, expiresAt time.Time) (*SessionRecord, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		id, userID, expiresAt.UTC(), now(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns an unexpired session, or nil.
func (s *SessionStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = ? AND expires_at > ?`,
		id, now(),
	)
	r, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return r, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry and returns how many went.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
