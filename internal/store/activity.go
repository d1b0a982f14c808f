package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/pantrysync/internal/ids"
	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/model"
)

// DefaultActivityLimit caps the activity feed query.
const DefaultActivityLimit = 50

// ActivityStore is the append-only household activity log.
type ActivityStore struct {
	db     *sql.DB
	notify Notifier
}

func NewActivityStore(db *sql.DB, n Notifier) *ActivityStore {
	return &ActivityStore{db: db, notify: notifierOrNop(n)}
}

func scanActivity(s scanner) (*model.Activity, error) {
	var a model.Activity
	var metadata sql.NullString
	err := s.Scan(&a.ID, &a.HouseholdID, &a.Type, &a.UserID, &a.UserName, &a.Description, &metadata, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of activity %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

const activityCols = `id, household_id, type, user_id, user_name, description, metadata, created_at`

// Add appends a to the log. ID and CreatedAt are assigned here.
func (s *ActivityStore) Add(ctx context.Context, a model.Activity) (*model.Activity, error) {
	a.ID = ids.New()
	a.CreatedAt = now()

	var metadata sql.NullString
	if len(a.Metadata) > 0 {
		data, err := json.Marshal(a.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (`+activityCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.HouseholdID, a.Type, a.UserID, a.UserName, a.Description, metadata, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert activity: %w", err)
	}
	s.notify.Publish(livequery.CollectionActivities, a.HouseholdID)
	return &a, nil
}

// ListByHousehold returns up to limit entries, newest first. A limit of zero
// or less means DefaultActivityLimit.
func (s *ActivityStore) ListByHousehold(ctx context.Context, householdID string, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+activityCols+` FROM activities WHERE household_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		householdID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	out := []model.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
