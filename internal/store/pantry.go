package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/pantrysync/internal/ids"
	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/model"
)

type PantryStore struct {
	db     *sql.DB
	notify Notifier
}

func NewPantryStore(db *sql.DB, n Notifier) *PantryStore {
	return &PantryStore{db: db, notify: notifierOrNop(n)}
}

func scanPantryItem(s scanner) (*model.PantryItem, error) {
	var p model.PantryItem
	var expiry sql.NullTime
	err := s.Scan(
		&p.ID, &p.HouseholdID, &p.Name, &p.Category, &p.Quantity, &p.Unit,
		&expiry, &p.ImageURL, &p.Notes, &p.LowStockThreshold, &p.AddedBy,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		t := expiry.Time
		p.ExpiryDate = &t
	}
	return &p, nil
}

const pantryItemCols = `id, household_id, name, category, quantity, unit, expiry_date, image_url, notes, low_stock_threshold, added_by, created_at, updated_at`

// Create inserts item, assigning its id and timestamps.
func (s *PantryStore) Create(ctx context.Context, item model.PantryItem) (*model.PantryItem, error) {
	item.ID = ids.New()
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pantry_items (`+pantryItemCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.HouseholdID, item.Name, item.Category, item.Quantity, item.Unit,
		expiryArg(item), item.ImageURL, item.Notes, item.LowStockThreshold, item.AddedBy,
		ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pantry item: %w", err)
	}
	s.notify.Publish(livequery.CollectionPantryItems, item.HouseholdID)
	return s.GetByID(ctx, item.HouseholdID, item.ID)
}

func expiryArg(item model.PantryItem) sql.NullTime {
	if item.ExpiryDate == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: item.ExpiryDate.UTC(), Valid: true}
}

func (s *PantryStore) GetByID(ctx context.Context, householdID, id string) (*model.PantryItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pantryItemCols+` FROM pantry_items WHERE id = ? AND household_id = ?`,
		id, householdID,
	)
	p, err := scanPantryItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pantry item: %w", err)
	}
	return p, nil
}

// ListByHousehold returns the household's items ordered by name.
func (s *PantryStore) ListByHousehold(ctx context.Context, householdID string) ([]model.PantryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pantryItemCols+` FROM pantry_items WHERE household_id = ? ORDER BY name ASC, id ASC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pantry items: %w", err)
	}
	defer rows.Close()

	items := []model.PantryItem{}
	for rows.Next() {
		p, err := scanPantryItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pantry item: %w", err)
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}

// Update writes every mutable field of item. It returns nil when the item
// does not exist.
func (s *PantryStore) Update(ctx context.Context, item model.PantryItem) (*model.PantryItem, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pantry_items
		 SET name = ?, category = ?, quantity = ?, unit = ?, expiry_date = ?, image_url = ?,
		     notes = ?, low_stock_threshold = ?, updated_at = ?
		 WHERE id = ? AND household_id = ?`,
		item.Name, item.Category, item.Quantity, item.Unit, expiryArg(item), item.ImageURL,
		item.Notes, item.LowStockThreshold, now(),
		item.ID, item.HouseholdID,
	)
	if err != nil {
		return nil, fmt.Errorf("update pantry item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	s.notify.Publish(livequery.CollectionPantryItems, item.HouseholdID)
	return s.GetByID(ctx, item.HouseholdID, item.ID)
}

// SetImageURL records the uploaded photo for an item.
func (s *PantryStore) SetImageURL(ctx context.Context, householdID, id, url string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pantry_items SET image_url = ?, updated_at = ? WHERE id = ? AND household_id = ?`,
		url, now(), id, householdID,
	)
	if err != nil {
		return fmt.Errorf("set pantry image: %w", err)
	}
	s.notify.Publish(livequery.CollectionPantryItems, householdID)
	return nil
}

func (s *PantryStore) Delete(ctx context.Context, householdID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pantry_items WHERE id = ? AND household_id = ?`,
		id, householdID,
	)
	if err != nil {
		return fmt.Errorf("delete pantry item: %w", err)
	}
	s.notify.Publish(livequery.CollectionPantryItems, householdID)
	return nil
}
