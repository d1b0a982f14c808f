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

// ShoppingStore keeps shopping lists with their items embedded as one JSON
// array. Item edits rewrite the whole array; concurrent editors of the same
// list can lose each other's changes.
type ShoppingStore struct {
	db     *sql.DB
	notify Notifier
}

func NewShoppingStore(db *sql.DB, n Notifier) *ShoppingStore {
	return &ShoppingStore{db: db, notify: notifierOrNop(n)}
}

func scanShoppingList(s scanner) (*model.ShoppingList, error) {
	var l model.ShoppingList
	var items string
	err := s.Scan(&l.ID, &l.HouseholdID, &l.Name, &l.Description, &items, &l.CreatedBy, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Items = []model.ShoppingListItem{}
	if err := json.Unmarshal([]byte(items), &l.Items); err != nil {
		return nil, fmt.Errorf("decode items of list %s: %w", l.ID, err)
	}
	return &l, nil
}

const shoppingListCols = `id, household_id, name, description, items, created_by, created_at, updated_at`

func (s *ShoppingStore) CreateList(ctx context.Context, householdID, name, description, createdBy string) (*model.ShoppingList, error) {
	id := ids.New()
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shopping_lists (`+shoppingListCols+`) VALUES (?, ?, ?, ?, '[]', ?, ?, ?)`,
		id, householdID, name, description, createdBy, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert shopping list: %w", err)
	}
	s.notify.Publish(livequery.CollectionShoppingLists, householdID)
	return s.GetList(ctx, householdID, id)
}

func (s *ShoppingStore) GetList(ctx context.Context, householdID, id string) (*model.ShoppingList, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+shoppingListCols+` FROM shopping_lists WHERE id = ? AND household_id = ?`,
		id, householdID,
	)
	l, err := scanShoppingList(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shopping list: %w", err)
	}
	return l, nil
}

// ListByHousehold returns the household's lists, newest first.
func (s *ShoppingStore) ListByHousehold(ctx context.Context, householdID string) ([]model.ShoppingList, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+shoppingListCols+` FROM shopping_lists WHERE household_id = ? ORDER BY created_at DESC, id DESC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list shopping lists: %w", err)
	}
	defer rows.Close()

	lists := []model.ShoppingList{}
	for rows.Next() {
		l, err := scanShoppingList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shopping list: %w", err)
		}
		lists = append(lists, *l)
	}
	return lists, rows.Err()
}

// SaveItems replaces the list's item array. It returns false when the list
// does not exist.
func (s *ShoppingStore) SaveItems(ctx context.Context, householdID, id string, items []model.ShoppingListItem) (bool, error) {
	if items == nil {
		items = []model.ShoppingListItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return false, fmt.Errorf("encode items: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE shopping_lists SET items = ?, updated_at = ? WHERE id = ? AND household_id = ?`,
		string(data), now(), id, householdID,
	)
	if err != nil {
		return false, fmt.Errorf("save shopping items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save shopping items: %w", err)
	}
	if n > 0 {
		s.notify.Publish(livequery.CollectionShoppingLists, householdID)
	}
	return n > 0, nil
}

func (s *ShoppingStore) DeleteList(ctx context.Context, householdID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM shopping_lists WHERE id = ? AND household_id = ?`,
		id, householdID,
	)
	if err != nil {
		return fmt.Errorf("delete shopping list: %w", err)
	}
	s.notify.Publish(livequery.CollectionShoppingLists, householdID)
	return nil
}
