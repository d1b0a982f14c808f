// Package shopping manages a household's shopping lists. Items live inside
// their list, so every item change reads the list, edits the array and
// writes the whole array back. Two members editing the same list at once
// can lose one of the edits.
package shopping

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/ids"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/obs"
	"github.com/dukerupert/pantrysync/internal/store"
)

type Actor = model.Actor

// ItemInput describes a new list item. An empty category is filled in by
// Categorize.
type ItemInput struct {
	Name       string   `json:"name"`
	Quantity   *float64 `json:"quantity"`
	Unit       string   `json:"unit"`
	Category   string   `json:"category"`
	AssignedTo string   `json:"assigned_to"`
}

// ItemPatch changes selected fields of a list item. Setting Completed
// stamps or clears the completion fields.
type ItemPatch struct {
	Name       *string  `json:"name"`
	Quantity   *float64 `json:"quantity"`
	Unit       *string  `json:"unit"`
	Category   *string  `json:"category"`
	AssignedTo *string  `json:"assigned_to"`
	Completed  *bool    `json:"completed"`
}

type Service struct {
	lists      *store.ShoppingStore
	activities *store.ActivityStore
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(lists *store.ShoppingStore, activities *store.ActivityStore, logger *slog.Logger) *Service {
	return &Service{
		lists:      lists,
		activities: activities,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateList makes an empty list.
func (s *Service) CreateList(ctx context.Context, householdID string, actor Actor, name, description string) (*model.ShoppingList, error) {
	if householdID == "" {
		return nil, apperr.Validation("no household selected")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("list name is required")
	}
	l, err := s.lists.CreateList(ctx, householdID, name, strings.TrimSpace(description), actor.UserID)
	if err != nil {
		return nil, apperr.Unavailable("create shopping list", err)
	}
	return l, nil
}

func (s *Service) Lists(ctx context.Context, householdID string) ([]model.ShoppingList, error) {
	lists, err := s.lists.ListByHousehold(ctx, householdID)
	if err != nil {
		return nil, apperr.Unavailable("list shopping lists", err)
	}
	return lists, nil
}

func (s *Service) DeleteList(ctx context.Context, householdID, listID string) error {
	if _, err := s.load(ctx, householdID, listID); err != nil {
		return err
	}
	return apperr.Unavailable("delete shopping list", s.lists.DeleteList(ctx, householdID, listID))
}

func (s *Service) load(ctx context.Context, householdID, listID string) (*model.ShoppingList, error) {
	l, err := s.lists.GetList(ctx, householdID, listID)
	if err != nil {
		return nil, apperr.Unavailable("get shopping list", err)
	}
	if l == nil {
		return nil, fmt.Errorf("shopping list %s: %w", listID, apperr.ErrNotFound)
	}
	return l, nil
}

func (s *Service) save(ctx context.Context, l *model.ShoppingList) error {
	ok, err := s.lists.SaveItems(ctx, l.HouseholdID, l.ID, l.Items)
	if err != nil {
		return apperr.Unavailable("save shopping list", err)
	}
	if !ok {
		return fmt.Errorf("shopping list %s: %w", l.ID, apperr.ErrNotFound)
	}
	return nil
}

// AddItem appends an item to a list and writes its shopping_add activity.
func (s *Service) AddItem(ctx context.Context, householdID, listID string, actor Actor, in ItemInput) (*model.ShoppingListItem, error) {
	item := model.ShoppingListItem{
		ID:         ids.New(),
		Name:       strings.TrimSpace(in.Name),
		Quantity:   model.DefaultQuantity,
		Unit:       strings.TrimSpace(in.Unit),
		Category:   strings.TrimSpace(in.Category),
		AssignedTo: in.AssignedTo,
		AddedBy:    actor.UserID,
		CreatedAt:  s.now(),
	}
	if item.Name == "" {
		return nil, apperr.Validation("item name is required")
	}
	if in.Quantity != nil {
		if *in.Quantity < 0 {
			return nil, apperr.Validation("quantity cannot be negative")
		}
		item.Quantity = *in.Quantity
	}
	if item.Unit == "" {
		item.Unit = model.DefaultUnit
	}
	if item.Category == "" {
		item.Category = Categorize(item.Name)
	}

	l, err := s.load(ctx, householdID, listID)
	if err != nil {
		return nil, err
	}
	l.Items = append(l.Items, item)
	if err := s.save(ctx, l); err != nil {
		return nil, err
	}

	s.record(ctx, model.Activity{
		HouseholdID: householdID,
		Type:        model.ActivityShoppingAdd,
		UserID:      actor.UserID,
		UserName:    actor.Name,
		Description: fmt.Sprintf("Added %q to %s", item.Name, l.Name),
		Metadata:    map[string]any{"itemName": item.Name, "listName": l.Name},
	})
	return &item, nil
}

// UpdateItem applies p to one item. Marking an item completed stamps
// completedAt and completedBy and writes a shopping_complete activity;
// reopening it clears both.
func (s *Service) UpdateItem(ctx context.Context, householdID, listID, itemID string, actor Actor, p ItemPatch) (*model.ShoppingListItem, error) {
	l, err := s.load(ctx, householdID, listID)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(l.Items, func(it model.ShoppingListItem) bool { return it.ID == itemID })
	if i < 0 {
		return nil, fmt.Errorf("shopping item %s: %w", itemID, apperr.ErrNotFound)
	}

	item := l.Items[i]
	if p.Name != nil {
		item.Name = strings.TrimSpace(*p.Name)
		if item.Name == "" {
			return nil, apperr.Validation("item name is required")
		}
	}
	if p.Quantity != nil {
		if *p.Quantity < 0 {
			return nil, apperr.Validation("quantity cannot be negative")
		}
		item.Quantity = *p.Quantity
	}
	if p.Unit != nil && strings.TrimSpace(*p.Unit) != "" {
		item.Unit = strings.TrimSpace(*p.Unit)
	}
	if p.Category != nil && strings.TrimSpace(*p.Category) != "" {
		item.Category = strings.TrimSpace(*p.Category)
	}
	if p.AssignedTo != nil {
		item.AssignedTo = *p.AssignedTo
	}

	completed := false
	if p.Completed != nil && *p.Completed != item.Completed {
		item.Completed = *p.Completed
		if item.Completed {
			ts := s.now()
			item.CompletedAt = &ts
			item.CompletedBy = actor.UserID
			completed = true
		} else {
			item.CompletedAt = nil
			item.CompletedBy = ""
		}
	}

	l.Items[i] = item
	if err := s.save(ctx, l); err != nil {
		return nil, err
	}

	if completed {
		s.record(ctx, model.Activity{
			HouseholdID: householdID,
			Type:        model.ActivityShoppingComplete,
			UserID:      actor.UserID,
			UserName:    actor.Name,
			Description: fmt.Sprintf("Completed %q from %s", item.Name, l.Name),
			Metadata:    map[string]any{"itemName": item.Name, "listName": l.Name},
		})
	}
	return &item, nil
}

// ToggleItem flips an item's completion.
func (s *Service) ToggleItem(ctx context.Context, householdID, listID, itemID string, actor Actor) (*model.ShoppingListItem, error) {
	l, err := s.load(ctx, householdID, listID)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(l.Items, func(it model.ShoppingListItem) bool { return it.ID == itemID })
	if i < 0 {
		return nil, fmt.Errorf("shopping item %s: %w", itemID, apperr.ErrNotFound)
	}
	done := !l.Items[i].Completed
	return s.UpdateItem(ctx, householdID, listID, itemID, actor, ItemPatch{Completed: &done})
}

// RemoveItem drops an item from its list.
func (s *Service) RemoveItem(ctx context.Context, householdID, listID, itemID string) error {
	l, err := s.load(ctx, householdID, listID)
	if err != nil {
		return err
	}
	n := len(l.Items)
	l.Items = slices.DeleteFunc(l.Items, func(it model.ShoppingListItem) bool { return it.ID == itemID })
	if len(l.Items) == n {
		return fmt.Errorf("shopping item %s: %w", itemID, apperr.ErrNotFound)
	}
	return s.save(ctx, l)
}

func (s *Service) record(ctx context.Context, a model.Activity) {
	if _, err := s.activities.Add(ctx, a); err != nil {
		obs.ActivityWriteFailures.Inc()
		s.logger.Error("activity write failed", "household_id", a.HouseholdID, "type", a.Type, "error", err)
	}
}
