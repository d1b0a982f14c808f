// Package pantry manages a household's pantry items: validated writes with
// a paired activity entry, a live mirrored view of the current household
// and pure derived queries over that view.
package pantry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/obs"
	"github.com/dukerupert/pantrysync/internal/store"
)

// Actor is the signed-in user performing a write.
type Actor = model.Actor

// ItemFields describes a new item. Nil pointers and empty strings take the
// declared defaults.
type ItemFields struct {
	Name              string     `json:"name"`
	Category          string     `json:"category"`
	Quantity          *float64   `json:"quantity"`
	Unit              string     `json:"unit"`
	ExpiryDate        *time.Time `json:"expiry_date"`
	ImageURL          string     `json:"image_url"`
	Notes             string     `json:"notes"`
	LowStockThreshold *float64   `json:"low_stock_threshold"`
}

// ItemPatch changes selected fields of an item. ClearExpiry removes the
// expiry date.
type ItemPatch struct {
	Name              *string    `json:"name"`
	Category          *string    `json:"category"`
	Quantity          *float64   `json:"quantity"`
	Unit              *string    `json:"unit"`
	ExpiryDate        *time.Time `json:"expiry_date"`
	ClearExpiry       bool       `json:"clear_expiry"`
	ImageURL          *string    `json:"image_url"`
	Notes             *string    `json:"notes"`
	LowStockThreshold *float64   `json:"low_stock_threshold"`
}

// Service performs pantry writes for an explicit household. It keeps no
// state of its own.
type Service struct {
	items      *store.PantryStore
	activities *store.ActivityStore
	logger     *slog.Logger
}

func NewService(items *store.PantryStore, activities *store.ActivityStore, logger *slog.Logger) *Service {
	return &Service{items: items, activities: activities, logger: logger}
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func validCategory(c string) bool {
	return slices.Contains(model.PantryCategories, c)
}

// build applies defaults and validation to f.
func build(householdID string, actor Actor, f ItemFields) (model.PantryItem, error) {
	item := model.PantryItem{
		HouseholdID:       householdID,
		Name:              strings.TrimSpace(f.Name),
		Category:          strings.TrimSpace(f.Category),
		Quantity:          model.DefaultQuantity,
		Unit:              strings.TrimSpace(f.Unit),
		ExpiryDate:        f.ExpiryDate,
		ImageURL:          strings.TrimSpace(f.ImageURL),
		Notes:             strings.TrimSpace(f.Notes),
		LowStockThreshold: model.DefaultLowStockThreshold,
		AddedBy:           actor.UserID,
	}
	if householdID == "" {
		return item, apperr.Validation("no household selected")
	}
	if item.Name == "" {
		return item, apperr.Validation("item name is required")
	}
	if item.Category == "" {
		item.Category = model.DefaultCategory
	}
	if !validCategory(item.Category) {
		return item, apperr.Validation("unknown category %q", item.Category)
	}
	if item.Unit == "" {
		item.Unit = model.DefaultUnit
	}
	if f.Quantity != nil {
		item.Quantity = *f.Quantity
	}
	if f.LowStockThreshold != nil {
		item.LowStockThreshold = *f.LowStockThreshold
	}
	if item.Quantity < 0 {
		return item, apperr.Validation("quantity cannot be negative")
	}
	if item.LowStockThreshold < 0 {
		return item, apperr.Validation("low stock threshold cannot be negative")
	}
	return item, nil
}

// Add validates and writes a new item, then its pantry_add activity.
func (s *Service) Add(ctx context.Context, householdID string, actor Actor, f ItemFields) (*model.PantryItem, error) {
	item, err := build(householdID, actor, f)
	if err != nil {
		return nil, err
	}
	created, err := s.items.Create(ctx, item)
	if err != nil {
		return nil, apperr.Unavailable("add pantry item", err)
	}

	s.record(ctx, model.Activity{
		HouseholdID: householdID,
		Type:        model.ActivityPantryAdd,
		UserID:      actor.UserID,
		UserName:    actor.Name,
		Description: fmt.Sprintf("Added %s %s of %s", formatQuantity(created.Quantity), created.Unit, created.Name),
		Metadata:    map[string]any{"itemName": created.Name, "quantity": created.Quantity},
	})
	return created, nil
}

// Update applies p to an existing item, then writes its pantry_update
// activity.
func (s *Service) Update(ctx context.Context, householdID, id string, actor Actor, p ItemPatch) (*model.PantryItem, error) {
	existing, err := s.items.GetByID(ctx, householdID, id)
	if err != nil {
		return nil, apperr.Unavailable("get pantry item", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("pantry item %s: %w", id, apperr.ErrNotFound)
	}

	item := *existing
	if p.Name != nil {
		item.Name = strings.TrimSpace(*p.Name)
		if item.Name == "" {
			return nil, apperr.Validation("item name is required")
		}
	}
	if p.Category != nil {
		item.Category = strings.TrimSpace(*p.Category)
		if !validCategory(item.Category) {
			return nil, apperr.Validation("unknown category %q", item.Category)
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
	if p.ClearExpiry {
		item.ExpiryDate = nil
	} else if p.ExpiryDate != nil {
		item.ExpiryDate = p.ExpiryDate
	}
	if p.ImageURL != nil {
		item.ImageURL = strings.TrimSpace(*p.ImageURL)
	}
	if p.Notes != nil {
		item.Notes = strings.TrimSpace(*p.Notes)
	}
	if p.LowStockThreshold != nil {
		if *p.LowStockThreshold < 0 {
			return nil, apperr.Validation("low stock threshold cannot be negative")
		}
		item.LowStockThreshold = *p.LowStockThreshold
	}

	updated, err := s.items.Update(ctx, item)
	if err != nil {
		return nil, apperr.Unavailable("update pantry item", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("pantry item %s: %w", id, apperr.ErrNotFound)
	}

	s.record(ctx, model.Activity{
		HouseholdID: householdID,
		Type:        model.ActivityPantryUpdate,
		UserID:      actor.UserID,
		UserName:    actor.Name,
		Description: fmt.Sprintf("Updated %s", updated.Name),
		Metadata:    map[string]any{"itemName": updated.Name},
	})
	return updated, nil
}

// Delete removes an item, then writes its pantry_remove activity.
func (s *Service) Delete(ctx context.Context, householdID, id string, actor Actor) error {
	existing, err := s.items.GetByID(ctx, householdID, id)
	if err != nil {
		return apperr.Unavailable("get pantry item", err)
	}
	if existing == nil {
		return fmt.Errorf("pantry item %s: %w", id, apperr.ErrNotFound)
	}
	if err := s.items.Delete(ctx, householdID, id); err != nil {
		return apperr.Unavailable("delete pantry item", err)
	}

	s.record(ctx, model.Activity{
		HouseholdID: householdID,
		Type:        model.ActivityPantryRemove,
		UserID:      actor.UserID,
		UserName:    actor.Name,
		Description: fmt.Sprintf("Removed %s from pantry", existing.Name),
		Metadata:    map[string]any{"itemName": existing.Name},
	})
	return nil
}

// AddDetected adds every entry in order and writes one pantry_add
// activity for the batch. All entries are validated before the first
// write. On a store failure the items written so far are returned with the
// error, and the summary counts only those.
func (s *Service) AddDetected(ctx context.Context, householdID string, actor Actor, entries []ItemFields) ([]model.PantryItem, error) {
	if len(entries) == 0 {
		return nil, apperr.Validation("no items to add")
	}
	items := make([]model.PantryItem, 0, len(entries))
	for i, f := range entries {
		item, err := build(householdID, actor, f)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		items = append(items, item)
	}

	added := make([]model.PantryItem, 0, len(items))
	var writeErr error
	for _, item := range items {
		created, err := s.items.Create(ctx, item)
		if err != nil {
			writeErr = apperr.Unavailable("add detected item", err)
			break
		}
		added = append(added, *created)
	}

	if len(added) > 0 {
		s.record(ctx, model.Activity{
			HouseholdID: householdID,
			Type:        model.ActivityPantryAdd,
			UserID:      actor.UserID,
			UserName:    actor.Name,
			Description: fmt.Sprintf("Added %d items via AI capture", len(added)),
			Metadata:    map[string]any{"itemCount": len(added)},
		})
	}
	return added, writeErr
}

// List returns the household's items ordered by name.
func (s *Service) List(ctx context.Context, householdID string) ([]model.PantryItem, error) {
	items, err := s.items.ListByHousehold(ctx, householdID)
	if err != nil {
		return nil, apperr.Unavailable("list pantry items", err)
	}
	return items, nil
}

// SetImage records an uploaded photo URL on an item and returns the URL it
// replaced, if any.
func (s *Service) SetImage(ctx context.Context, householdID, id, url string) (previous string, err error) {
	existing, err := s.items.GetByID(ctx, householdID, id)
	if err != nil {
		return "", apperr.Unavailable("get pantry item", err)
	}
	if existing == nil {
		return "", fmt.Errorf("pantry item %s: %w", id, apperr.ErrNotFound)
	}
	if err := s.items.SetImageURL(ctx, householdID, id, url); err != nil {
		return "", apperr.Unavailable("set pantry image", err)
	}
	return existing.ImageURL, nil
}

// Get returns one item of the household.
func (s *Service) Get(ctx context.Context, householdID, id string) (*model.PantryItem, error) {
	item, err := s.items.GetByID(ctx, householdID, id)
	if err != nil {
		return nil, apperr.Unavailable("get pantry item", err)
	}
	if item == nil {
		return nil, fmt.Errorf("pantry item %s: %w", id, apperr.ErrNotFound)
	}
	return item, nil
}

// record writes a paired activity. A failure leaves the item write in
// place; it is logged and counted.
func (s *Service) record(ctx context.Context, a model.Activity) {
	if _, err := s.activities.Add(ctx, a); err != nil {
		obs.ActivityWriteFailures.Inc()
		s.logger.Error("activity write failed", "household_id", a.HouseholdID, "type", a.Type, "error", err)
	}
}
