package pantry

import (
	"strings"
	"time"

	"github.com/dukerupert/pantrysync/internal/model"
)

// AllCategories disables the category filter.
const AllCategories = "All"

// Search returns the items whose name contains text, ignoring case. An
// empty text matches everything.
func Search(items []model.PantryItem, text string) []model.PantryItem {
	text = strings.ToLower(strings.TrimSpace(text))
	out := make([]model.PantryItem, 0, len(items))
	for _, it := range items {
		if text == "" || strings.Contains(strings.ToLower(it.Name), text) {
			out = append(out, it)
		}
	}
	return out
}

// InCategory returns the items in category. "" and AllCategories match
// everything.
func InCategory(items []model.PantryItem, category string) []model.PantryItem {
	out := make([]model.PantryItem, 0, len(items))
	for _, it := range items {
		if category == "" || category == AllCategories || it.Category == category {
			out = append(out, it)
		}
	}
	return out
}

// Filter applies the search and category filters together.
func Filter(items []model.PantryItem, text, category string) []model.PantryItem {
	return InCategory(Search(items, text), category)
}

// LowStock returns the items at or below their low-stock threshold.
func LowStock(items []model.PantryItem) []model.PantryItem {
	out := make([]model.PantryItem, 0)
	for _, it := range items {
		if it.IsLowStock() {
			out = append(out, it)
		}
	}
	return out
}

// ExpiringWithin returns the items expiring between now and days from now.
// Items without an expiry date and expired items are excluded.
func ExpiringWithin(items []model.PantryItem, now time.Time, days int) []model.PantryItem {
	out := make([]model.PantryItem, 0)
	for _, it := range items {
		if it.ExpiringWithin(now, days) {
			out = append(out, it)
		}
	}
	return out
}

// Alerts summarizes what needs attention in a pantry.
type Alerts struct {
	LowStock     []model.PantryItem `json:"low_stock"`
	ExpiringSoon []model.PantryItem `json:"expiring_soon"`
}

func ComputeAlerts(items []model.PantryItem, now time.Time) Alerts {
	return Alerts{
		LowStock:     LowStock(items),
		ExpiringSoon: ExpiringWithin(items, now, model.ExpiringSoonDays),
	}
}
