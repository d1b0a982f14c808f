package model

import (
	"math"
	"time"
)

// Categories offered for pantry items, in display order.
var PantryCategories = []string{"Dairy", "Fruits", "Vegetables", "Bakery", "Meat", "Pantry", "Beverages", "Snacks"}

// Units offered for pantry and shopping items.
var Units = []string{"pieces", "bottles", "cans", "boxes", "bags", "lbs", "oz", "cups", "liters"}

const (
	DefaultCategory          = "Pantry"
	DefaultUnit              = "pieces"
	DefaultQuantity          = 1.0
	DefaultLowStockThreshold = 1.0
	ExpiringSoonDays         = 3
)

type PantryItem struct {
	ID                string     `json:"id"`
	HouseholdID       string     `json:"household_id"`
	Name              string     `json:"name"`
	Category          string     `json:"category"`
	Quantity          float64    `json:"quantity"`
	Unit              string     `json:"unit"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
	ImageURL          string     `json:"image_url,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	LowStockThreshold float64    `json:"low_stock_threshold"`
	AddedBy           string     `json:"added_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsLowStock reports quantity <= lowStockThreshold.
func (p *PantryItem) IsLowStock() bool {
	return p.Quantity <= p.LowStockThreshold
}

// DaysUntilExpiry returns the whole days from now until the expiry date,
// rounded up. ok is false when the item has no expiry date.
func (p *PantryItem) DaysUntilExpiry(now time.Time) (days int, ok bool) {
	if p.ExpiryDate == nil {
		return 0, false
	}
	diff := p.ExpiryDate.Sub(now)
	return int(math.Ceil(diff.Hours() / 24)), true
}

// ExpiringWithin reports 0 <= daysUntil(expiryDate) <= days.
func (p *PantryItem) ExpiringWithin(now time.Time, days int) bool {
	d, ok := p.DaysUntilExpiry(now)
	return ok && d >= 0 && d <= days
}
