package model

import "time"

// ShoppingList embeds its items; list-level item changes rewrite the whole
// Items array.
type ShoppingList struct {
	ID          string             `json:"id"`
	HouseholdID string             `json:"household_id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Items       []ShoppingListItem `json:"items"`
	CreatedBy   string             `json:"created_by"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type ShoppingListItem struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Quantity    float64    `json:"quantity"`
	Unit        string     `json:"unit"`
	Category    string     `json:"category"`
	Completed   bool       `json:"completed"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	AddedBy     string     `json:"added_by"`
	CompletedBy string     `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Remaining counts items not yet completed.
func (l *ShoppingList) Remaining() int {
	n := 0
	for _, it := range l.Items {
		if !it.Completed {
			n++
		}
	}
	return n
}
