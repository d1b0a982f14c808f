package model

import "time"

// Activity types.
const (
	ActivityPantryAdd        = "pantry_add"
	ActivityPantryRemove     = "pantry_remove"
	ActivityPantryUpdate     = "pantry_update"
	ActivityShoppingAdd      = "shopping_add"
	ActivityShoppingComplete = "shopping_complete"
	ActivityMemberJoin       = "member_join"
	ActivityMemberLeave      = "member_leave"
)

// Activity is an append-only feed entry written next to a domain mutation.
type Activity struct {
	ID          string         `json:"id"`
	HouseholdID string         `json:"household_id"`
	Type        string         `json:"type"`
	UserID      string         `json:"user_id"`
	UserName    string         `json:"user_name"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Actor is the signed-in user performing a write, as recorded on its
// activity entry.
type Actor struct {
	UserID string
	Name   string
}
