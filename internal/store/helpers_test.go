package store

import (
	"database/sql"
	"sync"
	"testing"

	"github.com/dukerupert/pantrysync/internal/database"
	"github.com/dukerupert/pantrysync/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// recordingNotifier captures every Publish call.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Publish(collection, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, collection+"/"+key)
}

func (r *recordingNotifier) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func createTestUser(t *testing.T, db *sql.DB, email, name string) *model.User {
	t.Helper()
	u, err := NewUserStore(db).Create(t.Context(), email, name, "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func createTestHousehold(t *testing.T, db *sql.DB, name string, creator *model.User) *model.Household {
	t.Helper()
	h, err := NewHouseholdStore(db, nil).Create(t.Context(), name, "", model.Member{
		UserID: creator.ID, Email: creator.Email, DisplayName: creator.DisplayName,
	})
	if err != nil {
		t.Fatalf("create household: %v", err)
	}
	return h
}
