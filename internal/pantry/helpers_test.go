package pantry

import (
	"database/sql"
	"testing"
	"time"

	"github.com/dukerupert/pantrysync/internal/database"
	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/logging"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/store"
)

type testEnv struct {
	db         *sql.DB
	broker     *livequery.Broker
	items      *store.PantryStore
	activities *store.ActivityStore
	svc        *Service
	household  *model.Household
	other      *model.Household
	actor      Actor
}

func setupPantryTest(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	broker := livequery.NewBroker(logging.Discard())
	u, err := store.NewUserStore(db).Create(t.Context(), "alice@example.com", "Alice", "h")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	households := store.NewHouseholdStore(db, broker)
	creator := model.Member{UserID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
	h, err := households.Create(t.Context(), "Smith Family", "", creator)
	if err != nil {
		t.Fatalf("create household: %v", err)
	}
	other, err := households.Create(t.Context(), "Cabin", "", creator)
	if err != nil {
		t.Fatalf("create household: %v", err)
	}

	items := store.NewPantryStore(db, broker)
	activities := store.NewActivityStore(db, broker)
	return &testEnv{
		db:         db,
		broker:     broker,
		items:      items,
		activities: activities,
		svc:        NewService(items, activities, logging.Discard()),
		household:  h,
		other:      other,
		actor:      Actor{UserID: u.ID, Name: u.DisplayName},
	}
}

func (e *testEnv) manager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(e.svc, NewMirror(e.broker, e.items, logging.Discard()), logging.Discard())
	t.Cleanup(m.Close)
	return m
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ptr[T any](v T) *T { return &v }
