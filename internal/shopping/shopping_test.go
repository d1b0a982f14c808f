package shopping

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/database"
	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/logging"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/store"
)

type testEnv struct {
	broker     *livequery.Broker
	lists      *store.ShoppingStore
	activities *store.ActivityStore
	svc        *Service
	household  *model.Household
	alice, bob Actor
}

func setupShoppingTest(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	a, err := users.Create(t.Context(), "alice@example.com", "Alice", "h")
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	b, err := users.Create(t.Context(), "bob@example.com", "Bob", "h")
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}
	broker := livequery.NewBroker(logging.Discard())
	h, err := store.NewHouseholdStore(db, broker).Create(t.Context(), "Smith Family", "",
		model.Member{UserID: a.ID, Email: a.Email, DisplayName: a.DisplayName})
	if err != nil {
		t.Fatalf("create household: %v", err)
	}

	lists := store.NewShoppingStore(db, broker)
	activities := store.NewActivityStore(db, broker)
	return &testEnv{
		broker:     broker,
		lists:      lists,
		activities: activities,
		svc:        NewService(lists, activities, logging.Discard()),
		household:  h,
		alice:      Actor{UserID: a.ID, Name: a.DisplayName},
		bob:        Actor{UserID: b.ID, Name: b.DisplayName},
	}
}

func (e *testEnv) weeklyList(t *testing.T) *model.ShoppingList {
	t.Helper()
	l, err := e.svc.CreateList(t.Context(), e.household.ID, e.alice, "Weekly Groceries", "")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	return l
}

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

func TestCreateList(t *testing.T) {
	env := setupShoppingTest(t)

	l := env.weeklyList(t)
	if l.Name != "Weekly Groceries" || l.CreatedBy != env.alice.UserID {
		t.Errorf("list = %+v", l)
	}
	if l.Items == nil || len(l.Items) != 0 {
		t.Errorf("items = %v, want empty", l.Items)
	}

	if _, err := env.svc.CreateList(t.Context(), env.household.ID, env.alice, "  ", ""); !errors.Is(err, apperr.ErrValidationFailed) {
		t.Errorf("err = %v, want ErrValidationFailed", err)
	}
}

func TestAddItem(t *testing.T) {
	env := setupShoppingTest(t)
	l := env.weeklyList(t)

	item, err := env.svc.AddItem(t.Context(), env.household.ID, l.ID, env.alice, ItemInput{Name: "Greek Yogurt"})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if item.Category != "Dairy" {
		t.Errorf("category = %q, want Dairy", item.Category)
	}
	if item.Quantity != 1 || item.Unit != "pieces" {
		t.Errorf("got %v %q, want 1 pieces", item.Quantity, item.Unit)
	}

	got, _ := env.lists.GetList(t.Context(), env.household.ID, l.ID)
	if len(got.Items) != 1 || got.Items[0].ID != item.ID {
		t.Fatalf("stored items = %+v", got.Items)
	}

	acts, _ := env.activities.ListByHousehold(t.Context(), env.household.ID, 0)
	if len(acts) != 1 {
		t.Fatalf("activities = %d, want 1", len(acts))
	}
	if acts[0].Type != model.ActivityShoppingAdd {
		t.Errorf("type = %q", acts[0].Type)
	}
	if want := `Added "Greek Yogurt" to Weekly Groceries`; acts[0].Description != want {
		t.Errorf("description = %q, want %q", acts[0].Description, want)
	}
	if acts[0].Metadata["listName"] != "Weekly Groceries" {
		t.Errorf("listName = %v", acts[0].Metadata["listName"])
	}
}

func TestAddItemMissingList(t *testing.T) {
	env := setupShoppingTest(t)

	_, err := env.svc.AddItem(t.Context(), env.household.ID, "nope", env.alice, ItemInput{Name: "Eggs"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCompleteStampsAndReopenClears(t *testing.T) {
	env := setupShoppingTest(t)
	l := env.weeklyList(t)
	item, _ := env.svc.AddItem(t.Context(), env.household.ID, l.ID, env.alice, ItemInput{Name: "Bread"})

	done, err := env.svc.ToggleItem(t.Context(), env.household.ID, l.ID, item.ID, env.bob)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !done.Completed || done.CompletedAt == nil || done.CompletedBy != env.bob.UserID {
		t.Errorf("completed item = %+v", done)
	}

	acts, _ := env.activities.ListByHousehold(t.Context(), env.household.ID, 0)
	if acts[0].Type != model.ActivityShoppingComplete || acts[0].UserName != "Bob" {
		t.Errorf("latest activity = %+v", acts[0])
	}

	reopened, err := env.svc.ToggleItem(t.Context(), env.household.ID, l.ID, item.ID, env.alice)
	if err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if reopened.Completed || reopened.CompletedAt != nil || reopened.CompletedBy != "" {
		t.Errorf("reopened item = %+v", reopened)
	}
	acts, _ = env.activities.ListByHousehold(t.Context(), env.household.ID, 0)
	if len(acts) != 2 {
		t.Errorf("activities = %d, want 2 (reopening writes none)", len(acts))
	}
}

func TestUpdateItemFields(t *testing.T) {
	env := setupShoppingTest(t)
	l := env.weeklyList(t)
	item, _ := env.svc.AddItem(t.Context(), env.household.ID, l.ID, env.alice, ItemInput{Name: "Apples"})

	q := 6.0
	who := env.bob.UserID
	got, err := env.svc.UpdateItem(t.Context(), env.household.ID, l.ID, item.ID, env.alice, ItemPatch{Quantity: &q, AssignedTo: &who})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Quantity != 6 || got.AssignedTo != who || got.Completed {
		t.Errorf("item = %+v", got)
	}

	neg := -1.0
	if _, err := env.svc.UpdateItem(t.Context(), env.household.ID, l.ID, item.ID, env.alice, ItemPatch{Quantity: &neg}); !errors.Is(err, apperr.ErrValidationFailed) {
		t.Errorf("err = %v, want ErrValidationFailed", err)
	}
	if _, err := env.svc.UpdateItem(t.Context(), env.household.ID, l.ID, "missing", env.alice, ItemPatch{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRemoveItem(t *testing.T) {
	env := setupShoppingTest(t)
	l := env.weeklyList(t)
	a, _ := env.svc.AddItem(t.Context(), env.household.ID, l.ID, env.alice, ItemInput{Name: "Apples"})
	b, _ := env.svc.AddItem(t.Context(), env.household.ID, l.ID, env.alice, ItemInput{Name: "Bread"})

	if err := env.svc.RemoveItem(t.Context(), env.household.ID, l.ID, a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ := env.lists.GetList(t.Context(), env.household.ID, l.ID)
	if len(got.Items) != 1 || got.Items[0].ID != b.ID {
		t.Errorf("items = %+v, want only Bread", got.Items)
	}
	if err := env.svc.RemoveItem(t.Context(), env.household.ID, l.ID, a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second remove err = %v, want ErrNotFound", err)
	}
}

func TestManagerMirrorsLists(t *testing.T) {
	env := setupShoppingTest(t)
	m := NewManager(env.svc, NewMirror(env.broker, env.lists, logging.Discard()))
	t.Cleanup(m.Close)

	if err := m.SetHousehold(env.household.ID); err != nil {
		t.Fatalf("set household: %v", err)
	}
	m.SetHousehold(env.household.ID)
	if n := env.broker.Watchers(livequery.CollectionShoppingLists, env.household.ID); n != 1 {
		t.Errorf("watchers = %d, want 1", n)
	}

	first, err := m.CreateList(t.Context(), env.alice, "Weekly Groceries", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, _ := m.CreateList(t.Context(), env.alice, "Party", "")
	if _, err := m.AddItem(t.Context(), first.ID, env.alice, ItemInput{Name: "Milk"}); err != nil {
		t.Fatalf("add item: %v", err)
	}

	waitFor(t, "two lists with Milk", func() bool {
		l := m.List(first.ID)
		return len(m.Lists()) == 2 && l != nil && len(l.Items) == 1
	})
	if got := m.Lists()[0].ID; got != second.ID {
		t.Errorf("first list = %s, want newest %s", got, second.ID)
	}
	if m.List(first.ID).Remaining() != 1 {
		t.Errorf("remaining = %d, want 1", m.List(first.ID).Remaining())
	}
}
