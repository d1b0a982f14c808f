package shopping

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/mirror"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/store"
)

// NewMirror mirrors shopping lists per household, newest first.
func NewMirror(broker *livequery.Broker, lists *store.ShoppingStore, logger *slog.Logger) *mirror.Mirror[model.ShoppingList] {
	return mirror.New[model.ShoppingList]("shopping", livequery.Query[model.ShoppingList]{
		Broker:     broker,
		Collection: livequery.CollectionShoppingLists,
		Load:       lists.ListByHousehold,
	}, logger)
}

// Manager mirrors the current household's shopping lists and writes to them.
type Manager struct {
	svc    *Service
	mirror *mirror.Mirror[model.ShoppingList]

	ctrlMu sync.Mutex
	slot   mirror.Slot

	mu          sync.RWMutex
	householdID string
	lists       []model.ShoppingList
	onChange    func([]model.ShoppingList)
}

func NewManager(svc *Service, m *mirror.Mirror[model.ShoppingList]) *Manager {
	return &Manager{svc: svc, mirror: m}
}

func (m *Manager) OnChange(fn func([]model.ShoppingList)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// SetHousehold mirrors householdID's lists. Repeating the current id is a
// no-op.
func (m *Manager) SetHousehold(householdID string) error {
	m.ctrlMu.Lock()
	defer m.ctrlMu.Unlock()

	if cur := m.slot.Current(); cur != nil && cur.Key() == householdID && cur.Active() {
		return nil
	}
	m.slot.Clear()

	m.mu.Lock()
	m.householdID = householdID
	m.lists = nil
	m.mu.Unlock()

	_, err := m.slot.Replace(householdID, func(key string) (*mirror.Subscription, error) {
		return m.mirror.Subscribe(key, func(lists []model.ShoppingList) { m.apply(key, lists) })
	})
	return err
}

func (m *Manager) apply(key string, lists []model.ShoppingList) {
	m.mu.Lock()
	if key != m.householdID {
		m.mu.Unlock()
		return
	}
	m.lists = lists
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(cloneLists(lists))
	}
}

func (m *Manager) Close() {
	m.ctrlMu.Lock()
	defer m.ctrlMu.Unlock()
	m.slot.Clear()
}

func (m *Manager) HouseholdID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.householdID
}

// cloneLists copies the lists and their item arrays.
func cloneLists(lists []model.ShoppingList) []model.ShoppingList {
	out := make([]model.ShoppingList, len(lists))
	for i, l := range lists {
		l.Items = append([]model.ShoppingListItem(nil), l.Items...)
		out[i] = l
	}
	return out
}

// Lists returns the mirrored lists, newest first.
func (m *Manager) Lists() []model.ShoppingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneLists(m.lists)
}

// List returns one mirrored list, or nil.
func (m *Manager) List(id string) *model.ShoppingList {
	for _, l := range m.Lists() {
		if l.ID == id {
			return &l
		}
	}
	return nil
}

func (m *Manager) CreateList(ctx context.Context, actor Actor, name, description string) (*model.ShoppingList, error) {
	return m.svc.CreateList(ctx, m.HouseholdID(), actor, name, description)
}

func (m *Manager) AddItem(ctx context.Context, listID string, actor Actor, in ItemInput) (*model.ShoppingListItem, error) {
	return m.svc.AddItem(ctx, m.HouseholdID(), listID, actor, in)
}

func (m *Manager) UpdateItem(ctx context.Context, listID, itemID string, actor Actor, p ItemPatch) (*model.ShoppingListItem, error) {
	return m.svc.UpdateItem(ctx, m.HouseholdID(), listID, itemID, actor, p)
}

func (m *Manager) ToggleItem(ctx context.Context, listID, itemID string, actor Actor) (*model.ShoppingListItem, error) {
	return m.svc.ToggleItem(ctx, m.HouseholdID(), listID, itemID, actor)
}

func (m *Manager) RemoveItem(ctx context.Context, listID, itemID string) error {
	return m.svc.RemoveItem(ctx, m.HouseholdID(), listID, itemID)
}
