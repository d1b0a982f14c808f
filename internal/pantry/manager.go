package pantry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/mirror"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/store"
)

// NewMirror mirrors pantry items per household, ordered by name.
func NewMirror(broker *livequery.Broker, items *store.PantryStore, logger *slog.Logger) *mirror.Mirror[model.PantryItem] {
	return mirror.New[model.PantryItem]("pantry", livequery.Query[model.PantryItem]{
		Broker:     broker,
		Collection: livequery.CollectionPantryItems,
		Load:       items.ListByHousehold,
	}, logger)
}

// Manager is one subscriber's view of the pantry: a live mirror of the
// current household's items plus writes against that household. The
// mirrored list is owned by the Manager; every query returns a fresh slice.
type Manager struct {
	svc    *Service
	mirror *mirror.Mirror[model.PantryItem]
	logger *slog.Logger
	now    func() time.Time

	// ctrlMu serializes subscription changes. It is never held while the
	// mirror delivers, so cancelling cannot deadlock with onChange.
	ctrlMu sync.Mutex
	slot   mirror.Slot

	mu          sync.RWMutex
	householdID string
	items       []model.PantryItem
	loaded      bool
	onChange    func([]model.PantryItem)
}

func NewManager(svc *Service, m *mirror.Mirror[model.PantryItem], logger *slog.Logger) *Manager {
	return &Manager{svc: svc, mirror: m, logger: logger, now: time.Now}
}

// OnChange registers fn to receive a copy of every new snapshot. Set it
// before the first SetHousehold.
func (m *Manager) OnChange(fn func([]model.PantryItem)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// SetHousehold points the manager at householdID. Calling it again with
// the household already being mirrored does nothing; otherwise the old
// subscription is cancelled and local state cleared before a new one opens.
// An empty id just clears.
func (m *Manager) SetHousehold(householdID string) error {
	m.ctrlMu.Lock()
	defer m.ctrlMu.Unlock()

	if cur := m.slot.Current(); cur != nil && cur.Key() == householdID && cur.Active() {
		return nil
	}
	m.slot.Clear()

	m.mu.Lock()
	m.householdID = householdID
	m.items = nil
	m.loaded = false
	m.mu.Unlock()

	if householdID == "" {
		return nil
	}
	_, err := m.slot.Replace(householdID, func(key string) (*mirror.Subscription, error) {
		return m.mirror.Subscribe(key, func(items []model.PantryItem) { m.apply(key, items) })
	})
	return err
}

func (m *Manager) apply(key string, items []model.PantryItem) {
	m.mu.Lock()
	if key != m.householdID {
		m.mu.Unlock()
		return
	}
	m.items = items
	m.loaded = true
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(clone(items))
	}
}

// Close cancels the live subscription.
func (m *Manager) Close() {
	m.ctrlMu.Lock()
	defer m.ctrlMu.Unlock()
	m.slot.Clear()
}

// HouseholdID returns the household being mirrored.
func (m *Manager) HouseholdID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.householdID
}

// Loaded reports whether the first snapshot has arrived.
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Err returns the error that stopped the live subscription, if any.
func (m *Manager) Err() error {
	if sub := m.slot.Current(); sub != nil {
		return sub.Err()
	}
	return nil
}

func clone(items []model.PantryItem) []model.PantryItem {
	out := make([]model.PantryItem, len(items))
	copy(out, items)
	return out
}

func (m *Manager) snapshot() []model.PantryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.items)
}

// Items returns the mirrored items ordered by name.
func (m *Manager) Items() []model.PantryItem { return m.snapshot() }

func (m *Manager) FilteredBySearch(text string) []model.PantryItem {
	return Search(m.snapshot(), text)
}

func (m *Manager) FilteredByCategory(category string) []model.PantryItem {
	return InCategory(m.snapshot(), category)
}

func (m *Manager) Filtered(text, category string) []model.PantryItem {
	return Filter(m.snapshot(), text, category)
}

func (m *Manager) LowStock() []model.PantryItem {
	return LowStock(m.snapshot())
}

func (m *Manager) ExpiringWithin(days int) []model.PantryItem {
	return ExpiringWithin(m.snapshot(), m.now(), days)
}

// AddItem adds an item to the current household.
func (m *Manager) AddItem(ctx context.Context, actor Actor, f ItemFields) (*model.PantryItem, error) {
	return m.svc.Add(ctx, m.HouseholdID(), actor, f)
}

func (m *Manager) UpdateItem(ctx context.Context, id string, actor Actor, p ItemPatch) (*model.PantryItem, error) {
	return m.svc.Update(ctx, m.HouseholdID(), id, actor, p)
}

// DeleteItem removes an item. Callers confirm with the user first.
func (m *Manager) DeleteItem(ctx context.Context, id string, actor Actor) error {
	return m.svc.Delete(ctx, m.HouseholdID(), id, actor)
}

// AddDetectedItems bulk-adds capture results with one summary activity.
func (m *Manager) AddDetectedItems(ctx context.Context, actor Actor, entries []ItemFields) ([]model.PantryItem, error) {
	return m.svc.AddDetected(ctx, m.HouseholdID(), actor, entries)
}
