// Package activity presents a household's activity log: a live mirror of
// the newest entries plus the feed's filter groups, relative timestamps and
// day grouping.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/mirror"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/store"
)

// Feed filter groups.
const (
	FilterAll      = "All"
	FilterPantry   = "Pantry"
	FilterShopping = "Shopping"
	FilterMembers  = "Members"
)

var Filters = []string{FilterAll, FilterPantry, FilterShopping, FilterMembers}

var filterTypes = map[string][]string{
	FilterPantry:   {model.ActivityPantryAdd, model.ActivityPantryRemove, model.ActivityPantryUpdate},
	FilterShopping: {model.ActivityShoppingAdd, model.ActivityShoppingComplete},
	FilterMembers:  {model.ActivityMemberJoin, model.ActivityMemberLeave},
}

// Filter keeps the entries in group. FilterAll, "" and unknown groups keep
// everything.
func Filter(entries []model.Activity, group string) []model.Activity {
	types, ok := filterTypes[group]
	out := make([]model.Activity, 0, len(entries))
	for _, a := range entries {
		if !ok || slices.Contains(types, a.Type) {
			out = append(out, a)
		}
	}
	return out
}

// RelativeTime renders t against now: "Just now" under an hour, whole hours
// under a day, whole days after that.
func RelativeTime(t, now time.Time) string {
	hours := int(now.Sub(t).Hours())
	switch {
	case hours < 1:
		return "Just now"
	case hours < 24:
		return fmt.Sprintf("%dh ago", hours)
	default:
		return fmt.Sprintf("%dd ago", hours/24)
	}
}

// Group is one day's entries in the feed.
type Group struct {
	Label   string           `json:"label"`
	Entries []model.Activity `json:"entries"`
}

// DateLabel is the layout for days before yesterday.
const DateLabel = "Jan 2, 2006"

// GroupByDay splits newest-first entries into Today, Yesterday and dated
// groups, keeping their order. Days are calendar days in now's location.
func GroupByDay(entries []model.Activity, now time.Time) []Group {
	loc := now.Location()
	today := dayOf(now)
	yesterday := today.AddDate(0, 0, -1)

	var groups []Group
	for _, a := range entries {
		day := dayOf(a.CreatedAt.In(loc))
		var label string
		switch {
		case day.Equal(today):
			label = "Today"
		case day.Equal(yesterday):
			label = "Yesterday"
		default:
			label = day.Format(DateLabel)
		}
		if n := len(groups); n > 0 && groups[n-1].Label == label {
			groups[n-1].Entries = append(groups[n-1].Entries, a)
			continue
		}
		groups = append(groups, Group{Label: label, Entries: []model.Activity{a}})
	}
	return groups
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NewMirror mirrors the newest store.DefaultActivityLimit entries per
// household.
func NewMirror(broker *livequery.Broker, activities *store.ActivityStore, logger *slog.Logger) *mirror.Mirror[model.Activity] {
	return mirror.New[model.Activity]("activity", livequery.Query[model.Activity]{
		Broker:     broker,
		Collection: livequery.CollectionActivities,
		Load: func(ctx context.Context, householdID string) ([]model.Activity, error) {
			return activities.ListByHousehold(ctx, householdID, store.DefaultActivityLimit)
		},
	}, logger)
}

// Feed mirrors one household's activity log.
type Feed struct {
	mirror *mirror.Mirror[model.Activity]
	now    func() time.Time

	ctrlMu sync.Mutex
	slot   mirror.Slot

	mu          sync.RWMutex
	householdID string
	entries     []model.Activity
	onChange    func([]model.Activity)
}

func NewFeed(m *mirror.Mirror[model.Activity]) *Feed {
	return &Feed{mirror: m, now: time.Now}
}

func (f *Feed) OnChange(fn func([]model.Activity)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

// SetHousehold mirrors householdID's log. Repeating the current id is a
// no-op.
func (f *Feed) SetHousehold(householdID string) error {
	f.ctrlMu.Lock()
	defer f.ctrlMu.Unlock()

	if cur := f.slot.Current(); cur != nil && cur.Key() == householdID && cur.Active() {
		return nil
	}
	f.slot.Clear()

	f.mu.Lock()
	f.householdID = householdID
	f.entries = nil
	f.mu.Unlock()

	_, err := f.slot.Replace(householdID, func(key string) (*mirror.Subscription, error) {
		return f.mirror.Subscribe(key, func(entries []model.Activity) {
			f.mu.Lock()
			if key != f.householdID {
				f.mu.Unlock()
				return
			}
			f.entries = entries
			fn := f.onChange
			f.mu.Unlock()
			if fn != nil {
				fn(slices.Clone(entries))
			}
		})
	})
	return err
}

func (f *Feed) Close() {
	f.ctrlMu.Lock()
	defer f.ctrlMu.Unlock()
	f.slot.Clear()
}

// Entries returns the mirrored entries in group, newest first.
func (f *Feed) Entries(group string) []model.Activity {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Filter(f.entries, group)
}

// Grouped returns Entries(group) split by day.
func (f *Feed) Grouped(group string) []Group {
	return GroupByDay(f.Entries(group), f.now())
}
