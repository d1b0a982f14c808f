// Package livequery turns store change notifications into ordered snapshot
// streams. A query is a collection name plus a filter key (a household id);
// every write the stores publish for that pair makes each open query reload
// and emit the full, freshly ordered result set.
package livequery

import (
	"context"
	"log/slog"
	"sync"
)

// Collections published by the stores.
const (
	CollectionHouseholds    = "households"
	CollectionPantryItems   = "pantryItems"
	CollectionShoppingLists = "shoppingLists"
	CollectionActivities    = "activities"
)

// Snapshot is one delivery on a live query. A snapshot carrying Err is the
// last one; the channel is closed right after it.
type Snapshot[T any] struct {
	Items []T
	Err   error
}

// LoadFunc runs the filtered, ordered query for filterKey.
type LoadFunc[T any] func(ctx context.Context, filterKey string) ([]T, error)

type watcher struct {
	notify chan struct{}
}

// Broker fans store change notifications out to open queries.
type Broker struct {
	mu     sync.Mutex
	topics map[string]map[*watcher]struct{}
	logger *slog.Logger
}

// NewBroker creates an empty Broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		topics: make(map[string]map[*watcher]struct{}),
		logger: logger,
	}
}

func topic(collection, key string) string {
	return collection + "/" + key
}

// Publish marks collection/key as changed. It never blocks: a query that has
// not consumed its previous notification simply reloads once for both.
func (b *Broker) Publish(collection, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for w := range b.topics[topic(collection, key)] {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

// Watchers returns the number of open queries on collection/key.
func (b *Broker) Watchers(collection, key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic(collection, key)])
}

func (b *Broker) watch(collection, key string) (*watcher, func()) {
	t := topic(collection, key)
	w := &watcher{notify: make(chan struct{}, 1)}

	b.mu.Lock()
	if b.topics[t] == nil {
		b.topics[t] = make(map[*watcher]struct{})
	}
	b.topics[t][w] = struct{}{}
	b.mu.Unlock()

	return w, func() {
		b.mu.Lock()
		delete(b.topics[t], w)
		if len(b.topics[t]) == 0 {
			delete(b.topics, t)
		}
		b.mu.Unlock()
	}
}

// Query binds a collection to the loader that produces its ordered result.
type Query[T any] struct {
	Broker     *Broker
	Collection string
	Load       LoadFunc[T]
}

// Open starts a live query. The returned channel receives the initial
// snapshot, then one snapshot per observed change, in emission order. It is
// closed when ctx ends or after a snapshot carrying an error.
func (q Query[T]) Open(ctx context.Context, filterKey string) <-chan Snapshot[T] {
	out := make(chan Snapshot[T], 1)

	// Watch before the first load so a write racing the initial read still
	// triggers a reload.
	w, unwatch := q.Broker.watch(q.Collection, filterKey)

	go func() {
		defer close(out)
		defer unwatch()

		for {
			items, err := q.Load(ctx, filterKey)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				q.Broker.logger.Warn("live query failed",
					"collection", q.Collection, "key", filterKey, "error", err)
			}

			select {
			case out <- Snapshot[T]{Items: items, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}

			select {
			case <-w.notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
