// Package store persists PantrySync documents in SQLite. Every write that
// changes a live collection publishes the collection and filter key to the
// store's Notifier so open live queries reload.
package store

import (
	"time"

	"github.com/dukerupert/pantrysync/internal/livequery"
)

// Notifier receives change notifications. *livequery.Broker implements it.
type Notifier interface {
	Publish(collection, key string)
}

var _ Notifier = (*livequery.Broker)(nil)

type nopNotifier struct{}

func (nopNotifier) Publish(string, string) {}

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}

type scanner interface {
	Scan(...any) error
}

// now is the store clock. Timestamps are stored in UTC.
var now = func() time.Time { return time.Now().UTC() }
