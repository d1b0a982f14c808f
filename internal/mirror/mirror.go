// Package mirror keeps an in-memory, ordered copy of a remote collection
// current through a live query, handing every new snapshot to a callback
// until the subscription is cancelled or the query fails.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/obs"
)

// ErrEmptyFilter is returned by Subscribe for an empty filter key. It
// matches apperr.ErrValidationFailed.
var ErrEmptyFilter = fmt.Errorf("%w: mirror: filter key is required", apperr.ErrValidationFailed)

// Source opens live queries. livequery.Query satisfies it.
type Source[T any] interface {
	Open(ctx context.Context, filterKey string) <-chan livequery.Snapshot[T]
}

// Mirror subscribes consumers to one collection.
type Mirror[T any] struct {
	name    string
	source  Source[T]
	logger  *slog.Logger
	onError func(filterKey string, err error)
}

// New creates a Mirror. name labels logs and metrics.
func New[T any](name string, source Source[T], logger *slog.Logger) *Mirror[T] {
	return &Mirror[T]{name: name, source: source, logger: logger}
}

// OnError installs the side channel that receives live query failures. It is
// called once per failed subscription, after the subscription has stopped.
func (m *Mirror[T]) OnError(fn func(filterKey string, err error)) {
	m.onError = fn
}

// Subscribe starts mirroring the records matching filterKey. onChange gets
// the initial snapshot and then every later one, each as a fresh slice the
// callee may keep. Deliveries for one subscription never overlap and arrive
// in the order the store emitted them.
//
// onChange must not cancel its own subscription.
func (m *Mirror[T]) Subscribe(filterKey string, onChange func([]T)) (*Subscription, error) {
	if filterKey == "" {
		return nil, ErrEmptyFilter
	}
	if onChange == nil {
		return nil, apperr.Validation("mirror: onChange is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		key:    filterKey,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	feed := m.source.Open(ctx, filterKey)

	obs.MirrorActive.WithLabelValues(m.name).Inc()
	go m.run(sub, feed, onChange)

	return sub, nil
}

func (m *Mirror[T]) run(sub *Subscription, feed <-chan livequery.Snapshot[T], onChange func([]T)) {
	defer obs.MirrorActive.WithLabelValues(m.name).Dec()
	defer close(sub.done)
	defer sub.cancel()

	for snap := range feed {
		sub.mu.Lock()
		if sub.cancelled {
			sub.mu.Unlock()
			return
		}
		if snap.Err != nil {
			sub.err = snap.Err
			sub.mu.Unlock()
			m.fail(sub.key, snap.Err)
			return
		}

		items := make([]T, len(snap.Items))
		copy(items, snap.Items)
		onChange(items)
		sub.delivered++
		obs.MirrorDeliveries.WithLabelValues(m.name).Inc()
		sub.mu.Unlock()
	}

	// The feed closed without an error snapshot: only expected after Cancel.
	sub.mu.Lock()
	cancelled := sub.cancelled
	if !cancelled && sub.err == nil {
		sub.err = errFeedClosed
	}
	err := sub.err
	sub.mu.Unlock()
	if !cancelled {
		m.fail(sub.key, err)
	}
}

var errFeedClosed = errors.New("mirror: live query closed")

func (m *Mirror[T]) fail(key string, err error) {
	obs.MirrorFailures.WithLabelValues(m.name).Inc()
	m.logger.Error("mirror stopped", "mirror", m.name, "key", key, "error", err)
	if m.onError != nil {
		m.onError(key, err)
	}
}

// Subscription is the cancel handle for one Subscribe call.
type Subscription struct {
	key    string
	cancel context.CancelFunc
	done   chan struct{}

	// mu is held for the whole of each delivery, so Cancel waits for an
	// in-flight callback and no callback starts after Cancel returns.
	mu        sync.Mutex
	cancelled bool
	err       error
	delivered int
}

// Cancel stops the subscription. It is idempotent, and once it returns no
// further onChange call happens, even for a snapshot already in flight.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
}

// Key returns the filter key the subscription was opened with.
func (s *Subscription) Key() string {
	return s.key
}

// Done is closed once the subscription has stopped, by Cancel or by error.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the live query error that stopped the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Active reports whether the subscription is still delivering.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cancelled && s.err == nil
}

// Delivered returns how many snapshots reached onChange.
func (s *Subscription) Delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}
