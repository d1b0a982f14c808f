package mirror

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/logging"
)

// fakeFeed is one live query opened on fakeSource. Tests push snapshots
// through it by hand.
type fakeFeed struct {
	ctx    context.Context
	mu     sync.Mutex
	ch     chan livequery.Snapshot[int]
	closed bool
}

// send delivers snap unless the query was cancelled. It reports whether the
// consumer took it.
func (f *fakeFeed) send(snap livequery.Snapshot[int]) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.ch <- snap:
		return true
	case <-f.ctx.Done():
		return false
	}
}

func (f *fakeFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}

type fakeSource struct {
	mu    sync.Mutex
	feeds []*fakeFeed
}

func (s *fakeSource) Open(ctx context.Context, key string) <-chan livequery.Snapshot[int] {
	f := &fakeFeed{ctx: ctx, ch: make(chan livequery.Snapshot[int])}
	s.mu.Lock()
	s.feeds = append(s.feeds, f)
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.close()
	}()
	return f.ch
}

func (s *fakeSource) last() *fakeFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds[len(s.feeds)-1]
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}

func newTestMirror() (*Mirror[int], *fakeSource) {
	src := &fakeSource{}
	return New[int]("test", src, logging.Discard()), src
}

func waitDone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop")
	}
}

func TestSubscribeRejectsEmptyKey(t *testing.T) {
	m, src := newTestMirror()
	_, err := m.Subscribe("", func([]int) {})
	if !errors.Is(err, ErrEmptyFilter) {
		t.Fatalf("err = %v, want ErrEmptyFilter", err)
	}
	if !errors.Is(err, apperr.ErrValidationFailed) {
		t.Error("expected validation category")
	}
	if src.count() != 0 {
		t.Error("no live query should be opened for an empty key")
	}
}

func TestSubscribeDeliversInOrder(t *testing.T) {
	m, src := newTestMirror()

	got := make(chan []int, 3)
	sub, err := m.Subscribe("h1", func(items []int) { got <- items })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	feed := src.last()
	feed.send(livequery.Snapshot[int]{Items: []int{1}})
	feed.send(livequery.Snapshot[int]{Items: []int{1, 2}})
	feed.send(livequery.Snapshot[int]{Items: []int{1, 2, 3}})

	for want := 1; want <= 3; want++ {
		select {
		case items := <-got:
			if len(items) != want {
				t.Fatalf("delivery %d has %d items", want, len(items))
			}
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
	if n := sub.Delivered(); n != 3 {
		t.Errorf("Delivered() = %d, want 3", n)
	}
}

func TestDeliveredSliceIsCopy(t *testing.T) {
	m, src := newTestMirror()

	got := make(chan []int, 1)
	sub, _ := m.Subscribe("h1", func(items []int) { got <- items })
	defer sub.Cancel()

	shared := []int{7, 8}
	src.last().send(livequery.Snapshot[int]{Items: shared})
	items := <-got
	items[0] = 99
	if shared[0] != 7 {
		t.Error("mirror handed out the source's backing array")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	m, src := newTestMirror()

	var calls atomic.Int32
	sub, _ := m.Subscribe("h1", func([]int) { calls.Add(1) })
	sub.Cancel()
	sub.Cancel()
	sub.Cancel()
	waitDone(t, sub)

	src.last().send(livequery.Snapshot[int]{Items: []int{1}})
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
	if sub.Active() {
		t.Error("expected inactive subscription")
	}
	if sub.Err() != nil {
		t.Errorf("Err = %v, want nil after cancel", sub.Err())
	}
}

func TestCancelWaitsForInFlightDelivery(t *testing.T) {
	m, src := newTestMirror()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	sub, _ := m.Subscribe("h1", func([]int) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	})
	feed := src.last()

	go feed.send(livequery.Snapshot[int]{Items: []int{1}})
	<-entered

	cancelled := make(chan struct{})
	go func() {
		sub.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while a delivery was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-cancelled

	feed.send(livequery.Snapshot[int]{Items: []int{1, 2}})
	waitDone(t, sub)
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestErrorStopsSubscription(t *testing.T) {
	m, src := newTestMirror()

	reported := make(chan error, 1)
	m.OnError(func(key string, err error) {
		if key != "h1" {
			t.Errorf("key = %q, want h1", key)
		}
		reported <- err
	})

	var calls atomic.Int32
	sub, _ := m.Subscribe("h1", func([]int) { calls.Add(1) })
	feed := src.last()

	denied := errors.New("permission denied")
	feed.send(livequery.Snapshot[int]{Items: []int{1}})
	feed.send(livequery.Snapshot[int]{Err: denied})

	select {
	case err := <-reported:
		if !errors.Is(err, denied) {
			t.Errorf("reported %v, want %v", err, denied)
		}
	case <-time.After(time.Second):
		t.Fatal("error was not reported")
	}
	waitDone(t, sub)

	if !errors.Is(sub.Err(), denied) {
		t.Errorf("Err = %v, want %v", sub.Err(), denied)
	}
	if sub.Active() {
		t.Error("subscription should be stopped")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	// No retry: the source saw exactly one Open.
	if src.count() != 1 {
		t.Errorf("opens = %d, want 1", src.count())
	}
	// Cancelling a failed subscription is still safe.
	sub.Cancel()
}

func TestUnexpectedCloseReported(t *testing.T) {
	m, src := newTestMirror()
	reported := make(chan error, 1)
	m.OnError(func(_ string, err error) { reported <- err })

	sub, _ := m.Subscribe("h1", func([]int) {})
	src.last().close()

	select {
	case err := <-reported:
		if err == nil {
			t.Error("expected non-nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("close was not reported")
	}
	waitDone(t, sub)
}

// For random interleavings of deliveries and cancellation, no callback may
// begin after Cancel has returned.
func TestNoDeliveryAfterCancelProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		m, src := newTestMirror()

		var afterCancel atomic.Bool
		var violations atomic.Int32
		sub, err := m.Subscribe("h1", func([]int) {
			if afterCancel.Load() {
				violations.Add(1)
			}
			if d := time.Duration(round%3) * 50 * time.Microsecond; d > 0 {
				time.Sleep(d)
			}
		})
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		feed := src.last()

		n := 1 + rng.Intn(8)
		cancelAt := rng.Intn(n + 1)
		delays := make([]time.Duration, n)
		for i := range delays {
			delays[i] = time.Duration(rng.Intn(200)) * time.Microsecond
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				time.Sleep(delays[i])
				feed.send(livequery.Snapshot[int]{Items: []int{i}})
			}
		}()

		time.Sleep(time.Duration(cancelAt) * 100 * time.Microsecond)
		sub.Cancel()
		afterCancel.Store(true)

		wg.Wait()
		waitDone(t, sub)

		if v := violations.Load(); v != 0 {
			t.Fatalf("round %d: %d deliveries after Cancel returned", round, v)
		}
	}
}
