package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/pantry"
	"github.com/dukerupert/pantrysync/internal/store"
)

// DefaultInterval is how often the scheduler looks for alerts.
const DefaultInterval = 15 * time.Minute

// logRetention bounds how long sent-notification records are kept.
const logRetention = 7 * 24 * time.Hour

type sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

// Scheduler sends each subscribed household at most one low-stock and one
// expiring-soon alert per day.
type Scheduler struct {
	mu       sync.RWMutex
	sender   sender
	push     *store.PushStore
	items    *store.PantryStore
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(svc *Service, pushStore *store.PushStore, items *store.PantryStore, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		sender:   svc,
		push:     pushStore,
		items:    items,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// RunOnce checks every subscribed household.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now()
	if err := s.push.CleanupSent(ctx, now.Add(-logRetention)); err != nil {
		s.logger.Warn("push scheduler: cleanup log", "error", err)
	}

	householdIDs, err := s.push.ListHouseholdIDs(ctx)
	if err != nil {
		s.logger.Error("push scheduler: list households", "error", err)
		return
	}
	for _, hid := range householdIDs {
		if ctx.Err() != nil {
			return
		}
		s.checkPantry(ctx, hid, now)
	}
}

func (s *Scheduler) checkPantry(ctx context.Context, householdID string, now time.Time) {
	items, err := s.items.ListByHousehold(ctx, householdID)
	if err != nil {
		s.logger.Error("push scheduler: list pantry", "household_id", householdID, "error", err)
		return
	}
	alerts := pantry.ComputeAlerts(items, now)
	day := now.UTC().Format("2006-01-02")

	if len(alerts.LowStock) > 0 {
		s.notify(ctx, householdID, model.NotifTypeLowStock, "low-stock-"+day, Payload{
			Title: "Running low",
			Body:  summary(alerts.LowStock, "is running low", "items are running low"),
			URL:   "/pantry",
			Tag:   "low-stock",
		})
	}
	if len(alerts.ExpiringSoon) > 0 {
		s.notify(ctx, householdID, model.NotifTypeExpiringSoon, "expiring-soon-"+day, Payload{
			Title: "Expiring soon",
			Body:  summary(alerts.ExpiringSoon, "expires soon", "items expire soon"),
			URL:   "/pantry",
			Tag:   "expiring-soon",
		})
	}
}

func summary(items []model.PantryItem, one, many string) string {
	if len(items) == 1 {
		return fmt.Sprintf("%s %s", items[0].Name, one)
	}
	names := make([]string, 0, 3)
	for _, it := range items[:min(3, len(items))] {
		names = append(names, it.Name)
	}
	body := fmt.Sprintf("%d %s: %s", len(items), many, strings.Join(names, ", "))
	if len(items) > 3 {
		body += ", ..."
	}
	return body
}

func (s *Scheduler) notify(ctx context.Context, householdID, notifType, refID string, payload Payload) {
	sent, err := s.push.WasSent(ctx, householdID, notifType, refID)
	if err != nil || sent {
		if err != nil {
			s.logger.Error("push scheduler: check sent", "household_id", householdID, "error", err)
		}
		return
	}

	subs, err := s.push.ListByHousehold(ctx, householdID)
	if err != nil {
		s.logger.Error("push scheduler: list subs", "household_id", householdID, "error", err)
		return
	}
	for _, sub := range subs {
		if err := s.sender.Send(ctx, &sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				s.push.DeleteByEndpoint(ctx, sub.Endpoint)
			} else {
				s.logger.Warn("push scheduler: send", "type", notifType, "household_id", householdID, "error", err)
			}
		}
	}

	if err := s.push.RecordSent(ctx, householdID, notifType, refID); err != nil {
		s.logger.Error("push scheduler: record sent", "household_id", householdID, "error", err)
	}
}
