package mirror

import "sync"

// Slot holds the one active subscription of a logical subscriber. Replacing
// it always cancels the previous subscription first, so two mirrors never
// feed the same consumer.
type Slot struct {
	mu  sync.Mutex
	sub *Subscription
}

// Replace points the slot at key. If the current subscription already
// serves key and is still active nothing happens and started is false.
// Otherwise the old subscription is cancelled and, for a non-empty key,
// start opens the replacement.
func (s *Slot) Replace(key string, start func(key string) (*Subscription, error)) (started bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil && s.sub.Key() == key && s.sub.Active() {
		return false, nil
	}
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	if key == "" {
		return false, nil
	}

	sub, err := start(key)
	if err != nil {
		return false, err
	}
	s.sub = sub
	return true, nil
}

// Clear cancels the held subscription, if any.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
}

// Current returns the held subscription, or nil.
func (s *Slot) Current() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}
