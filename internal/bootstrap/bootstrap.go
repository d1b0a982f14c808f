// Package bootstrap decides where a client lands after launch: sign-in,
// household setup or the main app. It combines the session reported by the
// identity provider with an asynchronous household load and emits at most
// one decision per epoch.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/obs"
)

// DefaultSlowAfter is how long the machine may wait for auth or households
// before it reports itself slow.
const DefaultSlowAfter = 4 * time.Second

type Destination string

const (
	SignIn         Destination = "sign_in"
	HouseholdSetup Destination = "household_setup"
	MainApp        Destination = "main_app"
)

type State int

const (
	Idle State = iota
	AwaitingAuth
	AwaitingHouseholdLoad
	Resolved
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingAuth:
		return "awaiting_auth"
	case AwaitingHouseholdLoad:
		return "awaiting_household_load"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decision triggers.
const (
	TriggerAuto         = "auto"
	TriggerManual       = "manual"
	TriggerForceSignOut = "force_sign_out"
)

// Decision is one navigation outcome. Household is the current household
// at decision time, if any.
type Decision struct {
	Destination Destination
	Trigger     string
	Household   *model.Household
	Epoch       int
}

// HouseholdLoader fetches a user's households in display order.
type HouseholdLoader interface {
	HouseholdsForUser(ctx context.Context, userID string) ([]model.Household, error)
}

// KV is the persisted key-value capability behind the first-time-user flag.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Config wires a Machine. Loader is required.
type Config struct {
	Loader HouseholdLoader
	// SignOut is the identity provider's sign-out for the current session.
	// ForceSignOut calls it best-effort.
	SignOut func(ctx context.Context) error
	KV      KV
	// SlowAfter defaults to DefaultSlowAfter.
	SlowAfter time.Duration

	OnDecision func(Decision)
	// OnSlow fires at most once per epoch while still awaiting input.
	OnSlow func(State)
	// OnHousehold fires whenever the current household changes, with nil
	// when it is cleared.
	OnHousehold func(*model.Household)

	Logger *slog.Logger
}

type sessionState int

const (
	sessionUnknown sessionState = iota
	sessionAbsent
	sessionPresent
)

type event struct {
	decision     *Decision
	slow         *State
	householdSet bool
	household    *model.Household
}

// Machine is the session/household bootstrap state machine. All methods are
// safe for concurrent use. Callbacks run outside the machine's lock, one at
// a time, in the order the transitions happened; a callback may call back
// into the machine.
type Machine struct {
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
	state   State

	sessState sessionState
	session   *model.Session

	loadAttempted bool
	loading       bool
	loadErr       error
	households    []model.Household
	current       *model.Household
	preferredID   string
	firstTime     bool

	// gen invalidates in-flight loads whenever the session or the
	// household data is reset.
	gen uint64

	epoch     int
	decided   bool
	last      *Decision
	slow      bool
	slowTimer *time.Timer

	queue       []event
	dispatching bool
}

func New(cfg Config) (*Machine, error) {
	if cfg.Loader == nil {
		return nil, errors.New("bootstrap: household loader is required")
	}
	if cfg.SlowAfter <= 0 {
		cfg.SlowAfter = DefaultSlowAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		cfg:    cfg,
		logger: logger.With("component", "bootstrap"),
		ctx:    ctx,
		cancel: cancel,
		state:  Idle,
	}, nil
}

// Start mounts the machine: the first epoch begins and the current inputs
// are evaluated.
func (m *Machine) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.beginEpochLocked()
	m.evaluateLocked()
	m.mu.Unlock()
	m.drain()
}

// Close stops timers and abandons any pending household load. No callback
// starts after Close returns, except one already running.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopSlowLocked()
	m.queue = nil
	m.mu.Unlock()
	m.cancel()
}

// SetSession reports the identity provider's session; nil means signed
// out. A change of signed-in user, or between signed in and signed out,
// discards loaded households and, once the epoch has decided, begins a new
// one.
func (m *Machine) SetSession(s *model.Session) {
	m.mu.Lock()
	defer m.drain()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	next := sessionAbsent
	if s != nil {
		next = sessionPresent
	}
	changed := next != m.sessState ||
		(next == sessionPresent && m.session.UserID != s.UserID)

	if s != nil {
		cp := *s
		m.session = &cp
	} else {
		m.session = nil
	}
	if !changed {
		return
	}

	m.sessState = next
	m.resetHouseholdsLocked()
	m.preferredID = ""
	if m.started {
		m.reopenLocked()
		m.evaluateLocked()
	}
}

// Reload discards the household list and loads it again, in a new epoch
// if the current one has decided. The current household is kept if it is
// still in the fresh list.
func (m *Machine) Reload() {
	m.mu.Lock()
	defer m.drain()
	defer m.mu.Unlock()
	if m.closed || !m.started {
		return
	}
	if m.current != nil {
		m.preferredID = m.current.ID
	}
	m.resetHouseholdsLocked()
	m.reopenLocked()
	m.evaluateLocked()
}

// HouseholdCreated records a household the user just created or joined,
// makes it current and re-evaluates, which resolves to MainApp.
func (m *Machine) HouseholdCreated(h model.Household) {
	m.mu.Lock()
	defer m.drain()
	defer m.mu.Unlock()
	if m.closed || m.sessState != sessionPresent {
		return
	}

	replaced := false
	for i := range m.households {
		if m.households[i].ID == h.ID {
			m.households[i] = h
			replaced = true
		}
	}
	if !replaced {
		m.households = append(m.households, h)
	}
	// A load still in flight predates this household.
	m.gen++
	m.loading = false
	m.loadAttempted = true
	m.loadErr = nil
	m.setCurrentLocked(&h)
	if m.started {
		m.reopenLocked()
		m.evaluateLocked()
	}
}

// SwitchHousehold makes one of the loaded households current.
func (m *Machine) SwitchHousehold(id string) error {
	m.mu.Lock()
	defer m.drain()
	defer m.mu.Unlock()

	for i := range m.households {
		if m.households[i].ID == id {
			h := m.households[i]
			m.setCurrentLocked(&h)
			return nil
		}
	}
	return fmt.Errorf("household %s: %w", id, apperr.ErrNotFound)
}

// GoToSignIn, GoToHouseholdSetup and GoToMainApp are manual overrides: they
// emit a decision regardless of the rules and begin a new epoch without
// evaluating it.
func (m *Machine) GoToSignIn() { m.override(SignIn) }

func (m *Machine) GoToHouseholdSetup() { m.override(HouseholdSetup) }

func (m *Machine) GoToMainApp() { m.override(MainApp) }

func (m *Machine) override(dest Destination) {
	m.mu.Lock()
	defer m.drain()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if dest == MainApp && m.current == nil && len(m.households) > 0 {
		h := m.households[0]
		m.setCurrentLocked(&h)
	}
	m.decideLocked(dest, TriggerManual)
	m.beginEpochLocked()
}

// ForceSignOut clears the session and all household state, decides SignIn
// and begins a new epoch. The provider sign-out runs afterwards and its
// failure is logged, never returned: local state always wins.
func (m *Machine) ForceSignOut(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	userID := ""
	if m.session != nil {
		userID = m.session.UserID
	}
	m.sessState = sessionAbsent
	m.session = nil
	m.resetHouseholdsLocked()
	m.preferredID = ""
	m.decideLocked(SignIn, TriggerForceSignOut)
	m.beginEpochLocked()
	m.mu.Unlock()
	m.drain()

	if m.cfg.SignOut == nil {
		return
	}
	if err := m.cfg.SignOut(ctx); err != nil {
		m.logger.Warn("sign out failed, local session cleared anyway", "user_id", userID, "error", err)
	}
}

// resetHouseholdsLocked forgets everything loaded for the previous session
// or epoch and orphans any in-flight load.
func (m *Machine) resetHouseholdsLocked() {
	m.gen++
	m.loadAttempted = false
	m.loading = false
	m.loadErr = nil
	m.households = nil
	m.firstTime = false
	m.setCurrentLocked(nil)
}

func (m *Machine) setCurrentLocked(h *model.Household) {
	if h == nil && m.current == nil {
		return
	}
	if h != nil && m.current != nil && h.ID == m.current.ID && h.UpdatedAt.Equal(m.current.UpdatedAt) {
		return
	}
	m.current = h
	if h != nil {
		m.preferredID = h.ID
	}
	m.queue = append(m.queue, event{householdSet: true, household: copyHousehold(h)})
}

func (m *Machine) beginEpochLocked() {
	m.epoch++
	m.decided = false
	m.slow = false
	m.stopSlowLocked()
}

// reopenLocked begins a new epoch if the current one already has its
// decision; an undecided epoch simply continues with the new inputs.
func (m *Machine) reopenLocked() {
	if m.decided {
		m.beginEpochLocked()
	}
}

// armSlowLocked starts the slow timer for the current epoch once the
// machine is waiting on input.
func (m *Machine) armSlowLocked() {
	if m.slowTimer != nil || m.slow {
		return
	}
	epoch := m.epoch
	m.slowTimer = time.AfterFunc(m.cfg.SlowAfter, func() { m.slowCheck(epoch) })
}

func (m *Machine) stopSlowLocked() {
	if m.slowTimer != nil {
		m.slowTimer.Stop()
		m.slowTimer = nil
	}
}

func (m *Machine) slowCheck(epoch int) {
	m.mu.Lock()
	if m.closed || epoch != m.epoch || m.decided || m.slow {
		m.mu.Unlock()
		return
	}
	if m.state != AwaitingAuth && m.state != AwaitingHouseholdLoad {
		m.mu.Unlock()
		return
	}
	m.slow = true
	st := m.state
	m.queue = append(m.queue, event{slow: &st})
	m.logger.Warn("bootstrap is slow", "state", st.String(), "epoch", epoch)
	m.mu.Unlock()
	m.drain()
}

// evaluateLocked applies the transition rules once. It does nothing once
// the epoch has a decision.
func (m *Machine) evaluateLocked() {
	if !m.started || m.closed || m.decided {
		return
	}

	switch m.sessState {
	case sessionUnknown:
		m.state = AwaitingAuth
		m.armSlowLocked()
	case sessionAbsent:
		m.decideLocked(SignIn, TriggerAuto)
	case sessionPresent:
		switch {
		case m.current != nil:
			m.decideLocked(MainApp, TriggerAuto)
		case m.loadAttempted && len(m.households) > 0:
			h := m.households[0]
			m.setCurrentLocked(&h)
			m.decideLocked(MainApp, TriggerAuto)
		case m.loadAttempted:
			m.decideLocked(HouseholdSetup, TriggerAuto)
		default:
			m.state = AwaitingHouseholdLoad
			m.armSlowLocked()
			if !m.loading {
				m.loading = true
				go m.load(m.gen, m.session.UserID)
			}
		}
	}
}

func (m *Machine) decideLocked(dest Destination, trigger string) {
	d := Decision{
		Destination: dest,
		Trigger:     trigger,
		Household:   copyHousehold(m.current),
		Epoch:       m.epoch,
	}
	m.decided = true
	m.state = Resolved
	m.last = &d
	m.stopSlowLocked()
	m.queue = append(m.queue, event{decision: &d})

	obs.BootstrapDecisions.WithLabelValues(string(dest), trigger).Inc()
	m.logger.Info("bootstrap decision", "destination", string(dest), "trigger", trigger, "epoch", d.Epoch)
}

func (m *Machine) load(gen uint64, userID string) {
	list, err := m.cfg.Loader.HouseholdsForUser(m.ctx, userID)

	firstTime := false
	if err == nil && m.cfg.KV != nil {
		_, seen, kvErr := m.cfg.KV.Get(m.ctx, LoadedHouseholdsKey(userID))
		if kvErr != nil {
			m.logger.Warn("read first-time flag", "user_id", userID, "error", kvErr)
		}
		firstTime = kvErr == nil && !seen
	}

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.loading = false
	m.loadAttempted = true
	if err != nil {
		m.loadErr = err
		m.households = nil
		m.logger.Error("household load failed", "user_id", userID, "error", err)
	} else {
		m.loadErr = nil
		m.households = list
		m.firstTime = firstTime
		m.reconcileCurrentLocked()
	}
	m.evaluateLocked()
	m.mu.Unlock()
	m.drain()

	if err == nil && len(list) > 0 && m.cfg.KV != nil {
		if err := m.cfg.KV.Set(m.ctx, LoadedHouseholdsKey(userID), "true"); err != nil {
			m.logger.Warn("persist first-time flag", "user_id", userID, "error", err)
		}
	}
}

// reconcileCurrentLocked re-selects the preferred household from a fresh
// list, or clears the selection when it is gone.
func (m *Machine) reconcileCurrentLocked() {
	if m.preferredID == "" {
		return
	}
	for i := range m.households {
		if m.households[i].ID == m.preferredID {
			h := m.households[i]
			m.setCurrentLocked(&h)
			return
		}
	}
	m.setCurrentLocked(nil)
}

// drain delivers queued callbacks. Only one goroutine drains at a time;
// others just leave their events on the queue.
func (m *Machine) drain() {
	m.mu.Lock()
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	for len(m.queue) > 0 && !m.closed {
		ev := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		m.deliver(ev)
		m.mu.Lock()
	}
	m.queue = nil
	m.dispatching = false
	m.mu.Unlock()
}

func (m *Machine) deliver(ev event) {
	switch {
	case ev.decision != nil:
		if m.cfg.OnDecision != nil {
			m.cfg.OnDecision(*ev.decision)
		}
	case ev.slow != nil:
		if m.cfg.OnSlow != nil {
			m.cfg.OnSlow(*ev.slow)
		}
	case ev.householdSet:
		if m.cfg.OnHousehold != nil {
			m.cfg.OnHousehold(ev.household)
		}
	}
}

func copyHousehold(h *model.Household) *model.Household {
	if h == nil {
		return nil
	}
	cp := *h
	cp.Members = append([]model.Member(nil), h.Members...)
	cp.MemberUserIDs = append([]string(nil), h.MemberUserIDs...)
	return &cp
}

// LoadedHouseholdsKey is the persisted flag recording that userID has
// loaded a non-empty household list before.
func LoadedHouseholdsKey(userID string) string {
	return "pantrysync_user_" + userID + "_loaded_households"
}
