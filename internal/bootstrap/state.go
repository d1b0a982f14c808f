package bootstrap

import (
	"errors"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/model"
)

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Epoch returns the current epoch number. It starts at 1 on Start.
func (m *Machine) Epoch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// LastDecision returns the most recent decision, if any.
func (m *Machine) LastDecision() (Decision, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Decision{}, false
	}
	return *m.last, true
}

// Session returns a copy of the signed-in session, or nil.
func (m *Machine) Session() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	return &cp
}

// Households returns a copy of the loaded household list.
func (m *Machine) Households() []model.Household {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Household, 0, len(m.households))
	for i := range m.households {
		out = append(out, *copyHousehold(&m.households[i]))
	}
	return out
}

// CurrentHousehold returns a copy of the selected household, or nil.
func (m *Machine) CurrentHousehold() *model.Household {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyHousehold(m.current)
}

// HouseholdLoadAttempted reports whether a load finished in this session,
// successfully or not.
func (m *Machine) HouseholdLoadAttempted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadAttempted
}

// Slow reports whether the slow signal fired in the current epoch.
func (m *Machine) Slow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slow
}

// FirstTimeUser reports whether the last successful load found no record
// of the user ever having loaded households.
func (m *Machine) FirstTimeUser() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstTime
}

// LoadErrorKind classifies a failed household load for display.
type LoadErrorKind string

const (
	LoadErrorNone       LoadErrorKind = ""
	LoadErrorPermission LoadErrorKind = "permission"
	LoadErrorNetwork    LoadErrorKind = "network"
	LoadErrorOther      LoadErrorKind = "other"
)

// LoadError returns the last household load failure and its kind.
func (m *Machine) LoadError() (LoadErrorKind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ClassifyLoadError(m.loadErr), m.loadErr
}

// ClearError forgets the last load failure. It does not trigger a reload.
func (m *Machine) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = nil
}

func ClassifyLoadError(err error) LoadErrorKind {
	switch {
	case err == nil:
		return LoadErrorNone
	case errors.Is(err, apperr.ErrUnauthorized):
		return LoadErrorPermission
	case errors.Is(err, apperr.ErrStoreUnavailable), errors.Is(err, apperr.ErrNetwork):
		return LoadErrorNetwork
	default:
		return LoadErrorOther
	}
}

// LoadErrorMessage is the text shown on the household setup screen after a
// failed load.
func LoadErrorMessage(kind LoadErrorKind) string {
	switch kind {
	case LoadErrorNone:
		return ""
	case LoadErrorPermission:
		return "Permission denied. Please check your account access."
	case LoadErrorNetwork:
		return "Network error. Please check your connection and try again."
	default:
		return "Failed to load households. Please try again."
	}
}
