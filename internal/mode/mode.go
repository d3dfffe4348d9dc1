// Package mode implements the execution-mode state machine: disarmed,
// armed-confirm, armed-auto, crossed with a panic override. Every
// transition invokes a callback so the caller can append a mode_change
// ledger entry before the transition is considered complete.
package mode

import (
	"sync"

	"predict-scanner/pkg/types"
)

// TransitionFunc is invoked synchronously on every mode or panic change,
// after the new state is committed. The mode change must land in the
// ledger before the API call that triggered it returns, so this is a
// direct call rather than a notification channel.
type TransitionFunc func(from, to types.ModeState)

// Manager guards the current ModeState and notifies a transition callback.
type Manager struct {
	mu         sync.RWMutex
	state      types.ModeState
	onTransition TransitionFunc
}

// NewManager creates a mode manager starting DISARMED, panic=false.
func NewManager(onTransition TransitionFunc) *Manager {
	return &Manager{
		state:        types.ModeState{Mode: types.Disarmed, Panic: false},
		onTransition: onTransition,
	}
}

// State returns the current stored state.
func (m *Manager) State() types.ModeState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) transition(next types.ModeState) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if m.onTransition != nil && prev != next {
		m.onTransition(prev, next)
	}
}

// Disarm sets mode to DISARMED without touching panic.
func (m *Manager) Disarm() {
	m.mu.RLock()
	next := types.ModeState{Mode: types.Disarmed, Panic: m.state.Panic}
	m.mu.RUnlock()
	m.transition(next)
}

// ArmConfirm sets mode to ARMED_CONFIRM without touching panic.
func (m *Manager) ArmConfirm() {
	m.mu.RLock()
	next := types.ModeState{Mode: types.ArmedConfirm, Panic: m.state.Panic}
	m.mu.RUnlock()
	m.transition(next)
}

// ArmAuto sets mode to ARMED_AUTO without touching panic.
func (m *Manager) ArmAuto() {
	m.mu.RLock()
	next := types.ModeState{Mode: types.ArmedAuto, Panic: m.state.Panic}
	m.mu.RUnlock()
	m.transition(next)
}

// Panic flips mode to DISARMED and sets panic=true.
func (m *Manager) Panic() {
	m.transition(types.ModeState{Mode: types.Disarmed, Panic: true})
}

// ClearPanic is the explicit toggle to leave the panic state; it does not
// by itself re-arm the system.
func (m *Manager) ClearPanic() {
	m.mu.RLock()
	next := types.ModeState{Mode: m.state.Mode, Panic: false}
	m.mu.RUnlock()
	m.transition(next)
}

// MayExecute reports whether any execution path is currently open:
// !panic && mode in {ARMED_CONFIRM, ARMED_AUTO}.
func (m *Manager) MayExecute() bool {
	s := m.State()
	return !s.Panic && (s.Mode == types.ArmedConfirm || s.Mode == types.ArmedAuto)
}

// IsAutoExecute reports !panic && mode==ARMED_AUTO.
func (m *Manager) IsAutoExecute() bool {
	s := m.State()
	return !s.Panic && s.Mode == types.ArmedAuto
}

// IsConfirmMode reports !panic && mode==ARMED_CONFIRM.
func (m *Manager) IsConfirmMode() bool {
	s := m.State()
	return !s.Panic && s.Mode == types.ArmedConfirm
}
