// Package gate renders UI sections behind a capability check. A gate never
// shows its denied view while the check is still in flight.
package gate

import (
	"fmt"
	"sync"

	"github.com/dukerupert/dayboard/internal/permission"
)

type State int

const (
	Idle State = iota
	Loading
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Machine tracks one gate through Idle -> Loading -> Granted|Denied. The
// dependency string fingerprints the identity and role the check ran for;
// results for a stale dependency are discarded.
type Machine struct {
	mu    sync.Mutex
	state State
	dep   string
}

func NewMachine() *Machine {
	return &Machine{}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Begin enters Loading for dep. It is a no-op when the gate has already
// settled for the same dependency.
func (m *Machine) Begin(dep string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if (m.state == Granted || m.state == Denied) && m.dep == dep {
		return
	}
	m.state = Loading
	m.dep = dep
}

// Settle records the result of the check started for dep and reports whether
// it was applied.
func (m *Machine) Settle(dep string, allowed bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Loading || m.dep != dep {
		return false
	}
	if allowed {
		m.state = Granted
	} else {
		m.state = Denied
	}
	return true
}

// Slot names one gated region of a page and the templates it renders in
// each state. Empty template names fall back to the defaults.
type Slot struct {
	Name         string
	Capability   permission.Capability
	Children     string
	Fallback     string
	Loading      string
	ShowDisabled bool
}

// View is what a slot renders in a given state.
type View struct {
	Template string
	Disabled bool
}

const (
	DefaultLoadingTemplate = "gate-loading"
	disabledTemplate       = "gate-disabled"
)

// Choose picks the view for a slot in state s. An empty template means
// render nothing.
func Choose(s State, slot Slot) View {
	switch s {
	case Granted:
		return View{Template: slot.Children}
	case Denied:
		if slot.ShowDisabled {
			return View{Template: slot.Children, Disabled: true}
		}
		return View{Template: slot.Fallback}
	default:
		if slot.Loading != "" {
			return View{Template: slot.Loading}
		}
		return View{Template: DefaultLoadingTemplate}
	}
}
