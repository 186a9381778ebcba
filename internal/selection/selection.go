// Package selection tracks the marker targeted by the popup.
package selection

import (
	"fmt"
	"sync"

	"github.com/OCAP2/mapmarkers/pkg/core"
)

// Policy decides what a hover does while another marker is already active.
type Policy int

const (
	// PolicyExclusive ignores hovers until the popup is closed.
	PolicyExclusive Policy = iota
	// PolicyOverride lets every hover replace the active marker.
	PolicyOverride
)

// ParsePolicy converts a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "exclusive":
		return PolicyExclusive, nil
	case "override":
		return PolicyOverride, nil
	default:
		return PolicyExclusive, fmt.Errorf("unknown selection policy: %s", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyOverride:
		return "override"
	default:
		return "exclusive"
	}
}

// State is a single slot holding the active marker id, or nothing.
// It stores the id only; readers look the marker up in the store.
type State struct {
	mu     sync.RWMutex
	policy Policy
	active core.MarkerID
	set    bool
}

// New creates an empty State with the given hover policy
func New(policy Policy) *State {
	return &State{policy: policy}
}

// Active returns the active marker id, if any.
func (s *State) Active() (core.MarkerID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.set
}

// Hover applies a resolved hover. It reports whether the state changed.
func (s *State) Hover(id core.MarkerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set {
		if s.active == id || s.policy == PolicyExclusive {
			return false
		}
	}
	s.active = id
	s.set = true
	return true
}

// Select makes id active regardless of policy; used when a marker is created.
func (s *State) Select(id core.MarkerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
	s.set = true
}

// Close clears the selection. It reports whether anything was active.
func (s *State) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.set
	s.active = 0
	s.set = false
	return was
}

// ClearIf clears the selection only when id is the active marker.
func (s *State) ClearIf(id core.MarkerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.set || s.active != id {
		return false
	}
	s.active = 0
	s.set = false
	return true
}

// DragStart clears the selection when a drag gesture begins.
func (s *State) DragStart() bool {
	return s.Close()
}
