// Package system holds process-wide operational switches.
package system

import (
	"sync"
	"time"
)

// Status describes the lockdown switch.
type Status struct {
	LockedDown bool      `json:"locked_down"`
	Reason     string    `json:"reason,omitempty"`
	Since      time.Time `json:"since,omitempty"`
}

// State is an emergency lockdown switch. While locked down the request
// pipeline refuses every input.
type State struct {
	mu     sync.RWMutex
	status Status
}

// NewState returns an unlocked switch.
func NewState() *State {
	return &State{}
}

// IsLockedDown returns true if the system is in emergency lockdown
func (s *State) IsLockedDown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.LockedDown
}

// Lockdown enables emergency lockdown mode. Re-locking keeps the original time.
func (s *State) Lockdown(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.LockedDown {
		s.status.Since = time.Now().UTC()
	}
	s.status.LockedDown = true
	s.status.Reason = reason
}

// Unlock disables emergency lockdown mode
func (s *State) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{}
}

// Status returns a snapshot of the switch.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
