package models

import (
	"fmt"
)

// SessionState is the lifecycle state of a validation session
type SessionState string

// Strict session states for the worker FSM
const (
	SessionStateAdmitted     SessionState = "admitted"     // Registered, worker not yet spawned
	SessionStateInitializing SessionState = "initializing" // Worker preparing its validator
	SessionStateActive       SessionState = "active"       // Worker accepting traffic
	SessionStateDraining     SessionState = "draining"     // No new traffic, flushing results
	SessionStateTerminated   SessionState = "terminated"   // Final
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[SessionState]map[SessionState]bool{
	SessionStateAdmitted: {
		SessionStateInitializing: true, // Admitted → Initializing (worker spawned)
		SessionStateTerminated:   true, // Admitted → Terminated (spawn failed)
	},
	SessionStateInitializing: {
		SessionStateActive:     true, // Initializing → Active (validator ready)
		SessionStateTerminated: true, // Initializing → Terminated (initialization failed or crashed)
	},
	SessionStateActive: {
		SessionStateDraining:   true, // Active → Draining (deadline or stop)
		SessionStateTerminated: true, // Active → Terminated (crash or forced reclaim)
	},
	SessionStateDraining: {
		SessionStateTerminated: true, // Draining → Terminated (flushed or reclaimed)
	},
	// Terminal state (no transitions allowed)
	SessionStateTerminated: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to SessionState) error {
	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state SessionState) bool {
	return state == SessionStateTerminated
}

// IsRunningState returns true while the session holds a worker slot and is
// not yet draining.
func IsRunningState(state SessionState) bool {
	return state == SessionStateAdmitted || state == SessionStateInitializing || state == SessionStateActive
}

// Order returns the position of a state in the lifecycle. Unknown states sort last.
func (s SessionState) Order() int {
	switch s {
	case SessionStateAdmitted:
		return 0
	case SessionStateInitializing:
		return 1
	case SessionStateActive:
		return 2
	case SessionStateDraining:
		return 3
	default:
		return 4
	}
}
