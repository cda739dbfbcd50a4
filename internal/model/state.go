// Package model defines the data structures shared by the proctor's
// controller, monitors, and classifier: controller states, monitor
// readings, and execution results.
package model

import "fmt"

// ControllerState is the lifecycle state of a tool controller.
type ControllerState string

const (
	StateIdle       ControllerState = "idle"
	StateInstalling ControllerState = "installing"
	StateStarting   ControllerState = "starting"
	StateMonitoring ControllerState = "monitoring"
	StateCompleted  ControllerState = "completed"
	StateFailed     ControllerState = "failed"
	StateStopped    ControllerState = "stopped"
)

var terminalStates = map[ControllerState]bool{
	StateCompleted: true,
	StateFailed:    true,
	StateStopped:   true,
}

// Lifecycle transitions: idle → installing → starting → monitoring → terminal.
// Install is optional, so idle → starting is also valid. Any non-terminal
// state may fail or be stopped.
var validStateTransitions = map[ControllerState]map[ControllerState]bool{
	StateIdle: {
		StateInstalling: true,
		StateStarting:   true,
		StateFailed:     true,
		StateStopped:    true,
	},
	StateInstalling: {
		StateStarting: true,
		StateFailed:   true,
		StateStopped:  true,
	},
	StateStarting: {
		StateMonitoring: true,
		StateFailed:     true,
		StateStopped:    true,
	},
	StateMonitoring: {
		StateCompleted: true,
		StateFailed:    true,
		StateStopped:   true,
	},
}

// IsTerminal reports whether s is a terminal state.
func IsTerminal(s ControllerState) bool {
	return terminalStates[s]
}

// ValidateStateTransition returns an error unless from → to is a legal
// lifecycle transition. Terminal states have no outgoing transitions.
func ValidateStateTransition(from, to ControllerState) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal state %q", from)
	}
	allowed, ok := validStateTransitions[from]
	if !ok {
		return fmt.Errorf("unknown state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid state transition: %q → %q", from, to)
	}
	return nil
}
