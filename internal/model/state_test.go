package model

import "testing"

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state    ControllerState
		terminal bool
	}{
		{StateIdle, false},
		{StateInstalling, false},
		{StateStarting, false},
		{StateMonitoring, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateStopped, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := IsTerminal(tt.state); got != tt.terminal {
				t.Errorf("IsTerminal(%q) = %v, want %v", tt.state, got, tt.terminal)
			}
		})
	}
}

func TestValidateStateTransition(t *testing.T) {
	valid := []struct {
		from, to ControllerState
	}{
		{StateIdle, StateInstalling},
		{StateIdle, StateStarting},
		{StateIdle, StateFailed},
		{StateIdle, StateStopped},
		{StateInstalling, StateStarting},
		{StateInstalling, StateFailed},
		{StateInstalling, StateStopped},
		{StateStarting, StateMonitoring},
		{StateStarting, StateFailed},
		{StateStarting, StateStopped},
		{StateMonitoring, StateCompleted},
		{StateMonitoring, StateFailed},
		{StateMonitoring, StateStopped},
	}
	for _, tt := range valid {
		if err := ValidateStateTransition(tt.from, tt.to); err != nil {
			t.Errorf("ValidateStateTransition(%q, %q) = %v, want nil", tt.from, tt.to, err)
		}
	}

	invalid := []struct {
		from, to ControllerState
	}{
		{StateIdle, StateMonitoring},
		{StateIdle, StateCompleted},
		{StateInstalling, StateMonitoring},
		{StateInstalling, StateCompleted},
		{StateStarting, StateCompleted},
		{StateStarting, StateInstalling},
		{StateMonitoring, StateStarting},
		{StateMonitoring, StateIdle},
	}
	for _, tt := range invalid {
		if err := ValidateStateTransition(tt.from, tt.to); err == nil {
			t.Errorf("ValidateStateTransition(%q, %q) = nil, want error", tt.from, tt.to)
		}
	}
}

func TestValidateStateTransition_TerminalStatesHaveNoExits(t *testing.T) {
	terminals := []ControllerState{StateCompleted, StateFailed, StateStopped}
	targets := []ControllerState{
		StateIdle, StateInstalling, StateStarting, StateMonitoring,
		StateCompleted, StateFailed, StateStopped,
	}
	for _, from := range terminals {
		for _, to := range targets {
			if err := ValidateStateTransition(from, to); err == nil {
				t.Errorf("ValidateStateTransition(%q, %q) = nil, want error", from, to)
			}
		}
	}
}

func TestValidateStateTransition_UnknownState(t *testing.T) {
	if err := ValidateStateTransition(ControllerState("bogus"), StateStarting); err == nil {
		t.Error("expected error for unknown from state")
	}
}
