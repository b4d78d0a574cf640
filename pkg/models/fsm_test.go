package models

import (
	"testing"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    SessionState
		to      SessionState
		wantErr bool
	}{
		// Valid transitions
		{"Admitted to Initializing", SessionStateAdmitted, SessionStateInitializing, false},
		{"Admitted to Terminated", SessionStateAdmitted, SessionStateTerminated, false},
		{"Initializing to Active", SessionStateInitializing, SessionStateActive, false},
		{"Initializing to Terminated", SessionStateInitializing, SessionStateTerminated, false},
		{"Active to Draining", SessionStateActive, SessionStateDraining, false},
		{"Active to Terminated", SessionStateActive, SessionStateTerminated, false},
		{"Draining to Terminated", SessionStateDraining, SessionStateTerminated, false},

		// Invalid transitions
		{"Admitted to Active", SessionStateAdmitted, SessionStateActive, true},
		{"Initializing to Draining", SessionStateInitializing, SessionStateDraining, true},
		{"Draining to Active", SessionStateDraining, SessionStateActive, true},
		{"Terminated to Active", SessionStateTerminated, SessionStateActive, true},
		{"Terminated to Terminated", SessionStateTerminated, SessionStateTerminated, true},
		{"Unknown source", SessionState("bogus"), SessionStateActive, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		name     string
		state    SessionState
		expected bool
	}{
		{"Terminated is terminal", SessionStateTerminated, true},
		{"Draining is not terminal", SessionStateDraining, false},
		{"Active is not terminal", SessionStateActive, false},
		{"Admitted is not terminal", SessionStateAdmitted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsTerminalState(tt.state)
			if result != tt.expected {
				t.Errorf("IsTerminalState(%v) = %v, want %v", tt.state, result, tt.expected)
			}
		})
	}
}

func TestStateOrder(t *testing.T) {
	order := []SessionState{
		SessionStateAdmitted,
		SessionStateInitializing,
		SessionStateActive,
		SessionStateDraining,
		SessionStateTerminated,
	}
	for i := 1; i < len(order); i++ {
		if order[i-1].Order() >= order[i].Order() {
			t.Errorf("%s should sort before %s", order[i-1], order[i])
		}
	}
}

func TestScopeMatches(t *testing.T) {
	target := Scope{ResourceProvider: "Microsoft.Storage", APIVersion: "2016-01-01"}

	tests := []struct {
		name  string
		scope Scope
		want  bool
	}{
		{"exact", Scope{"Microsoft.Storage", "2016-01-01"}, true},
		{"wildcard", Scope{}, true},
		{"provider wildcard", Scope{APIVersion: "2016-01-01"}, true},
		{"version wildcard", Scope{ResourceProvider: "Microsoft.Storage"}, true},
		{"other provider", Scope{"Microsoft.Compute", "2016-01-01"}, false},
		{"other version", Scope{"Microsoft.Storage", "2017-01-01"}, false},
		{"case sensitive provider", Scope{"microsoft.storage", "2016-01-01"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.Matches(target); got != tt.want {
				t.Errorf("%+v.Matches(%+v) = %v, want %v", tt.scope, target, got, tt.want)
			}
		})
	}
}
