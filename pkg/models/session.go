package models

import (
	"time"
)

// FailureReason records why a session terminated abnormally
type FailureReason string

const (
	FailureReasonNone           FailureReason = ""
	FailureReasonInitialization FailureReason = "initialization_failed" // Validator could not be prepared
	FailureReasonCrashed        FailureReason = "worker_crashed"        // Worker exited before flushing
	FailureReasonReclaimed      FailureReason = "worker_reclaimed"      // Killed after the grace period
	FailureReasonSpawn          FailureReason = "spawn_failed"          // Worker could not be started
	FailureReasonFlush          FailureReason = "flush_failed"          // Results store rejected the flush
)

// Scope is the (resourceProvider, apiVersion) filter of a session.
// An empty field matches anything.
type Scope struct {
	ResourceProvider string `json:"resourceProvider,omitempty"`
	APIVersion       string `json:"apiVersion,omitempty"`
}

// Matches reports whether traffic with the given derived scope belongs to s
func (s Scope) Matches(target Scope) bool {
	if s.ResourceProvider != "" && s.ResourceProvider != target.ResourceProvider {
		return false
	}
	if s.APIVersion != "" && s.APIVersion != target.APIVersion {
		return false
	}
	return true
}

// IsWildcard returns true if the scope matches all traffic
func (s Scope) IsWildcard() bool {
	return s.ResourceProvider == "" && s.APIVersion == ""
}

// SpecSource locates the interface definitions a session validates against
type SpecSource struct {
	RepoURL     string `json:"repoUrl,omitempty"`
	Branch      string `json:"branch,omitempty"`
	PathPattern string `json:"pathPattern,omitempty"`
}

// Session represents one live validation run
type Session struct {
	ID              string        `json:"id"`
	Scope           Scope         `json:"scope"`
	Source          SpecSource    `json:"source"`
	DurationSeconds *int          `json:"durationSeconds,omitempty"`
	State           SessionState  `json:"state"`
	CreatedAt       time.Time     `json:"createdAt"`
	TerminatedAt    *time.Time    `json:"terminatedAt,omitempty"`
	LostResults     bool          `json:"lostResults,omitempty"`
	FailureReason   FailureReason `json:"failureReason,omitempty"`
	StateHistory    []StateChange `json:"stateHistory,omitempty"`
}

// Duration returns the session deadline relative to activation, or false
// when the session runs until explicitly stopped.
func (s *Session) Duration() (time.Duration, bool) {
	if s.DurationSeconds == nil {
		return 0, false
	}
	return time.Duration(*s.DurationSeconds) * time.Second, true
}

// StateChange tracks session state changes with timestamps
type StateChange struct {
	From      SessionState `json:"from"`
	To        SessionState `json:"to"`
	Timestamp time.Time    `json:"timestamp"`
}
