package worker

import (
	"github.com/vladbarosan/oav-express/pkg/models"
)

// EventType identifies what a worker is reporting
type EventType string

const (
	// EventStateChanged reports a lifecycle transition
	EventStateChanged EventType = "state"
	// EventFlushed reports the outcome of the results flush
	EventFlushed EventType = "flushed"
	// EventExited is the last event of a worker
	EventExited EventType = "exited"
)

// Event is sent from a worker to its supervisor
type Event struct {
	Type      EventType           `json:"type"`
	SessionID string              `json:"sessionId"`
	State     models.SessionState `json:"state,omitempty"`
	Rows      int                 `json:"rows,omitempty"`
	Error     string              `json:"error,omitempty"`

	// Set on EventExited
	Crashed        bool `json:"crashed,omitempty"`
	InitFailed     bool `json:"initFailed,omitempty"`
	Killed         bool `json:"killed,omitempty"`
	SamplesHandled int  `json:"samplesHandled,omitempty"`
}
