// Package registry holds the process-wide table of validation sessions.
//
// Live sessions (anything not yet terminated) count against the capacity
// ceiling. Terminated sessions are kept for a retention window so that late
// result queries can still tell a known session from an unknown one.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/metrics"
	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/routing"
)

// DefaultRetention is how long terminated sessions stay queryable
const DefaultRetention = 10 * time.Minute

var (
	// ErrCapacityExceeded is returned when the live session ceiling is reached
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrSessionNotFound is returned for ids the registry does not know
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when reserving an id twice
	ErrSessionExists = errors.New("session already exists")
)

type entry struct {
	session  models.Session
	inbox    routing.Inbox
	deadline *time.Time
}

// Registry maps session ids to their state and worker inbox
type Registry struct {
	mu      sync.Mutex
	live    map[string]*entry
	retired *ttlcache.Cache[string, models.Session]
	logger  *logging.Logger
}

// New creates a registry whose terminated entries expire after retention
func New(retention time.Duration, logger *logging.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = logging.Nop()
	}

	retired := ttlcache.New(
		ttlcache.WithTTL[string, models.Session](retention),
		ttlcache.WithDisableTouchOnHit[string, models.Session](),
	)
	retired.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, models.Session]) {
		if reason == ttlcache.EvictionReasonExpired {
			logger.Debug("Session evicted after retention window", map[string]interface{}{
				"session_id": item.Key(),
			})
		}
	})
	go retired.Start()

	return &Registry{
		live:    make(map[string]*entry),
		retired: retired,
		logger:  logger,
	}
}

// Close stops the retention janitor
func (r *Registry) Close() {
	r.retired.Stop()
}

// Reserve registers session in the admitted state if fewer than ceiling
// sessions are live. The check and the insert happen under one lock.
func (r *Registry) Reserve(session models.Session, ceiling int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.live) >= ceiling {
		return fmt.Errorf("%w: %d of %d sessions running", ErrCapacityExceeded, len(r.live), ceiling)
	}
	if _, ok := r.live[session.ID]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, session.ID)
	}
	if r.retired.Has(session.ID) {
		return fmt.Errorf("%w: %s", ErrSessionExists, session.ID)
	}

	session.State = models.SessionStateAdmitted
	session.StateHistory = nil
	r.live[session.ID] = &entry{session: session}
	metrics.LiveSessions.Set(float64(len(r.live)))
	return nil
}

// Attach binds the worker inbox used for routing
func (r *Registry) Attach(id string, inbox routing.Inbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.inbox = inbox
	return nil
}

// SetDeadline records when an active session is due to drain
func (r *Registry) SetDeadline(id string, deadline time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.live[id]; ok {
		e.deadline = &deadline
	}
}

// Deadline returns the recorded drain deadline of a live session
func (r *Registry) Deadline(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live[id]
	if !ok || e.deadline == nil {
		return time.Time{}, false
	}
	return *e.deadline, true
}

// Transition moves a live session to state. Moving to terminated must go
// through Retire.
func (r *Registry) Transition(id string, to models.SessionState) (models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live[id]
	if !ok {
		return models.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if to == models.SessionStateTerminated {
		return copySession(e.session), fmt.Errorf("use Retire to terminate session %s", id)
	}
	if err := models.ValidateTransition(e.session.State, to); err != nil {
		return copySession(e.session), err
	}
	e.session.StateHistory = append(e.session.StateHistory, models.StateChange{
		From:      e.session.State,
		To:        to,
		Timestamp: time.Now(),
	})
	e.session.State = to
	return copySession(e.session), nil
}

// Retire marks a live session terminated, frees its slot and keeps it
// queryable for the retention window. Retiring an already retired session
// returns ErrSessionNotFound.
func (r *Registry) Retire(id string, lostResults bool, reason models.FailureReason) (models.Session, error) {
	r.mu.Lock()
	e, ok := r.live[id]
	if !ok {
		r.mu.Unlock()
		return models.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(r.live, id)
	live := len(r.live)

	now := time.Now()
	if err := models.ValidateTransition(e.session.State, models.SessionStateTerminated); err != nil {
		r.logger.Warn("Forcing termination from unexpected state", map[string]interface{}{
			"session_id": id,
			"state":      string(e.session.State),
		})
	}
	e.session.StateHistory = append(e.session.StateHistory, models.StateChange{
		From:      e.session.State,
		To:        models.SessionStateTerminated,
		Timestamp: now,
	})
	e.session.State = models.SessionStateTerminated
	e.session.TerminatedAt = &now
	e.session.LostResults = lostResults
	e.session.FailureReason = reason
	retired := copySession(e.session)
	r.retired.Set(id, retired, ttlcache.DefaultTTL)
	r.mu.Unlock()

	metrics.LiveSessions.Set(float64(live))
	return copySession(retired), nil
}

// Get returns a live or recently terminated session
func (r *Registry) Get(id string) (models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.live[id]; ok {
		return copySession(e.session), true
	}
	if item := r.retired.Get(id); item != nil {
		return copySession(item.Value()), true
	}
	return models.Session{}, false
}

// Active returns the routing targets of every active session with an inbox
func (r *Registry) Active() []routing.Target {
	r.mu.Lock()
	defer r.mu.Unlock()

	targets := make([]routing.Target, 0, len(r.live))
	for id, e := range r.live {
		if e.session.State != models.SessionStateActive || e.inbox == nil {
			continue
		}
		targets = append(targets, routing.Target{
			SessionID: id,
			Scope:     e.session.Scope,
			Inbox:     e.inbox,
		})
	}
	return targets
}

// Live returns the number of sessions holding a slot
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// LiveIDs returns the ids of every session holding a slot
func (r *Registry) LiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns live and retained sessions, oldest first
func (r *Registry) List() []models.Session {
	r.mu.Lock()
	sessions := make([]models.Session, 0, len(r.live)+r.retired.Len())
	for _, e := range r.live {
		sessions = append(sessions, copySession(e.session))
	}
	r.mu.Unlock()

	for _, item := range r.retired.Items() {
		sessions = append(sessions, copySession(item.Value()))
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// CountByState returns the number of known sessions in each state
func (r *Registry) CountByState() map[models.SessionState]int {
	counts := make(map[models.SessionState]int)

	r.mu.Lock()
	for _, e := range r.live {
		counts[e.session.State]++
	}
	r.mu.Unlock()

	counts[models.SessionStateTerminated] += r.retired.Len()
	return counts
}

func copySession(s models.Session) models.Session {
	if s.StateHistory != nil {
		history := make([]models.StateChange, len(s.StateHistory))
		copy(history, s.StateHistory)
		s.StateHistory = history
	}
	if s.DurationSeconds != nil {
		d := *s.DurationSeconds
		s.DurationSeconds = &d
	}
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		s.TerminatedAt = &t
	}
	return s
}
