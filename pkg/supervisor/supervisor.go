// Package supervisor admits validation sessions, spawns one isolated worker
// per session and reconciles worker lifecycle events with the session
// registry.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/metrics"
	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/registry"
	"github.com/vladbarosan/oav-express/pkg/routing"
	"github.com/vladbarosan/oav-express/pkg/specsource"
	"github.com/vladbarosan/oav-express/pkg/tracing"
	"github.com/vladbarosan/oav-express/pkg/worker"
)

const (
	DefaultMaxSessions        = 20
	DefaultMaxDurationSeconds = 3600
	DefaultGracePeriod        = 3 * time.Second
)

var (
	// ErrInvalidDuration is returned when a duration is negative, not a number or too long
	ErrInvalidDuration = errors.New("duration is not a number or it is longer than the maximum allowed value")
	// ErrCapacityExceeded is returned when the live session ceiling is reached
	ErrCapacityExceeded = registry.ErrCapacityExceeded
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = registry.ErrSessionNotFound
	// ErrShuttingDown is returned by Admit once Shutdown started
	ErrShuttingDown = errors.New("supervisor is shutting down")
)

// Exit outcome labels
const (
	outcomeCompleted   = "completed"
	outcomeFlushFailed = "flush_failed"
	outcomeInitFailed  = "initialization_failed"
	outcomeCrashed     = "crashed"
	outcomeReclaimed   = "reclaimed"
	outcomeSpawnFailed = "spawn_failed"
)

// Config holds the admission and lifecycle limits
type Config struct {
	MaxSessions        int
	MaxDurationSeconds int
	GracePeriod        time.Duration
	DefaultRepoURL     string
}

// Supervisor owns every session worker of the process
type Supervisor struct {
	cfg      Config
	registry *registry.Registry
	spawner  Spawner
	router   *routing.Router
	logger   *logging.Logger

	mu            sync.Mutex
	handles       map[string]Handle
	stopRequested map[string]bool
	done          map[string]chan struct{}
	closing       bool
	wg            sync.WaitGroup
}

// New creates a supervisor. The registry is shared with the HTTP layer for
// lookups.
func New(cfg Config, reg *registry.Registry, spawner Spawner, logger *logging.Logger) *Supervisor {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.MaxDurationSeconds <= 0 {
		cfg.MaxDurationSeconds = DefaultMaxDurationSeconds
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Supervisor{
		cfg:           cfg,
		registry:      reg,
		spawner:       spawner,
		router:        routing.NewRouter(reg, logger),
		logger:        logger,
		handles:       make(map[string]Handle),
		stopRequested: make(map[string]bool),
		done:          make(map[string]chan struct{}),
	}
}

// Admit validates req, registers the session and spawns its worker in the
// background. The returned id is usable immediately.
func (s *Supervisor) Admit(ctx context.Context, req models.ValidationRequest) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "supervisor.admit",
		attribute.String("resource_provider", req.ResourceProvider),
		attribute.String("api_version", req.APIVersion),
	)
	defer span.End()

	duration, err := ParseDuration(req.Duration, s.cfg.MaxDurationSeconds)
	if err != nil {
		metrics.AdmissionsTotal.WithLabelValues(metrics.ResultInvalidDuration).Inc()
		return "", err
	}

	scope := req.Scope()
	session := models.Session{
		ID:    uuid.New().String(),
		Scope: scope,
		Source: specsource.WithDefaults(models.SpecSource{
			RepoURL: req.RepoURL,
			Branch:  req.Branch,
		}, scope, s.cfg.DefaultRepoURL),
		DurationSeconds: duration,
		CreatedAt:       time.Now(),
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	if err := s.registry.Reserve(session, s.cfg.MaxSessions); err != nil {
		s.mu.Unlock()
		if errors.Is(err, registry.ErrCapacityExceeded) {
			metrics.AdmissionsTotal.WithLabelValues(metrics.ResultCapacityExceeded).Inc()
		}
		tracing.SetError(ctx, err)
		return "", err
	}
	s.done[session.ID] = make(chan struct{})
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.AdmissionsTotal.WithLabelValues(metrics.ResultAdmitted).Inc()
	span.SetAttributes(attribute.String("session.id", session.ID))

	fields := map[string]interface{}{
		"session_id":        session.ID,
		"resource_provider": scope.ResourceProvider,
		"api_version":       scope.APIVersion,
		"repo_url":          session.Source.RepoURL,
	}
	if duration != nil {
		fields["duration_seconds"] = *duration
	}
	s.logger.Info("Session admitted", fields)

	go s.run(session)
	return session.ID, nil
}

// Stop asks a session to drain. Stopping a terminated session is a no-op.
func (s *Supervisor) Stop(id string) error {
	session, ok := s.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if models.IsTerminalState(session.State) {
		return nil
	}

	s.mu.Lock()
	if _, live := s.done[id]; !live {
		// run already cleaned up; the registry just has not caught up
		s.mu.Unlock()
		return nil
	}
	s.stopRequested[id] = true
	handle := s.handles[id]
	s.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
	s.logger.Info("Session stop requested", map[string]interface{}{
		"session_id": id,
		"state":      string(session.State),
	})
	return nil
}

// Dispatch fans a live sample out to every matching active session
func (s *Supervisor) Dispatch(ctx context.Context, sample models.TrafficSample) routing.Result {
	_, span := tracing.StartSpan(ctx, "supervisor.dispatch",
		attribute.String("http.method", sample.Request.Method),
	)
	defer span.End()

	result := s.router.Dispatch(sample)
	span.SetAttributes(
		attribute.Int("sessions.matched", len(result.Matched)),
		attribute.Int("sessions.dropped", result.Dropped),
	)
	return result
}

// Get returns a live or recently terminated session
func (s *Supervisor) Get(id string) (models.Session, bool) {
	return s.registry.Get(id)
}

// List returns every known session, oldest first
func (s *Supervisor) List() []models.Session {
	return s.registry.List()
}

// Wait blocks until the session's worker has exited and the session is
// terminated, or ctx is done.
func (s *Supervisor) Wait(ctx context.Context, id string) error {
	s.mu.Lock()
	done, ok := s.done[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every live session and waits for their flushes. Sessions
// still running when ctx expires are killed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	ids := s.registry.LiveIDs()
	s.logger.Info("Stopping live sessions", map[string]interface{}{"count": len(ids)})

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := s.Stop(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
				return err
			}
			if err := s.Wait(ctx, id); err != nil {
				s.kill(id)
				return fmt.Errorf("session %s did not drain: %w", id, err)
			}
			return nil
		})
	}
	err := g.Wait()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		for _, id := range s.registry.LiveIDs() {
			s.kill(id)
		}
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Supervisor) kill(id string) {
	s.mu.Lock()
	handle := s.handles[id]
	s.mu.Unlock()
	if handle != nil {
		handle.Kill()
	}
}

// run spawns the worker of session and supervises it until it exits
func (s *Supervisor) run(session models.Session) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.handles, session.ID)
		delete(s.stopRequested, session.ID)
		if done, ok := s.done[session.ID]; ok {
			close(done)
			delete(s.done, session.ID)
		}
		s.mu.Unlock()
	}()

	handle, err := s.spawner.Spawn(session)
	if err != nil {
		s.logger.Error("Failed to spawn worker", map[string]interface{}{
			"session_id": session.ID,
			"error":      err,
		})
		metrics.WorkerExits.WithLabelValues(outcomeSpawnFailed).Inc()
		s.retire(session.ID, false, models.FailureReasonSpawn)
		return
	}

	if err := s.registry.Attach(session.ID, handle); err != nil {
		s.logger.Error("Failed to attach worker", map[string]interface{}{
			"session_id": session.ID,
			"error":      err,
		})
	}

	s.mu.Lock()
	s.handles[session.ID] = handle
	stop := s.stopRequested[session.ID]
	s.mu.Unlock()
	if stop {
		handle.Stop()
	}

	s.supervise(session, handle)
}

// lifecycle is what the supervisor has observed of one worker
type lifecycle struct {
	state    models.SessionState
	flushed  bool
	flushErr string
	killed   bool
}

// supervise applies worker events to the registry and enforces the
// deadline and grace timers
func (s *Supervisor) supervise(session models.Session, handle Handle) {
	logger := s.logger.WithField("session_id", session.ID)
	lc := lifecycle{state: models.SessionStateAdmitted}

	var watchdog, grace, abandon <-chan time.Time
	events := handle.Events()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.finish(session.ID, lc, worker.Event{Type: worker.EventExited, Crashed: true, Error: "event stream closed"})
				return
			}
			switch ev.Type {
			case worker.EventStateChanged:
				if _, err := s.registry.Transition(session.ID, ev.State); err != nil {
					logger.Warn("Rejected worker state change", map[string]interface{}{
						"from":  string(lc.state),
						"to":    string(ev.State),
						"error": err,
					})
					continue
				}
				lc.state = ev.State
				switch ev.State {
				case models.SessionStateActive:
					if d, ok := session.Duration(); ok {
						s.registry.SetDeadline(session.ID, time.Now().Add(d))
						watchdog = time.After(d + s.cfg.GracePeriod)
					}
				case models.SessionStateDraining:
					watchdog = nil
					if grace == nil {
						grace = time.After(s.cfg.GracePeriod)
					}
				}
			case worker.EventFlushed:
				lc.flushed = true
				lc.flushErr = ev.Error
			case worker.EventExited:
				s.finish(session.ID, lc, ev)
				return
			}

		case <-watchdog:
			watchdog = nil
			logger.Warn("Worker missed its deadline, forcing drain")
			handle.Stop()
			grace = time.After(s.cfg.GracePeriod)

		case <-grace:
			grace = nil
			logger.Warn("Grace period elapsed, reclaiming worker", map[string]interface{}{
				"state": string(lc.state),
			})
			lc.killed = true
			handle.Kill()
			abandon = time.After(s.cfg.GracePeriod)

		case <-abandon:
			logger.Error("Worker did not exit after kill, abandoning it")
			s.finish(session.ID, lc, worker.Event{Type: worker.EventExited, Killed: true})
			go func() {
				for range events {
				}
			}()
			return
		}
	}
}

// finish retires a session according to how its worker ended
func (s *Supervisor) finish(id string, lc lifecycle, exit worker.Event) {
	var (
		lost    bool
		reason  models.FailureReason
		outcome string
	)

	switch {
	case lc.flushed && lc.flushErr != "":
		reason, outcome = models.FailureReasonFlush, outcomeFlushFailed
		metrics.FlushFailures.Inc()
	case lc.flushed:
		reason, outcome = models.FailureReasonNone, outcomeCompleted
	case lc.state == models.SessionStateAdmitted || lc.state == models.SessionStateInitializing:
		// Nothing was accepted yet, so nothing is lost
		switch {
		case exit.InitFailed:
			reason, outcome = models.FailureReasonInitialization, outcomeInitFailed
		case lc.killed || exit.Killed:
			reason, outcome = models.FailureReasonReclaimed, outcomeReclaimed
		default:
			reason, outcome = models.FailureReasonCrashed, outcomeCrashed
		}
	default:
		lost = true
		if lc.killed || exit.Killed {
			reason, outcome = models.FailureReasonReclaimed, outcomeReclaimed
		} else {
			reason, outcome = models.FailureReasonCrashed, outcomeCrashed
		}
	}

	metrics.WorkerExits.WithLabelValues(outcome).Inc()
	fields := map[string]interface{}{
		"session_id": id,
		"outcome":    outcome,
		"samples":    exit.SamplesHandled,
	}
	if exit.Error != "" {
		fields["error"] = exit.Error
	}
	if lost {
		s.logger.Error("Worker exited without flushing, results lost", fields)
	} else {
		s.logger.Info("Worker exited", fields)
	}

	s.retire(id, lost, reason)
}

func (s *Supervisor) retire(id string, lost bool, reason models.FailureReason) {
	if _, err := s.registry.Retire(id, lost, reason); err != nil {
		s.logger.Warn("Failed to retire session", map[string]interface{}{
			"session_id": id,
			"error":      err,
		})
	}
}
