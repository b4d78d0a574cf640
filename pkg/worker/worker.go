// Package worker runs one validation session: it prepares the session's
// validator, scores the traffic routed to it, and flushes the aggregated
// statistics when the session drains.
//
// Sample handling is sequential within a worker, so the aggregator is only
// ever touched by the goroutine executing Run.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/metrics"
	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/routing"
	"github.com/vladbarosan/oav-express/pkg/stats"
	"github.com/vladbarosan/oav-express/pkg/telemetry"
	"github.com/vladbarosan/oav-express/pkg/tracing"
	"github.com/vladbarosan/oav-express/pkg/validator"
)

const (
	DefaultInboxSize   = 1024
	DefaultGracePeriod = 3 * time.Second
)

var (
	// ErrInitialization is returned by Run when the validator could not be prepared
	ErrInitialization = errors.New("validator initialization failed")
	// ErrCrashed wraps a panic recovered from a worker
	ErrCrashed = errors.New("worker crashed")
)

// ResultsSink persists the rows of a drained session. The whole slice is
// written as one unit.
type ResultsSink interface {
	WriteRows(ctx context.Context, sessionID string, rows []models.ResultRow) error
}

// Config holds worker tuning
type Config struct {
	InboxSize   int
	GracePeriod time.Duration
}

// Options wires a worker to its collaborators
type Options struct {
	Session   models.Session
	Config    Config
	Factory   validator.Factory
	Sink      ResultsSink
	Publisher telemetry.Publisher
	Logger    *logging.Logger
	// Events receives lifecycle and flush events. It must be drained by the
	// supervising side.
	Events chan<- Event
}

// Worker owns one session end to end
type Worker struct {
	session   models.Session
	cfg       Config
	factory   validator.Factory
	sink      ResultsSink
	publisher telemetry.Publisher
	logger    *logging.Logger
	events    chan<- Event

	inbox chan models.TrafficSample

	mu        sync.RWMutex
	accepting bool

	stopOnce sync.Once
	stopCh   chan struct{}

	agg     *stats.Aggregator
	handled int
	now     func() time.Time
}

// New creates a worker. Run must be called to start it.
func New(opts Options) *Worker {
	cfg := opts.Config
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = telemetry.Nop{}
	}

	return &Worker{
		session:   opts.Session,
		cfg:       cfg,
		factory:   opts.Factory,
		sink:      opts.Sink,
		publisher: publisher,
		logger:    logger.WithField("session_id", opts.Session.ID),
		events:    opts.Events,
		inbox:     make(chan models.TrafficSample, cfg.InboxSize),
		stopCh:    make(chan struct{}),
		agg:       stats.NewAggregator(),
		now:       time.Now,
	}
}

// SessionID returns the id of the session the worker runs
func (w *Worker) SessionID() string {
	return w.session.ID
}

// Deliver queues a sample without blocking. It returns false when the worker
// is not active or its inbox is full.
func (w *Worker) Deliver(sample models.TrafficSample) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.accepting {
		return false
	}
	select {
	case w.inbox <- sample:
		return true
	default:
		return false
	}
}

// Stop asks the worker to drain. It is idempotent and may be called before
// the worker is active, in which case the worker drains as soon as it
// becomes active.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *Worker) setAccepting(accepting bool) {
	w.mu.Lock()
	w.accepting = accepting
	w.mu.Unlock()
}

func (w *Worker) emit(ctx context.Context, ev Event) {
	if w.events == nil {
		return
	}
	ev.SessionID = w.session.ID
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

func (w *Worker) emitState(ctx context.Context, state models.SessionState) {
	w.logger.Info("Session state changed", map[string]interface{}{"state": string(state)})
	w.emit(ctx, Event{Type: EventStateChanged, State: state})
}

// Run drives the session from initializing to the end of its flush.
// Cancelling ctx is the kill switch: the worker returns immediately without
// flushing.
func (w *Worker) Run(ctx context.Context) error {
	w.emitState(ctx, models.SessionStateInitializing)

	v, err := w.factory.New(ctx, w.session)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Error("Validator initialization failed", map[string]interface{}{"error": err})
		return fmt.Errorf("%w: %v", ErrInitialization, err)
	}

	w.setAccepting(true)
	w.emitState(ctx, models.SessionStateActive)

	var deadline <-chan time.Time
	if d, ok := w.session.Duration(); ok {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			w.setAccepting(false)
			return ctx.Err()
		case <-w.stopCh:
			return w.drain(ctx, v, "stopped")
		case <-deadline:
			return w.drain(ctx, v, "deadline")
		case sample := <-w.inbox:
			w.handle(ctx, v, sample)
		}
	}
}

// RunContained runs the worker and converts a panic into ErrCrashed
func (w *Worker) RunContained(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.setAccepting(false)
			w.logger.Error("Worker panicked", map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			err = fmt.Errorf("%w: %v", ErrCrashed, r)
		}
	}()
	return w.Run(ctx)
}

// SamplesHandled returns how many samples were scored. It must only be
// read after Run returned.
func (w *Worker) SamplesHandled() int {
	return w.handled
}

func (w *Worker) drain(ctx context.Context, v validator.Validator, reason string) error {
	w.setAccepting(false)
	w.emitState(ctx, models.SessionStateDraining)

	// Samples queued before intake closed are still handled
	for pending := true; pending; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample := <-w.inbox:
			w.handle(ctx, v, sample)
		default:
			pending = false
		}
	}

	rows := w.agg.Rows(&w.session, w.now())

	flushCtx, cancel := context.WithTimeout(ctx, w.cfg.GracePeriod)
	defer cancel()

	var flushErr error
	if w.sink == nil {
		flushErr = errors.New("no results sink configured")
	} else {
		flushErr = w.sink.WriteRows(flushCtx, w.session.ID, rows)
	}
	if ctx.Err() != nil {
		if flushErr != nil {
			return ctx.Err()
		}
		// The rows were persisted before the kill landed; report them
		// so the session is not marked as having lost its results.
		emitCtx, emitCancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.GracePeriod)
		defer emitCancel()
		ctx = emitCtx
	}

	fields := map[string]interface{}{
		"reason":  reason,
		"rows":    len(rows),
		"samples": w.handled,
	}
	ev := Event{Type: EventFlushed, Rows: len(rows)}
	if flushErr != nil {
		fields["error"] = flushErr
		ev.Error = flushErr.Error()
		w.logger.Error("Results flush failed", fields)
	} else {
		w.logger.Info("Results flushed", fields)
	}
	w.emit(ctx, ev)
	return nil
}

func (w *Worker) handle(ctx context.Context, v validator.Validator, sample models.TrafficSample) {
	scope, err := routing.ExtractScope(sample.Request.URL)
	if err != nil {
		w.logger.Debug("Discarding sample with unparsable url", map[string]interface{}{"error": err})
		return
	}
	if !w.session.Scope.Matches(scope) {
		w.logger.Debug("Discarding sample outside session scope", map[string]interface{}{
			"resource_provider": scope.ResourceProvider,
			"api_version":       scope.APIVersion,
		})
		return
	}

	spanCtx, span := tracing.StartSpan(ctx, "session.validate",
		attribute.String("session.id", w.session.ID),
		attribute.String("http.method", sample.Request.Method),
	)
	start := time.Now()
	outcome, err := v.Validate(spanCtx, sample)
	metrics.ValidationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		tracing.SetError(spanCtx, err)
		span.End()
		w.logger.Warn("Validator rejected sample", map[string]interface{}{"error": err})
		return
	}
	span.SetAttributes(
		attribute.String("operation.id", outcome.OperationID),
		attribute.Bool("validation.success", outcome.IsSuccess()),
	)
	span.End()

	w.agg.Add(outcome)
	w.handled++
	w.publisher.Publish(telemetry.NewTraceRecord(w.session.ID, outcome, w.now()))
}

// ExitEvent classifies the error returned by Run (or RunContained)
func ExitEvent(sessionID string, err error, handled int) Event {
	ev := Event{Type: EventExited, SessionID: sessionID, SamplesHandled: handled}
	if err == nil {
		return ev
	}
	ev.Error = err.Error()
	switch {
	case errors.Is(err, ErrInitialization):
		ev.InitFailed = true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ev.Killed = true
	default:
		ev.Crashed = true
	}
	return ev
}
