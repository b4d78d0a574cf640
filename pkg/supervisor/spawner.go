package supervisor

import (
	"context"

	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/telemetry"
	"github.com/vladbarosan/oav-express/pkg/validator"
	"github.com/vladbarosan/oav-express/pkg/worker"
)

// Handle is the supervisor's side of a running worker
type Handle interface {
	// Deliver hands a sample to the worker without blocking
	Deliver(sample models.TrafficSample) bool
	// Stop asks the worker to drain and flush
	Stop()
	// Kill reclaims the worker immediately, results are lost
	Kill()
	// Events is closed after the worker's EventExited
	Events() <-chan worker.Event
}

// Spawner starts one isolated worker per session
type Spawner interface {
	Spawn(session models.Session) (Handle, error)
}

const eventBuffer = 16

// LocalSpawner runs each worker on its own goroutine. Panics are contained
// and cancellation is the kill switch.
type LocalSpawner struct {
	Factory   validator.Factory
	Sink      worker.ResultsSink
	Publisher telemetry.Publisher
	Config    worker.Config
	Logger    *logging.Logger
}

// Spawn starts the worker of session
func (s *LocalSpawner) Spawn(session models.Session) (Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan worker.Event, eventBuffer)

	w := worker.New(worker.Options{
		Session:   session,
		Config:    s.Config,
		Factory:   s.Factory,
		Sink:      s.Sink,
		Publisher: s.Publisher,
		Logger:    s.Logger,
		Events:    events,
	})

	go func() {
		defer close(events)
		defer cancel()
		err := w.RunContained(ctx)
		events <- worker.ExitEvent(session.ID, err, w.SamplesHandled())
	}()

	return &localHandle{worker: w, cancel: cancel, events: events}, nil
}

type localHandle struct {
	worker *worker.Worker
	cancel context.CancelFunc
	events chan worker.Event
}

func (h *localHandle) Deliver(sample models.TrafficSample) bool {
	return h.worker.Deliver(sample)
}

func (h *localHandle) Stop() {
	h.worker.Stop()
}

func (h *localHandle) Kill() {
	h.cancel()
}

func (h *localHandle) Events() <-chan worker.Event {
	return h.events
}
