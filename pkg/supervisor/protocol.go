package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/telemetry"
	"github.com/vladbarosan/oav-express/pkg/validator"
	"github.com/vladbarosan/oav-express/pkg/worker"
)

// Worker processes speak newline-delimited JSON: Commands flow from the
// supervisor on stdin, worker.Events flow back on stdout.

// CommandType identifies a supervisor to worker message
type CommandType string

const (
	CommandStart  CommandType = "start"
	CommandSample CommandType = "sample"
	CommandStop   CommandType = "stop"
)

// Command is sent from the supervisor to a worker process
type Command struct {
	Type    CommandType           `json:"type"`
	Session *models.Session       `json:"session,omitempty"`
	Sample  *models.TrafficSample `json:"sample,omitempty"`
}

// ErrProtocol is returned when a worker process receives an unexpected message
var ErrProtocol = errors.New("worker protocol error")

// ChildOptions wires the worker running inside a worker process
type ChildOptions struct {
	Factory   validator.Factory
	Sink      worker.ResultsSink
	Publisher telemetry.Publisher
	Config    worker.Config
	Logger    *logging.Logger
}

// RunChild runs one session inside a worker process. It reads the start
// command from in, then relays samples and stop requests to the worker and
// its events to out. Closing in is treated as a stop request.
func RunChild(ctx context.Context, in io.Reader, out io.Writer, opts ChildOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	dec := json.NewDecoder(in)
	var start Command
	if err := dec.Decode(&start); err != nil {
		return fmt.Errorf("%w: reading start command: %v", ErrProtocol, err)
	}
	if start.Type != CommandStart || start.Session == nil {
		return fmt.Errorf("%w: expected %q, got %q", ErrProtocol, CommandStart, start.Type)
	}
	session := *start.Session

	events := make(chan worker.Event, eventBuffer)
	w := worker.New(worker.Options{
		Session:   session,
		Config:    opts.Config,
		Factory:   opts.Factory,
		Sink:      opts.Sink,
		Publisher: opts.Publisher,
		Logger:    logger,
		Events:    events,
	})

	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		enc := json.NewEncoder(out)
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				logger.Error("Failed to write event", map[string]interface{}{"error": err})
			}
		}
	}()

	go func() {
		for {
			var cmd Command
			if err := dec.Decode(&cmd); err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("Command stream broken, draining", map[string]interface{}{"error": err})
				}
				w.Stop()
				return
			}
			switch cmd.Type {
			case CommandSample:
				if cmd.Sample != nil && !w.Deliver(*cmd.Sample) {
					logger.Debug("Worker refused sample")
				}
			case CommandStop:
				w.Stop()
			default:
				logger.Warn("Ignoring unknown command", map[string]interface{}{"type": string(cmd.Type)})
			}
		}
	}()

	err := w.RunContained(ctx)
	events <- worker.ExitEvent(session.ID, err, w.SamplesHandled())
	close(events)
	<-relayed
	return err
}
