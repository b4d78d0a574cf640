package routing

import (
	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/metrics"
	"github.com/vladbarosan/oav-express/pkg/models"
)

// Inbox receives samples for one session. Deliver must never block.
type Inbox interface {
	Deliver(sample models.TrafficSample) bool
}

// Target is an active session able to receive traffic
type Target struct {
	SessionID string
	Scope     models.Scope
	Inbox     Inbox
}

// Directory lists the sessions that currently accept traffic
type Directory interface {
	Active() []Target
}

// Result summarizes one dispatch
type Result struct {
	Scope     models.Scope
	Matched   []string
	Delivered int
	Dropped   int
}

// Router fans live samples out to every active session whose scope matches
type Router struct {
	directory Directory
	logger    *logging.Logger
}

// NewRouter creates a router over the given directory
func NewRouter(directory Directory, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Router{directory: directory, logger: logger}
}

// Route returns the targets that should receive sample
func (r *Router) Route(sample models.TrafficSample) (models.Scope, []Target, error) {
	scope, err := ExtractScope(sample.Request.URL)
	if err != nil {
		return models.Scope{}, nil, err
	}

	var matched []Target
	for _, target := range r.directory.Active() {
		if target.Scope.Matches(scope) {
			matched = append(matched, target)
		}
	}
	return scope, matched, nil
}

// Dispatch routes sample and delivers it to each matching session.
// Samples that match nothing, or whose URL cannot be parsed, are dropped.
func (r *Router) Dispatch(sample models.TrafficSample) Result {
	metrics.SamplesReceived.Inc()

	scope, targets, err := r.Route(sample)
	if err != nil {
		metrics.SamplesUnrouted.WithLabelValues(metrics.ReasonInvalidURL).Inc()
		r.logger.Warn("Dropping sample with unparsable url", map[string]interface{}{
			"url":   sample.Request.URL,
			"error": err,
		})
		return Result{}
	}

	result := Result{Scope: scope}
	if len(targets) == 0 {
		metrics.SamplesUnrouted.WithLabelValues(metrics.ReasonNoMatch).Inc()
		r.logger.Debug("Sample matched no active session", map[string]interface{}{
			"resource_provider": scope.ResourceProvider,
			"api_version":       scope.APIVersion,
		})
		return result
	}

	for _, target := range targets {
		result.Matched = append(result.Matched, target.SessionID)
		if target.Inbox.Deliver(sample) {
			result.Delivered++
			metrics.Deliveries.WithLabelValues(metrics.ResultDelivered).Inc()
			continue
		}
		result.Dropped++
		metrics.Deliveries.WithLabelValues(metrics.ResultDropped).Inc()
		r.logger.Warn("Session inbox full or closing, sample dropped", map[string]interface{}{
			"session_id": target.SessionID,
		})
	}
	return result
}
