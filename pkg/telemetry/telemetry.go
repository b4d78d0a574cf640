// Package telemetry ships per-sample trace records out of session workers.
// Publishing is fire-and-forget: a saturated or failing sink drops records
// instead of slowing validation down.
package telemetry

import (
	"errors"
	"time"

	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/metrics"
	"github.com/vladbarosan/oav-express/pkg/models"
)

// Severity levels attached to trace records
const (
	SeverityFailure = 3
	SeveritySuccess = 4
)

// TraceRecord describes the validation of one traffic sample
type TraceRecord struct {
	SessionID   string                   `json:"validationId"`
	OperationID string                   `json:"operationId"`
	IsSuccess   bool                     `json:"isSuccess"`
	Severity    int                      `json:"severity"`
	Outcome     models.ValidationOutcome `json:"outcome"`
	Timestamp   time.Time                `json:"timestamp"`
}

// NewTraceRecord builds the record for one scored sample
func NewTraceRecord(sessionID string, outcome models.ValidationOutcome, now time.Time) TraceRecord {
	severity := SeverityFailure
	if outcome.IsSuccess() {
		severity = SeveritySuccess
	}
	return TraceRecord{
		SessionID:   sessionID,
		OperationID: outcome.OperationID,
		IsSuccess:   outcome.IsSuccess(),
		Severity:    severity,
		Outcome:     outcome,
		Timestamp:   now.UTC(),
	}
}

// Publisher accepts trace records. Publish must not block.
type Publisher interface {
	Publish(record TraceRecord)
	Close() error
}

// LogPublisher writes trace records to a logger
type LogPublisher struct {
	logger *logging.Logger
}

// NewLogPublisher creates a publisher that logs every record at debug level
// (info for failures)
func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the record
func (p *LogPublisher) Publish(record TraceRecord) {
	fields := map[string]interface{}{
		"session_id":   record.SessionID,
		"operation_id": record.OperationID,
		"is_success":   record.IsSuccess,
		"severity":     record.Severity,
	}
	if record.IsSuccess {
		p.logger.Debug("Sample validated", fields)
	} else {
		fields["request_errors"] = len(record.Outcome.RequestErrors)
		fields["response_errors"] = len(record.Outcome.ResponseErrors)
		p.logger.Info("Sample failed validation", fields)
	}
	metrics.TelemetryPublished.WithLabelValues("log").Inc()
}

// Close is a no-op
func (p *LogPublisher) Close() error { return nil }

// MultiPublisher fans a record out to several publishers
type MultiPublisher []Publisher

// Publish forwards the record to every publisher
func (m MultiPublisher) Publish(record TraceRecord) {
	for _, p := range m {
		p.Publish(record)
	}
}

// Close closes every publisher and joins their errors
func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every record
type Nop struct{}

// Publish drops the record
func (Nop) Publish(TraceRecord) {}

// Close is a no-op
func (Nop) Close() error { return nil }
