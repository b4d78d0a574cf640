// Package validator scores live traffic samples against OpenAPI (Swagger)
// interface definitions.
package validator

import (
	"context"
	"errors"

	"github.com/vladbarosan/oav-express/pkg/models"
)

// Diagnostic codes
const (
	CodeOperationNotFound        = "OPERATION_NOT_FOUND"
	CodeRequiredParameterMissing = "REQUIRED_PARAMETER_MISSING"
	CodeRequiredBodyMissing      = "REQUIRED_BODY_MISSING"
	CodeInvalidResponseCode      = "INVALID_RESPONSE_CODE"
)

var (
	// ErrNoDefinitions is returned when no operation could be loaded
	ErrNoDefinitions = errors.New("no interface definitions found")
	// ErrInvalidDocument is returned for files that are not valid definitions
	ErrInvalidDocument = errors.New("invalid interface definition")
)

// Validator scores one traffic sample
type Validator interface {
	Validate(ctx context.Context, sample models.TrafficSample) (models.ValidationOutcome, error)
}

// Factory prepares the validator of a session. It may take seconds
// (fetching definitions) and is called off the request path.
type Factory interface {
	New(ctx context.Context, session models.Session) (Validator, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(ctx context.Context, session models.Session) (Validator, error)

// New calls f
func (f FactoryFunc) New(ctx context.Context, session models.Session) (Validator, error) {
	return f(ctx, session)
}

// Func adapts a function to Validator
type Func func(ctx context.Context, sample models.TrafficSample) (models.ValidationOutcome, error)

// Validate calls f
func (f Func) Validate(ctx context.Context, sample models.TrafficSample) (models.ValidationOutcome, error) {
	return f(ctx, sample)
}
