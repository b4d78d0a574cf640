package validator

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/specsource"
)

type compiledOperation struct {
	ID       string
	Method   string
	Template string
	Source   string

	segments        []string
	requiredQuery   []string
	requiredHeaders []string
	bodyRequired    bool
	responses       map[string]bool
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func isParam(segment string) bool {
	return strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}

// match reports whether the request path segments fit the template and how
// many literal segments matched
func (c *compiledOperation) match(segments []string) (bool, int) {
	if len(segments) != len(c.segments) {
		return false, 0
	}
	literals := 0
	for i, tmpl := range c.segments {
		if isParam(tmpl) {
			if segments[i] == "" {
				return false, 0
			}
			continue
		}
		if !strings.EqualFold(tmpl, segments[i]) {
			return false, 0
		}
		literals++
	}
	return true, literals
}

// LiveValidator validates samples against an indexed set of operations
type LiveValidator struct {
	byMethod map[string][]*compiledOperation
	count    int
}

// NewLiveValidator indexes the given operations
func NewLiveValidator(ops []*compiledOperation) *LiveValidator {
	v := &LiveValidator{byMethod: make(map[string][]*compiledOperation)}
	for _, op := range ops {
		v.byMethod[op.Method] = append(v.byMethod[op.Method], op)
		v.count++
	}
	return v
}

// LoadDir builds a validator from the definitions under dir matching pattern
func LoadDir(dir, pattern string, logger *logging.Logger) (*LiveValidator, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	ops, skipped, err := loadDocuments(os.DirFS(dir), pattern)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		logger.Warn("Skipping interface definition", map[string]interface{}{"error": s})
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: %s matching %s", ErrNoDefinitions, dir, pattern)
	}
	return NewLiveValidator(ops), nil
}

// Operations returns the number of indexed operations
func (v *LiveValidator) Operations() int {
	return v.count
}

func (v *LiveValidator) find(method, path string) *compiledOperation {
	segments := splitPath(path)
	var best *compiledOperation
	bestLiterals := -1
	for _, op := range v.byMethod[strings.ToUpper(method)] {
		ok, literals := op.match(segments)
		if ok && literals > bestLiterals {
			best, bestLiterals = op, literals
		}
	}
	return best
}

// Validate scores a sample. Samples that match no operation are reported
// with the OPERATION_NOT_FOUND operation id and both checks failed.
func (v *LiveValidator) Validate(ctx context.Context, sample models.TrafficSample) (models.ValidationOutcome, error) {
	u, err := url.Parse(sample.Request.URL)
	if err != nil {
		return models.ValidationOutcome{}, fmt.Errorf("parse request url: %w", err)
	}

	op := v.find(sample.Request.Method, u.Path)
	if op == nil {
		diag := models.ValidationError{
			Code:    CodeOperationNotFound,
			Message: fmt.Sprintf("no operation matches %s %s", strings.ToUpper(sample.Request.Method), u.Path),
			Path:    u.Path,
		}
		return models.ValidationOutcome{
			OperationID:    models.OperationNotFound,
			RequestErrors:  []models.ValidationError{diag},
			ResponseErrors: []models.ValidationError{diag},
		}, nil
	}

	outcome := models.ValidationOutcome{OperationID: op.ID}
	outcome.RequestErrors = op.checkRequest(sample.Request, u.Query())
	outcome.ResponseErrors = op.checkResponse(sample.Response)
	outcome.SuccessfulRequest = len(outcome.RequestErrors) == 0
	outcome.SuccessfulResponse = len(outcome.ResponseErrors) == 0
	return outcome, nil
}

func (c *compiledOperation) checkRequest(req models.LiveRequest, query url.Values) []models.ValidationError {
	var errs []models.ValidationError

	for _, name := range c.requiredQuery {
		if !hasQuery(query, name) {
			errs = append(errs, models.ValidationError{
				Code:    CodeRequiredParameterMissing,
				Message: fmt.Sprintf("required query parameter %q is missing", name),
				Path:    "query." + name,
			})
		}
	}
	for _, name := range c.requiredHeaders {
		if !hasHeader(req.Headers, name) {
			errs = append(errs, models.ValidationError{
				Code:    CodeRequiredParameterMissing,
				Message: fmt.Sprintf("required header %q is missing", name),
				Path:    "headers." + name,
			})
		}
	}
	if c.bodyRequired && !models.HasBody(req.Body) {
		errs = append(errs, models.ValidationError{
			Code:    CodeRequiredBodyMissing,
			Message: "request body is required",
			Path:    "body",
		})
	}
	return errs
}

func (c *compiledOperation) checkResponse(resp models.LiveResponse) []models.ValidationError {
	code := resp.StatusCode.String()
	if c.responses[code] || c.responses["default"] {
		return nil
	}
	return []models.ValidationError{{
		Code:    CodeInvalidResponseCode,
		Message: fmt.Sprintf("status code %s is not declared for operation %s", code, c.ID),
		Path:    "statusCode",
	}}
}

func hasQuery(query url.Values, name string) bool {
	for k, v := range query {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return true
		}
	}
	return false
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// LiveValidatorFactory prepares session validators from a spec source
type LiveValidatorFactory struct {
	Source      specsource.Source
	DefaultRepo string
	Logger      *logging.Logger
}

// NewLiveValidatorFactory creates a factory fetching definitions through source
func NewLiveValidatorFactory(source specsource.Source, defaultRepo string, logger *logging.Logger) *LiveValidatorFactory {
	if logger == nil {
		logger = logging.Nop()
	}
	return &LiveValidatorFactory{Source: source, DefaultRepo: defaultRepo, Logger: logger}
}

// New fetches the session's definitions and indexes them
func (f *LiveValidatorFactory) New(ctx context.Context, session models.Session) (Validator, error) {
	src := specsource.WithDefaults(session.Source, session.Scope, f.DefaultRepo)

	dir, err := f.Source.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	v, err := LoadDir(dir, src.PathPattern, f.Logger.WithField("session_id", session.ID))
	if err != nil {
		return nil, err
	}

	f.Logger.Info("Live validator initialized", map[string]interface{}{
		"session_id": session.ID,
		"operations": v.Operations(),
		"pattern":    src.PathPattern,
	})
	return v, nil
}
