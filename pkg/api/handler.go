// Package api serves the oav-express HTTP front door
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/routing"
	"github.com/vladbarosan/oav-express/pkg/supervisor"
)

// maxBodyBytes bounds request bodies on the ingest and admission endpoints
const maxBodyBytes = 10 << 20

// Error messages returned to callers
const (
	msgCapacityExceeded = "More live validations are running then the service currently supports. Try again later."
	msgInvalidDuration  = "Duration is not a number or it is longer than maximum allowed value of 60 minutes."
)

// Sessions is the part of the supervisor the handlers drive
type Sessions interface {
	Admit(ctx context.Context, req models.ValidationRequest) (string, error)
	Stop(id string) error
	Dispatch(ctx context.Context, sample models.TrafficSample) routing.Result
	Get(id string) (models.Session, bool)
	List() []models.Session
}

// Results reads flushed session results
type Results interface {
	ListRows(ctx context.Context, sessionID string) ([]models.ResultRow, error)
	HealthCheck() error
}

// Handler handles the front door API requests
type Handler struct {
	sessions Sessions
	results  Results
	swagger  []byte
	logger   *logging.Logger
}

// NewHandler creates a new handler. swagger is the API description served
// at /swagger.json.
func NewHandler(sessions Sessions, results Results, swagger []byte, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		sessions: sessions,
		results:  results,
		swagger:  swagger,
		logger:   logger,
	}
}

// RegisterRoutes registers all API routes. limit wraps the ingest and
// admission endpoints; nil disables rate limiting.
func (h *Handler) RegisterRoutes(r *mux.Router, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	r.HandleFunc("/", h.Welcome).Methods("GET")
	r.HandleFunc("/swagger.json", h.Swagger).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")

	// Live traffic
	r.Handle("/validate", limit(http.HandlerFunc(h.Validate))).Methods("POST")

	// Sessions
	r.Handle("/validations", limit(http.HandlerFunc(h.CreateValidation))).Methods("POST")
	r.HandleFunc("/validations", h.ListValidations).Methods("GET")
	r.HandleFunc("/validations/{validationId}", h.GetValidationResults).Methods("GET")
	r.HandleFunc("/validations/{validationId}/stop", h.StopValidation).Methods("POST")
}

// Welcome answers the root path
func (h *Handler) Welcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, "Welcome to oav-express")
}

// Swagger serves the API description
func (h *Handler) Swagger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(h.swagger)
}

// Validate fans one live traffic sample out to every matching session. The
// reply is an empty 200 whether or not any session matched.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var sample models.TrafficSample
	if err := decodeBody(w, r, &sample); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result := h.sessions.Dispatch(r.Context(), sample)
	if result.Dropped > 0 {
		h.logger.Warn("Sample dropped by saturated sessions", map[string]interface{}{
			"dropped": result.Dropped,
			"matched": len(result.Matched),
		})
	}
	w.WriteHeader(http.StatusOK)
}

// CreateValidation admits a new validation session
func (h *Handler) CreateValidation(w http.ResponseWriter, r *http.Request) {
	var req models.ValidationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	id, err := h.sessions.Admit(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, models.ValidationResponse{ValidationID: id})
	case errors.Is(err, supervisor.ErrCapacityExceeded):
		writeError(w, http.StatusTooManyRequests, msgCapacityExceeded)
	case errors.Is(err, supervisor.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, msgInvalidDuration)
	case errors.Is(err, supervisor.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("Failed to admit validation", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to admit validation: %v", err))
	}
}

// ListValidations returns live and recently terminated sessions
func (h *Handler) ListValidations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List())
}

// GetValidationResults returns the flushed result rows of a session
func (h *Handler) GetValidationResults(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["validationId"]

	rows, err := h.results.ListRows(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to read results", map[string]interface{}{
			"session_id": id,
			"error":      err.Error(),
		})
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(rows) == 0 {
		if _, known := h.sessions.Get(id); !known {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Validation %s not found", id))
			return
		}
		writeError(w, http.StatusNotFound, fmt.Sprintf("No results found yet for validation %s", id))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// StopValidation asks a session to drain and flush early
func (h *Handler) StopValidation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["validationId"]

	if err := h.sessions.Stop(id); err != nil {
		if errors.Is(err, supervisor.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Validation %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	session, _ := h.sessions.Get(id)
	writeJSON(w, http.StatusOK, session)
}

// Health reports whether the results store is reachable
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.results.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}
