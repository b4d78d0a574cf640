package models

import (
	"bytes"
	"encoding/json"
)

// ValidationRequest is the admission body for a new validation session.
// Duration keeps its raw JSON form so admission can tell a missing duration
// from a malformed one.
type ValidationRequest struct {
	RepoURL          string          `json:"repoUrl,omitempty"`
	Branch           string          `json:"branch,omitempty"`
	ResourceProvider string          `json:"resourceProvider,omitempty"`
	APIVersion       string          `json:"apiVersion,omitempty"`
	Duration         json.RawMessage `json:"duration,omitempty"`
}

type validationRequestFields ValidationRequest

// UnmarshalJSON accepts both the flat body and the {"validationModel": {...}} envelope
func (r *ValidationRequest) UnmarshalJSON(data []byte) error {
	var envelope struct {
		ValidationModel json.RawMessage `json:"validationModel"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(bytes.TrimSpace(envelope.ValidationModel)) > 0 &&
		!bytes.Equal(bytes.TrimSpace(envelope.ValidationModel), []byte("null")) {
		data = envelope.ValidationModel
	}

	var fields validationRequestFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = ValidationRequest(fields)
	return nil
}

// Scope returns the routing scope requested by the caller
func (r ValidationRequest) Scope() Scope {
	return Scope{ResourceProvider: r.ResourceProvider, APIVersion: r.APIVersion}
}

// ValidationResponse is returned on successful admission
type ValidationResponse struct {
	ValidationID string `json:"validationId"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}
