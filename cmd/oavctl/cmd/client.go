package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vladbarosan/oav-express/pkg/models"
)

// ErrNotFound is returned for 404 replies
var ErrNotFound = errors.New("not found")

// Client talks to the oav-express HTTP API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StartValidation admits a new session and returns its id
func (c *Client) StartValidation(ctx context.Context, req validationModel) (string, error) {
	var resp models.ValidationResponse
	if err := c.do(ctx, http.MethodPost, "/validations", req, &resp); err != nil {
		return "", err
	}
	return resp.ValidationID, nil
}

// Results returns the flushed rows of a session
func (c *Client) Results(ctx context.Context, id string) ([]models.ResultRow, error) {
	var rows []models.ResultRow
	if err := c.do(ctx, http.MethodGet, "/validations/"+id, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Sessions lists live and recently terminated sessions
func (c *Client) Sessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := c.do(ctx, http.MethodGet, "/validations", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Session returns one session from the session listing
func (c *Client) Session(ctx context.Context, id string) (models.Session, error) {
	sessions, err := c.Sessions(ctx)
	if err != nil {
		return models.Session{}, err
	}
	for _, s := range sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return models.Session{}, fmt.Errorf("validation %s: %w", id, ErrNotFound)
}

// Stop asks a session to drain
func (c *Client) Stop(ctx context.Context, id string) (models.Session, error) {
	var session models.Session
	err := c.do(ctx, http.MethodPost, "/validations/"+id+"/stop", nil, &session)
	return session, err
}

// Validate submits one traffic sample
func (c *Client) Validate(ctx context.Context, sample json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/validate", sample, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to oav-express: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr models.ErrorResponse
		msg := string(bytes.TrimSpace(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", msg, ErrNotFound)
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, msg)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
