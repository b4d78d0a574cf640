package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TrafficSample is one observed live request/response pair
type TrafficSample struct {
	Request  LiveRequest  `json:"liveRequest"`
	Response LiveResponse `json:"liveResponse"`
}

// LiveRequest is the request half of a traffic sample
type LiveRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// LiveResponse is the response half of a traffic sample
type LiveResponse struct {
	StatusCode StatusCode        `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Encoding   string            `json:"encoding,omitempty"`
}

// StatusCode is an HTTP status that decodes from either a JSON number or a
// JSON string ("200").
type StatusCode int

// UnmarshalJSON accepts 200 and "200"
func (c *StatusCode) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*c = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*c = 0
			return nil
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid status code %q: %w", raw, err)
	}
	*c = StatusCode(n)
	return nil
}

// String returns the decimal form used as a key in interface definitions
func (c StatusCode) String() string {
	return strconv.Itoa(int(c))
}

// HasBody reports whether a JSON body was supplied (null counts as absent)
func HasBody(body json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(body))
	return trimmed != "" && trimmed != "null"
}
