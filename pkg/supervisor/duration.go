package supervisor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseDuration reads the admission duration. A JSON number or numeric
// string is accepted and fractions are truncated; null or an absent value
// means the session runs until stopped.
func ParseDuration(raw json.RawMessage, maxSeconds int) (*int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var text string
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDuration, err)
		}
		text = strings.TrimSpace(text)
	} else {
		text = string(trimmed)
	}

	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidDuration, text)
	}
	value = math.Trunc(value)
	if value < 0 {
		return nil, fmt.Errorf("%w: %d is negative", ErrInvalidDuration, int64(value))
	}
	if value > float64(maxSeconds) {
		return nil, fmt.Errorf("%w: %d exceeds the maximum of %d seconds", ErrInvalidDuration, int64(value), maxSeconds)
	}

	seconds := int(value)
	return &seconds, nil
}
