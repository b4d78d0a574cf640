package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationRequestUnmarshal(t *testing.T) {
	t.Run("flat body", func(t *testing.T) {
		var req ValidationRequest
		body := `{"repoUrl":"https://example.com/specs","branch":"main","resourceProvider":"Microsoft.Cache","apiVersion":"2017-02-01","duration":5}`
		require.NoError(t, json.Unmarshal([]byte(body), &req))

		assert.Equal(t, "https://example.com/specs", req.RepoURL)
		assert.Equal(t, "main", req.Branch)
		assert.Equal(t, Scope{ResourceProvider: "Microsoft.Cache", APIVersion: "2017-02-01"}, req.Scope())
		assert.JSONEq(t, "5", string(req.Duration))
	})

	t.Run("wrapped body", func(t *testing.T) {
		var req ValidationRequest
		body := `{"validationModel":{"resourceProvider":"Microsoft.Network","apiVersion":"2017-10-01","duration":"30"}}`
		require.NoError(t, json.Unmarshal([]byte(body), &req))

		assert.Equal(t, "Microsoft.Network", req.ResourceProvider)
		assert.Equal(t, "2017-10-01", req.APIVersion)
		assert.Equal(t, `"30"`, string(req.Duration))
	})

	t.Run("missing duration", func(t *testing.T) {
		var req ValidationRequest
		require.NoError(t, json.Unmarshal([]byte(`{"resourceProvider":"Microsoft.Cache"}`), &req))
		assert.Empty(t, req.Duration)
	})

	t.Run("invalid json", func(t *testing.T) {
		var req ValidationRequest
		assert.Error(t, json.Unmarshal([]byte(`{"resourceProvider":`), &req))
	})
}

func TestStatusCodeUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    StatusCode
		wantErr bool
	}{
		{"number", `{"statusCode":200}`, 200, false},
		{"string", `{"statusCode":"404"}`, 404, false},
		{"null", `{"statusCode":null}`, 0, false},
		{"garbage", `{"statusCode":"OK"}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp LiveResponse
			err := json.Unmarshal([]byte(tt.input), &resp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
