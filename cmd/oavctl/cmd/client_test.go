package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladbarosan/oav-express/pkg/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/validations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			var body validationModel
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || (body.Duration != nil && *body.Duration > 3600) {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(models.ErrorResponse{Error: "Duration is not a number"})
				return
			}
			json.NewEncoder(w).Encode(models.ValidationResponse{ValidationID: "v1"})
			return
		}
		json.NewEncoder(w).Encode([]models.Session{{ID: "v1", State: models.SessionStateActive}})
	})
	mux.HandleFunc("/validations/v1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.ResultRow{{PartitionKey: "v1", RowKey: models.TotalRowKey, OperationCount: 2}})
	})
	mux.HandleFunc("/validations/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(models.ErrorResponse{Error: "Validation missing not found"})
	})
	mux.HandleFunc("/validations/v1/stop", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.Session{ID: "v1", State: models.SessionStateDraining})
	})
	mux.HandleFunc("/validate", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !json.Valid(body) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	id, err := client.StartValidation(ctx, validationModel{ResourceProvider: "Microsoft.Cache"})
	require.NoError(t, err)
	assert.Equal(t, "v1", id)

	tooLong := 7200
	_, err = client.StartValidation(ctx, validationModel{Duration: &tooLong})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "Duration is not a number")

	rows, err := client.Results(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].OperationCount)

	_, err = client.Results(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	session, err := client.Session(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateActive, session.State)

	_, err = client.Session(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)

	stopped, err := client.Stop(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateDraining, stopped.State)

	assert.NoError(t, client.Validate(ctx, json.RawMessage(`{"liveRequest":{},"liveResponse":{}}`)))
}

func TestValidationsCommandJSONOutput(t *testing.T) {
	srv := newTestServer(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validations", "results", "v1", "--server", srv.URL, "--output", "json"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		serverURL, outputFormat = "", "table"
	})

	require.NoError(t, rootCmd.Execute())

	var rows []models.ResultRow
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows), out.String())
	require.Len(t, rows, 1)
	assert.Equal(t, models.TotalRowKey, rows[0].RowKey)
}

func TestPrintResultsTable(t *testing.T) {
	rate := 50.0
	var out bytes.Buffer
	printResults(&out, []models.ResultRow{
		{RowKey: "Redis_Get", OperationCount: 2, SuccessCount: 1, SuccessRate: &rate},
		{RowKey: models.TotalRowKey},
	})
	assert.Contains(t, out.String(), "Redis_Get")
	assert.Contains(t, out.String(), "50.00%")
	assert.Contains(t, out.String(), "-")
}
