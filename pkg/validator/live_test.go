package validator

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/specsource"
)

const redisPrefix = "/subscriptions/sub1/resourceGroups/rg1/providers/Microsoft.Cache/Redis/cache1"

func specsDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("testdata", "specs"))
	require.NoError(t, err)
	return dir
}

func loadRedis(t *testing.T) *LiveValidator {
	t.Helper()
	v, err := LoadDir(specsDir(t), "/specification/**/Microsoft.Cache/2017-02-01/**/*.json", nil)
	require.NoError(t, err)
	return v
}

func liveSample(method, url string, status int, body string, headers map[string]string) models.TrafficSample {
	s := models.TrafficSample{
		Request:  models.LiveRequest{Method: method, URL: url, Headers: headers},
		Response: models.LiveResponse{StatusCode: models.StatusCode(status)},
	}
	if body != "" {
		s.Request.Body = json.RawMessage(body)
	}
	return s
}

func TestLoadDirIndexesOperations(t *testing.T) {
	v := loadRedis(t)
	assert.Equal(t, 5, v.Operations())
}

func TestLiveValidatorValidate(t *testing.T) {
	v := loadRedis(t)

	tests := []struct {
		name         string
		sample       models.TrafficSample
		wantOp       string
		wantRequest  bool
		wantResponse bool
	}{
		{
			name:         "get succeeds",
			sample:       liveSample("GET", "https://management.azure.com"+redisPrefix+"?api-version=2017-02-01", 200, "", nil),
			wantOp:       "Redis_Get",
			wantRequest:  true,
			wantResponse: true,
		},
		{
			name:         "literal segments are case insensitive",
			sample:       liveSample("get", "/SUBSCRIPTIONS/sub1/providers/microsoft.cache/redis?api-version=2017-02-01", 200, "", nil),
			wantOp:       "Redis_List",
			wantRequest:  true,
			wantResponse: true,
		},
		{
			name:         "missing api-version fails the request",
			sample:       liveSample("GET", redisPrefix, 200, "", nil),
			wantOp:       "Redis_Get",
			wantRequest:  false,
			wantResponse: true,
		},
		{
			name:         "undeclared status fails the response",
			sample:       liveSample("GET", redisPrefix+"?api-version=2017-02-01", 404, "", nil),
			wantOp:       "Redis_Get",
			wantRequest:  true,
			wantResponse: false,
		},
		{
			name:         "default response accepts any status",
			sample:       liveSample("DELETE", redisPrefix+"?api-version=2017-02-01", 409, "", nil),
			wantOp:       "Redis_Delete",
			wantRequest:  true,
			wantResponse: true,
		},
		{
			name:         "required body missing",
			sample:       liveSample("PUT", redisPrefix+"?api-version=2017-02-01", 201, "null", nil),
			wantOp:       "Redis_Create",
			wantRequest:  false,
			wantResponse: true,
		},
		{
			name:         "required body present",
			sample:       liveSample("PUT", redisPrefix+"?api-version=2017-02-01", 201, `{"location":"westus"}`, nil),
			wantOp:       "Redis_Create",
			wantRequest:  true,
			wantResponse: true,
		},
		{
			name:         "required header",
			sample:       liveSample("POST", redisPrefix+"/listKeys?api-version=2017-02-01", 200, "", map[string]string{"X-MS-Client-Request-Id": "abc"}),
			wantOp:       "Redis_ListKeys",
			wantRequest:  true,
			wantResponse: true,
		},
		{
			name:         "required header missing",
			sample:       liveSample("POST", redisPrefix+"/listKeys?api-version=2017-02-01", 200, "", nil),
			wantOp:       "Redis_ListKeys",
			wantRequest:  false,
			wantResponse: true,
		},
		{
			name:         "unknown operation",
			sample:       liveSample("PATCH", redisPrefix+"?api-version=2017-02-01", 200, "", nil),
			wantOp:       models.OperationNotFound,
			wantRequest:  false,
			wantResponse: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(context.Background(), tt.sample)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, got.OperationID)
			assert.Equal(t, tt.wantRequest, got.SuccessfulRequest, "request errors: %+v", got.RequestErrors)
			assert.Equal(t, tt.wantResponse, got.SuccessfulResponse, "response errors: %+v", got.ResponseErrors)
		})
	}
}

func TestLoadDirYAMLAndBrokenFiles(t *testing.T) {
	v, err := LoadDir(specsDir(t), "/specification/**/Microsoft.Storage/2016-01-01/**/*.{json,yaml}", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Operations(), "broken.json is skipped")

	got, err := v.Validate(context.Background(),
		liveSample("GET", "/subscriptions/s/providers/Microsoft.Storage/storageAccounts?api-version=2016-01-01", 200, "", nil))
	require.NoError(t, err)
	assert.Equal(t, "StorageAccounts_List", got.OperationID)
	assert.True(t, got.IsSuccess())
}

func TestLoadDirWithoutDefinitions(t *testing.T) {
	_, err := LoadDir(specsDir(t), "/specification/**/Microsoft.Web/2016-08-01/**/*.json", nil)
	assert.ErrorIs(t, err, ErrNoDefinitions)
}

type fixedSource struct {
	dir string
	err error
	got models.SpecSource
}

func (f *fixedSource) Fetch(ctx context.Context, src models.SpecSource) (string, error) {
	f.got = src
	return f.dir, f.err
}

func TestLiveValidatorFactory(t *testing.T) {
	src := &fixedSource{dir: specsDir(t)}
	f := NewLiveValidatorFactory(src, "https://example.com/default-specs", nil)

	session := models.Session{
		ID:    "s1",
		Scope: models.Scope{ResourceProvider: "Microsoft.Cache", APIVersion: "2017-02-01"},
	}
	v, err := f.New(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/default-specs", src.got.RepoURL)
	assert.Equal(t, specsource.PathPattern(session.Scope), src.got.PathPattern)

	out, err := v.Validate(context.Background(), liveSample("GET", redisPrefix+"?api-version=2017-02-01", 200, "", nil))
	require.NoError(t, err)
	assert.Equal(t, "Redis_Get", out.OperationID)

	src.err = errors.New("clone failed")
	_, err = f.New(context.Background(), session)
	assert.Error(t, err)
}
