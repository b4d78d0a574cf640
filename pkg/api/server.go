package api

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vladbarosan/oav-express/pkg/metrics"
	"github.com/vladbarosan/oav-express/pkg/ratelimit"
	"github.com/vladbarosan/oav-express/pkg/tracing"
)

//go:embed openapi/*.json
var openapiFS embed.FS

const (
	developmentDoc = "openapi/oav-express.json"
	productionDoc  = "openapi/oav-express-production.json"
)

// SwaggerDocument returns the API description for the deployment
// environment. A non-empty host replaces the document's host.
func SwaggerDocument(production bool, host string) ([]byte, error) {
	name := developmentDoc
	if production {
		name = productionDoc
	}
	data, err := openapiFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if host == "" {
		return data, nil
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	doc["host"] = host
	return json.Marshal(doc)
}

// RouterOptions holds the cross-cutting middleware of the front door
type RouterOptions struct {
	Limiter *ratelimit.Limiter
	Monitor *metrics.HTTPMonitor
	Tracer  *tracing.Provider
}

// NewRouter builds the front door router
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	if opts.Tracer != nil {
		r.Use(tracing.HTTPMiddleware(opts.Tracer))
	}
	if opts.Monitor != nil {
		r.Use(opts.Monitor.Middleware)
	}

	var limit func(http.Handler) http.Handler
	if opts.Limiter != nil {
		limit = opts.Limiter.Middleware(ratelimit.IPKeyFunc)
	}
	h.RegisterRoutes(r, limit)
	return r
}

// ServerConfig holds HTTP server timeouts
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates the front door HTTP server
func NewServer(cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
