package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMonitor tracks request counts, durations and bytes of the front door
type HTTPMonitor struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	bytesReceived *prometheus.CounterVec
	bytesSent     *prometheus.CounterVec
}

// NewHTTPMonitor registers the HTTP metrics on reg (the default registerer when nil)
func NewHTTPMonitor(reg prometheus.Registerer) *HTTPMonitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &HTTPMonitor{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oav_http_requests_total",
			Help: "HTTP requests served by the front door.",
		}, []string{"method", "route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oav_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		bytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oav_http_request_bytes_total",
			Help: "Bytes received in HTTP request bodies.",
		}, []string{"method", "route"}),
		bytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oav_http_response_bytes_total",
			Help: "Bytes sent in HTTP response bodies.",
		}, []string{"method", "route", "status"}),
	}
}

// Middleware records metrics for every request. Routes are labelled by
// their mux path template so session ids do not explode cardinality.
func (m *HTTPMonitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeLabel(r)

		if r.ContentLength > 0 {
			m.bytesReceived.WithLabelValues(r.Method, route).Add(float64(r.ContentLength))
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		status := strconv.Itoa(rw.statusCode)
		m.requests.WithLabelValues(r.Method, route, status).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if rw.bytesWritten > 0 {
			m.bytesSent.WithLabelValues(r.Method, route, status).Add(float64(rw.bytesWritten))
		}
	})
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

type responseWriter struct {
	http.ResponseWriter
	bytesWritten int
	statusCode   int
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// NewServer builds the standalone metrics server
func NewServer(port int, handler http.Handler) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", handler).Methods("GET")
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
