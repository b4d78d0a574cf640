package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/vladbarosan/oav-express/pkg/models"
)

// SessionCounter reports how many registry sessions are in each state
type SessionCounter interface {
	CountByState() map[models.SessionState]int
}

// Collector serves /metrics: the registry view rendered by hand followed by
// every family of the gatherer.
type Collector struct {
	sessions  SessionCounter
	gatherer  prometheus.Gatherer
	startTime time.Time
}

// NewCollector creates a collector. A nil gatherer means the default one.
func NewCollector(sessions SessionCounter, gatherer prometheus.Gatherer) *Collector {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Collector{
		sessions:  sessions,
		gatherer:  gatherer,
		startTime: time.Now(),
	}
}

// ServeHTTP serves Prometheus-compatible metrics
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	var buf bytes.Buffer

	counts := map[models.SessionState]int{}
	if c.sessions != nil {
		counts = c.sessions.CountByState()
	}
	for _, state := range []models.SessionState{
		models.SessionStateAdmitted,
		models.SessionStateInitializing,
		models.SessionStateActive,
		models.SessionStateDraining,
		models.SessionStateTerminated,
	} {
		if _, ok := counts[state]; !ok {
			counts[state] = 0
		}
	}
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, string(state))
	}
	sort.Strings(states)

	// oav_sessions{state}
	fmt.Fprintf(&buf, "# HELP oav_sessions Sessions known to the registry by state\n")
	fmt.Fprintf(&buf, "# TYPE oav_sessions gauge\n")
	for _, state := range states {
		fmt.Fprintf(&buf, "oav_sessions{state=\"%s\"} %d\n", state, counts[models.SessionState(state)])
	}

	fmt.Fprintf(&buf, "\n# HELP oav_uptime_seconds Server uptime in seconds\n")
	fmt.Fprintf(&buf, "# TYPE oav_uptime_seconds gauge\n")
	fmt.Fprintf(&buf, "oav_uptime_seconds %.0f\n\n", time.Since(c.startTime).Seconds())

	families, err := c.gatherer.Gather()
	if err != nil {
		fmt.Fprintf(&buf, "# Error gathering Prometheus metrics: %v\n", err)
	}
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(&buf, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}

	_, _ = w.Write(buf.Bytes())
}
