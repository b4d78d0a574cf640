// Package stats folds validation outcomes into per-operation and
// session-wide counters and renders them as result rows.
//
// An Aggregator is owned by exactly one session worker and is not safe for
// concurrent use.
package stats

import (
	"sort"
	"strconv"
	"time"

	"github.com/vladbarosan/oav-express/pkg/models"
)

// Fold returns prior updated with a single outcome. It never mutates prior.
func Fold(prior models.OperationStats, outcome models.ValidationOutcome) models.OperationStats {
	next := prior
	next.OperationCount++
	if outcome.SuccessfulRequest {
		next.SuccessRequestCount++
	}
	if outcome.SuccessfulResponse {
		next.SuccessResponseCount++
	}
	if outcome.IsSuccess() {
		next.SuccessCount++
	}
	return next
}

// SuccessRate returns 100*success/count rounded to three significant
// digits. ok is false when count is zero.
func SuccessRate(success, count int64) (rate float64, ok bool) {
	if count <= 0 {
		return 0, false
	}
	raw := 100 * float64(success) / float64(count)
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(raw, 'g', 3, 64), 64)
	if err != nil {
		return raw, true
	}
	return rounded, true
}

// Aggregator accumulates outcomes for one session
type Aggregator struct {
	operations map[string]models.OperationStats
	totals     models.OperationStats
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		operations: make(map[string]models.OperationStats),
	}
}

// Add folds an outcome into its operation and into the session totals.
// An operation id equal to the totals row key is counted under
// OPERATION_NOT_FOUND so it cannot overwrite the totals row.
func (a *Aggregator) Add(outcome models.ValidationOutcome) {
	opID := outcome.OperationID
	if opID == "" || opID == models.TotalRowKey {
		opID = models.OperationNotFound
	}
	a.operations[opID] = Fold(a.operations[opID], outcome)
	a.totals = Fold(a.totals, outcome)
}

// Totals returns the session-wide counters
func (a *Aggregator) Totals() models.OperationStats {
	return a.totals
}

// Operation returns the counters of one operation
func (a *Aggregator) Operation(operationID string) (models.OperationStats, bool) {
	s, ok := a.operations[operationID]
	return s, ok
}

// Operations returns a copy of the per-operation counters
func (a *Aggregator) Operations() map[string]models.OperationStats {
	out := make(map[string]models.OperationStats, len(a.operations))
	for k, v := range a.operations {
		out[k] = v
	}
	return out
}

// Rows renders the aggregator as result rows for the given session: one row
// per operation plus the "total" row, sorted by row key. A session that saw
// no traffic yields a single "total" row.
func (a *Aggregator) Rows(session *models.Session, now time.Time) []models.ResultRow {
	rows := make([]models.ResultRow, 0, len(a.operations)+1)
	rows = append(rows, newRow(session, models.TotalRowKey, a.totals, now))
	for opID, s := range a.operations {
		rows = append(rows, newRow(session, opID, s, now))
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].RowKey < rows[j].RowKey
	})
	return rows
}

func newRow(session *models.Session, rowKey string, s models.OperationStats, now time.Time) models.ResultRow {
	row := models.ResultRow{
		PartitionKey:         session.ID,
		RowKey:               rowKey,
		ResourceProvider:     session.Scope.ResourceProvider,
		APIVersion:           session.Scope.APIVersion,
		ModelSourceRepo:      session.Source.RepoURL,
		ModelSourceBranch:    session.Source.Branch,
		OperationCount:       s.OperationCount,
		SuccessCount:         s.SuccessCount,
		SuccessRequestCount:  s.SuccessRequestCount,
		SuccessResponseCount: s.SuccessResponseCount,
		Timestamp:            now.UTC(),
	}
	if rate, ok := SuccessRate(s.SuccessCount, s.OperationCount); ok {
		row.SuccessRate = &rate
	}
	return row
}
