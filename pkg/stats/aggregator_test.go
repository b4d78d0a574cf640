package stats

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vladbarosan/oav-express/pkg/models"
)

func outcome(op string, req, resp bool) models.ValidationOutcome {
	return models.ValidationOutcome{OperationID: op, SuccessfulRequest: req, SuccessfulResponse: resp}
}

func TestFold(t *testing.T) {
	tests := []struct {
		name    string
		outcome models.ValidationOutcome
		want    models.OperationStats
	}{
		{"full success", outcome("op", true, true), models.OperationStats{OperationCount: 1, SuccessCount: 1, SuccessRequestCount: 1, SuccessResponseCount: 1}},
		{"request only", outcome("op", true, false), models.OperationStats{OperationCount: 1, SuccessCount: 0, SuccessRequestCount: 1, SuccessResponseCount: 0}},
		{"response only", outcome("op", false, true), models.OperationStats{OperationCount: 1, SuccessCount: 0, SuccessRequestCount: 0, SuccessResponseCount: 1}},
		{"failure", outcome("op", false, false), models.OperationStats{OperationCount: 1, SuccessCount: 0, SuccessRequestCount: 0, SuccessResponseCount: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prior := models.OperationStats{}
			got := Fold(prior, tt.outcome)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Fold() mismatch (-want +got):\n%s", diff)
			}
			if prior != (models.OperationStats{}) {
				t.Errorf("Fold mutated prior: %+v", prior)
			}
		})
	}
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		name    string
		success int64
		count   int64
		want    float64
		wantOK  bool
	}{
		{"three of four", 3, 4, 75, true},
		{"one of three", 1, 3, 33.3, true},
		{"two of three", 2, 3, 66.7, true},
		{"all", 7, 7, 100, true},
		{"none", 0, 5, 0, true},
		{"one of seven", 1, 7, 14.3, true},
		{"zero count", 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SuccessRate(tt.success, tt.count)
			if ok != tt.wantOK {
				t.Fatalf("SuccessRate(%d, %d) ok = %v, want %v", tt.success, tt.count, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("SuccessRate(%d, %d) = %v, want %v", tt.success, tt.count, got, tt.want)
			}
		})
	}
}

func TestAggregatorTotalsInvariant(t *testing.T) {
	agg := NewAggregator()
	ops := []string{"Cache_Get", "Cache_List", "Cache_Create", ""}
	rng := rand.New(rand.NewSource(42))

	var prev models.OperationStats
	for i := 0; i < 500; i++ {
		agg.Add(outcome(ops[rng.Intn(len(ops))], rng.Intn(2) == 0, rng.Intn(2) == 0))

		totals := agg.Totals()
		if totals.OperationCount < prev.OperationCount ||
			totals.SuccessCount < prev.SuccessCount ||
			totals.SuccessRequestCount < prev.SuccessRequestCount ||
			totals.SuccessResponseCount < prev.SuccessResponseCount {
			t.Fatalf("counters decreased: %+v -> %+v", prev, totals)
		}
		prev = totals

		var sum models.OperationStats
		for _, s := range agg.Operations() {
			sum.OperationCount += s.OperationCount
			sum.SuccessCount += s.SuccessCount
			sum.SuccessRequestCount += s.SuccessRequestCount
			sum.SuccessResponseCount += s.SuccessResponseCount
		}
		if diff := cmp.Diff(sum, totals); diff != "" {
			t.Fatalf("totals differ from operation sum (-sum +totals):\n%s", diff)
		}
	}

	if _, ok := agg.Operation(models.OperationNotFound); !ok {
		t.Errorf("empty operation ids should be recorded as %s", models.OperationNotFound)
	}
}

func TestAggregatorRows(t *testing.T) {
	session := &models.Session{
		ID:     "session-1",
		Scope:  models.Scope{ResourceProvider: "Microsoft.Cache", APIVersion: "2017-02-01"},
		Source: models.SpecSource{RepoURL: "https://example.com/specs", Branch: "main"},
	}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("no samples yields only total", func(t *testing.T) {
		rows := NewAggregator().Rows(session, now)
		if len(rows) != 1 {
			t.Fatalf("expected 1 row, got %d", len(rows))
		}
		row := rows[0]
		if row.RowKey != models.TotalRowKey {
			t.Errorf("row key = %q, want %q", row.RowKey, models.TotalRowKey)
		}
		if row.OperationCount != 0 {
			t.Errorf("operation count = %d, want 0", row.OperationCount)
		}
		if row.SuccessRate != nil {
			t.Errorf("success rate should be omitted, got %v", *row.SuccessRate)
		}
	})

	t.Run("rows per operation and total", func(t *testing.T) {
		agg := NewAggregator()
		agg.Add(outcome("Redis_Get", true, true))
		agg.Add(outcome("Redis_Get", true, true))
		agg.Add(outcome("Redis_Get", true, true))
		agg.Add(outcome("Redis_Get", true, false))
		agg.Add(outcome("Redis_Create", false, true))

		rate75 := 75.0
		rate0 := 0.0
		rate60 := 60.0
		want := []models.ResultRow{
			{
				PartitionKey: "session-1", RowKey: "Redis_Create",
				ResourceProvider: "Microsoft.Cache", APIVersion: "2017-02-01",
				ModelSourceRepo: "https://example.com/specs", ModelSourceBranch: "main",
				OperationCount: 1, SuccessCount: 0, SuccessRate: &rate0,
				SuccessRequestCount: 0, SuccessResponseCount: 1, Timestamp: now,
			},
			{
				PartitionKey: "session-1", RowKey: "Redis_Get",
				ResourceProvider: "Microsoft.Cache", APIVersion: "2017-02-01",
				ModelSourceRepo: "https://example.com/specs", ModelSourceBranch: "main",
				OperationCount: 4, SuccessCount: 3, SuccessRate: &rate75,
				SuccessRequestCount: 4, SuccessResponseCount: 3, Timestamp: now,
			},
			{
				PartitionKey: "session-1", RowKey: models.TotalRowKey,
				ResourceProvider: "Microsoft.Cache", APIVersion: "2017-02-01",
				ModelSourceRepo: "https://example.com/specs", ModelSourceBranch: "main",
				OperationCount: 5, SuccessCount: 3, SuccessRate: &rate60,
				SuccessRequestCount: 4, SuccessResponseCount: 4, Timestamp: now,
			},
		}

		if diff := cmp.Diff(want, agg.Rows(session, now)); diff != "" {
			t.Errorf("Rows() mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestAggregatorReservedOperationID(t *testing.T) {
	session := &models.Session{ID: "session-1"}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	agg := NewAggregator()
	agg.Add(outcome(models.TotalRowKey, true, true))
	agg.Add(outcome("Redis_Get", false, false))

	if _, ok := agg.Operation(models.TotalRowKey); ok {
		t.Errorf("operation id %q must not get its own counters", models.TotalRowKey)
	}
	if got, _ := agg.Operation(models.OperationNotFound); got.OperationCount != 1 {
		t.Errorf("%s count = %d, want 1", models.OperationNotFound, got.OperationCount)
	}

	rows := agg.Rows(session, now)
	seen := make(map[string]int)
	var sum int64
	var total models.ResultRow
	for _, row := range rows {
		seen[row.RowKey]++
		if row.RowKey == models.TotalRowKey {
			total = row
			continue
		}
		sum += row.OperationCount
	}
	for key, n := range seen {
		if n != 1 {
			t.Errorf("row key %q appears %d times", key, n)
		}
	}
	if total.OperationCount != 2 || sum != total.OperationCount {
		t.Errorf("total = %d, per-operation sum = %d, want both 2", total.OperationCount, sum)
	}
}
