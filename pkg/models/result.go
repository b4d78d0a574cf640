package models

import (
	"time"
)

// TotalRowKey is the reserved row key of the session totals row
const TotalRowKey = "total"

// OperationNotFound is the operation id reported for samples that match no
// operation of the loaded interface definitions
const OperationNotFound = "OPERATION_NOT_FOUND"

// ValidationError is a single diagnostic produced by a validator
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// ValidationOutcome is the structured result of scoring one traffic sample
type ValidationOutcome struct {
	OperationID        string            `json:"operationId"`
	SuccessfulRequest  bool              `json:"successfulRequest"`
	SuccessfulResponse bool              `json:"successfulResponse"`
	RequestErrors      []ValidationError `json:"requestErrors,omitempty"`
	ResponseErrors     []ValidationError `json:"responseErrors,omitempty"`
}

// IsSuccess reports whether both request and response passed
func (o ValidationOutcome) IsSuccess() bool {
	return o.SuccessfulRequest && o.SuccessfulResponse
}

// OperationStats accumulates outcomes for one operation (or the session total)
type OperationStats struct {
	OperationCount       int64 `json:"operationCount"`
	SuccessCount         int64 `json:"successCount"`
	SuccessRequestCount  int64 `json:"successRequestCount"`
	SuccessResponseCount int64 `json:"successResponseCount"`
}

// ResultRow is one persisted row of aggregated statistics.
// Rows are keyed by (PartitionKey, RowKey) = (session id, operation id or "total").
type ResultRow struct {
	PartitionKey         string    `json:"partitionKey"`
	RowKey               string    `json:"rowKey"`
	ResourceProvider     string    `json:"resourceProvider"`
	APIVersion           string    `json:"apiVersion"`
	ModelSourceRepo      string    `json:"modelSourceRepo"`
	ModelSourceBranch    string    `json:"modelSourceBranch"`
	OperationCount       int64     `json:"operationCount"`
	SuccessCount         int64     `json:"successCount"`
	SuccessRate          *float64  `json:"successRate,omitempty"`
	SuccessRequestCount  int64     `json:"successRequestCount"`
	SuccessResponseCount int64     `json:"successResponseCount"`
	Timestamp            time.Time `json:"timestamp"`
}
