package datanorm

import (
	"github.com/ignite/carrier-mapping/internal/domain"
)

// ReportKind is the report type enum.
type ReportKind string

const (
	ReportCommission  ReportKind = "commission"
	ReportDelinquency ReportKind = "delinquency"
)

// SkippedRow identifies an input row dropped from a batch. Index is zero-based;
// Policy and Insured hold whatever was resolved before the row failed.
type SkippedRow struct {
	Index   int    `json:"index"`
	Policy  string `json:"policy,omitempty"`
	Insured string `json:"insured,omitempty"`
}

// skipTally counts rows dropped by a batch.
type skipTally struct {
	Skipped     int          `json:"skipped"`
	SkippedRows []SkippedRow `json:"skipped_rows,omitempty"`
}

func (t *skipTally) skip(i int, policy, insured string) {
	t.Skipped++
	t.SkippedRows = append(t.SkippedRows, SkippedRow{Index: i, Policy: policy, Insured: insured})
}

// BatchResult tracks the outcome of a commission batch.
type BatchResult struct {
	Normalized []domain.NormalizedRow `json:"normalized"`
	skipTally
}

// DelinquencyBatchResult tracks the outcome of a delinquency batch.
type DelinquencyBatchResult struct {
	Normalized []domain.NormalizedDelinquencyRow `json:"normalized"`
	skipTally
}
