package models

import (
	"encoding/json"
	"time"
)

// SyncKind identifies the pipeline a run belongs to.
type SyncKind string

const (
	// SyncKindDirectory is a directory-service user sync.
	SyncKindDirectory SyncKind = "directory"
	// SyncKindAppDB is an application-database sync.
	SyncKindAppDB SyncKind = "appdb"
	// SyncKindCompare is a reconciliation pass over the two latest snapshots.
	SyncKindCompare SyncKind = "compare"
)

// RunStatus is the lifecycle state of a sync run. A run moves from started to
// exactly one terminal state and never changes afterwards.
type RunStatus string

const (
	// RunStatusStarted marks a run whose pipeline has not returned yet.
	RunStatusStarted RunStatus = "started"
	// RunStatusSucceeded marks a run that merged every batch without failures.
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusPartiallySucceeded marks a run with failed records but at
	// least one success.
	RunStatusPartiallySucceeded RunStatus = "partially_succeeded"
	// RunStatusFailed marks a run aborted by a connector error, cancellation,
	// timeout, or an excessive failure rate with zero successes.
	RunStatusFailed RunStatus = "failed"
)

// Terminal reports whether the status is one of the permanent end states.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusPartiallySucceeded || s == RunStatusFailed
}

// SyncStats is the structured counter record of a run. The invariant
// Processed == Created + Updated + Skipped + Failed holds for terminal runs.
type SyncStats struct {
	// Processed counts every stream record the pipeline saw.
	Processed int `json:"processed"`
	// Created counts records that produced a new row.
	Created int `json:"created"`
	// Updated counts records merged into an existing row.
	Updated int `json:"updated"`
	// Skipped counts records left unchanged or dropped by normalization.
	Skipped int `json:"skipped"`
	// Failed counts records that raised non-constraint errors.
	Failed int `json:"failed"`
	// Warnings counts non-fatal anomalies such as translated-field picks
	// and ambiguous join columns. Not part of the processed sum.
	Warnings int `json:"warnings,omitempty"`
}

// Add accumulates another stats record into s.
func (s *SyncStats) Add(o SyncStats) {
	s.Processed += o.Processed
	s.Created += o.Created
	s.Updated += o.Updated
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.Warnings += o.Warnings
}

// FailureRate returns Failed relative to Processed, zero for an empty run.
func (s SyncStats) FailureRate() float64 {
	if s.Processed == 0 {
		return 0
	}

	return float64(s.Failed) / float64(s.Processed)
}

// SyncRun is one entry of the run ledger: a single invocation of a connector
// and upsert pipeline, or of the comparison engine. It is the authoritative
// record of progress and failure; immutable once terminal.
type SyncRun struct {
	// ID is the run identifier handed back to callers.
	ID uint64 `gorm:"primaryKey"`
	// Kind is the pipeline this run belongs to.
	Kind SyncKind `gorm:"type:varchar(20);not null;index"`
	// Environment is the named application-database environment, empty for
	// directory and compare runs.
	Environment *string `gorm:"size:50"`
	// StartedAt is the instant the run record was opened.
	StartedAt time.Time `gorm:"not null;index"`
	// FinishedAt is the instant the run reached a terminal status.
	FinishedAt *time.Time
	// Status is the lifecycle state.
	Status RunStatus `gorm:"type:varchar(25);not null;index"`
	// Stats is the JSON-encoded SyncStats record of a terminal run.
	Stats *string
	// Error is the failure context of a failed or partial run.
	Error *string
}

// TableName specifies the database table name for the SyncRun model.
func (SyncRun) TableName() string {
	return "sync_runs"
}

// DecodeStats unmarshals the stored stats record, returning zeros when the
// run has none yet.
func (r *SyncRun) DecodeStats() (SyncStats, error) {
	var stats SyncStats
	if r.Stats == nil || *r.Stats == "" {
		return stats, nil
	}

	err := json.Unmarshal([]byte(*r.Stats), &stats)

	return stats, err
}
