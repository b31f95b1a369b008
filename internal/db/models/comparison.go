package models

import (
	"encoding/json"
	"time"
)

// UserRef is one entry of a discrepancy set. StableID is the source's own
// identifier for the user: the directory id where present, otherwise the
// application-database id rendered as text.
type UserRef struct {
	// UserID is the local mirror row id.
	UserID uint64 `json:"user_id"`
	// StableID is the source identifier used for stable ordering.
	StableID string `json:"stable_id"`
	// DisplayName is the user's display name.
	DisplayName string `json:"display_name"`
	// Email is the mirrored email, empty when unknown.
	Email string `json:"email,omitempty"`
	// Login is the mirrored login, empty when unknown.
	Login string `json:"login,omitempty"`
	// Directory carries the directory-side value under comparison, if any.
	Directory string `json:"directory,omitempty"`
	// AppDB carries the application-side value under comparison, if any.
	AppDB string `json:"appdb,omitempty"`
}

// Discrepancies holds the five disjoint sets produced by one comparison.
type Discrepancies struct {
	// DirectoryOnly lists users seen only in the directory.
	DirectoryOnly []UserRef `json:"directory_only"`
	// AppDBOnly lists users seen only in the application database.
	AppDBOnly []UserRef `json:"appdb_only"`
	// EmailMismatch lists login-matched users whose normalized emails differ.
	EmailMismatch []UserRef `json:"email_mismatch"`
	// DepartmentMismatch lists matched users whose departments differ.
	DepartmentMismatch []UserRef `json:"department_mismatch"`
	// DisabledInDirectory lists directory users whose account is disabled.
	DisabledInDirectory []UserRef `json:"disabled_in_directory"`
}

// ComparisonResult is the persisted output of one reconciliation pass.
// Immutable once written; the five sets are stored JSON-encoded.
type ComparisonResult struct {
	// ID is the comparison identifier handed back to callers.
	ID uint64 `gorm:"primaryKey"`
	// RunID is the compare run this result belongs to.
	RunID uint64 `gorm:"not null;index"`
	// ProducedAt is the instant the result was written.
	ProducedAt time.Time `gorm:"not null"`
	// DirectoryRunID is the directory snapshot this comparison read.
	DirectoryRunID uint64 `gorm:"not null"`
	// AppDBRunID is the application-database snapshot this comparison read.
	AppDBRunID uint64 `gorm:"not null"`
	// Sets is the JSON-encoded Discrepancies record.
	Sets string `gorm:"not null"`
}

// TableName specifies the database table name for the ComparisonResult model.
func (ComparisonResult) TableName() string {
	return "comparison_results"
}

// DecodeSets unmarshals the stored discrepancy sets.
func (c *ComparisonResult) DecodeSets() (Discrepancies, error) {
	var sets Discrepancies
	err := json.Unmarshal([]byte(c.Sets), &sets)

	return sets, err
}
