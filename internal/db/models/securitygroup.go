package models

import "time"

// AccessLevel classifies the privilege tier encoded in a security group name.
type AccessLevel string

const (
	// AccessLevelAdministrator is the highest privilege tier of a module.
	AccessLevelAdministrator AccessLevel = "Administrator"
	// AccessLevelManager is a supervisory tier below administrator.
	AccessLevelManager AccessLevel = "Manager"
	// AccessLevelUser is the regular member tier.
	AccessLevelUser AccessLevel = "User"
	// AccessLevelOther covers groups whose name encodes no known tier.
	AccessLevelOther AccessLevel = "Other"
)

// GroupStatus tracks the review lifecycle of a security group.
type GroupStatus string

const (
	// GroupStatusConfirmed marks a group that passed review.
	GroupStatusConfirmed GroupStatus = "Confirmed"
	// GroupStatusUnderReview is the default status for newly mirrored groups.
	GroupStatusUnderReview GroupStatus = "Under Review"
	// GroupStatusDeprecated marks a group scheduled for removal at the source.
	GroupStatusDeprecated GroupStatus = "Deprecated"
	// GroupStatusLegacy marks a group kept only for historical assignments.
	GroupStatusLegacy GroupStatus = "Legacy"
)

// SecurityGroup mirrors one security group of the application database.
// Rows are created and updated by sync runs; they are never deleted by sync,
// so groups that vanish from the source keep their last mirrored state.
type SecurityGroup struct {
	// ID is the local identifier of the mirrored group.
	ID uint64 `gorm:"primaryKey"`
	// SourceID is the application database's own id for this group, when known.
	SourceID *int64 `gorm:"index"`
	// Name is the group name, globally unique across the mirror.
	Name string `gorm:"size:255;not null;uniqueIndex"`
	// Module is the functional module the group belongs to, either the
	// source's category name or derived from the group name.
	Module *string `gorm:"size:255"`
	// AccessLevel is the privilege tier derived from the group name.
	AccessLevel AccessLevel `gorm:"type:varchar(20);not null;default:'Other'"`
	// Purpose documents why the group exists. Maintained by reviewers, not by sync.
	Purpose *string
	// Status is the review lifecycle state.
	Status GroupStatus `gorm:"type:varchar(20);not null;default:'Under Review'"`
	// WhoRequires names the people or roles that need this group.
	WhoRequires *string
	// WhyRequired records the business justification.
	WhyRequired *string
	// LastAuditAt is the date of the most recent membership audit.
	LastAuditAt *time.Time
	// SourceSystem tags where the row came from, e.g. "AppDB(Production)" or "Manual".
	SourceSystem string `gorm:"size:100;not null;default:'Manual'"`
	// LastSyncAt is the commit instant of the last sync run that touched this row.
	LastSyncAt *time.Time
	// CreatedAt is the timestamp when the group was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the group was last updated (managed by GORM).
	UpdatedAt time.Time
}

// TableName specifies the database table name for the SecurityGroup model.
// This overrides GORM's default pluralized table naming.
func (SecurityGroup) TableName() string {
	return "security_groups"
}
