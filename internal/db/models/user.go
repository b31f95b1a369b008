package models

import "time"

// UserSource identifies which authoritative source a user row was seen in.
type UserSource string

const (
	// UserSourceDirectory indicates the row was only seen in the directory service.
	UserSourceDirectory UserSource = "directory"
	// UserSourceAppDB indicates the row was only seen in the application database.
	UserSourceAppDB UserSource = "appdb"
	// UserSourceMerged indicates the row carries identifiers from both sources.
	UserSourceMerged UserSource = "merged"
)

// User mirrors one person across both authoritative sources. A single row may
// carry a directory identifier, an application-database identifier, or both
// once the upsert engine has merged the two by email or login.
type User struct {
	// ID is the local identifier of the mirrored user.
	ID uint64 `gorm:"primaryKey"`
	// DirectoryID is the directory service's stable id, unique when set.
	DirectoryID *string `gorm:"size:64;uniqueIndex"`
	// AppDBID is the application database's user id, unique when set.
	AppDBID *int64 `gorm:"uniqueIndex"`
	// DisplayName is the human readable name shown in reports.
	DisplayName string `gorm:"size:255;not null"`
	// Login is the sign-in name; defaults to the user principal name for
	// directory users and the application login otherwise.
	Login *string `gorm:"size:255;index"`
	// Email is the primary mail address, matched case-insensitively.
	Email *string `gorm:"size:255;index"`
	// Department is the organizational unit supplied by the directory.
	Department *string `gorm:"size:255"`
	// AppDBDepartment is the department captured on the application side,
	// when that source exposes one.
	AppDBDepartment *string `gorm:"size:255"`
	// JobTitle is the directory-supplied job title.
	JobTitle *string `gorm:"size:255"`
	// Enabled is the directory account-enabled flag. No column default: a
	// default tag would make gorm omit the zero value on insert, silently
	// storing disabled accounts as enabled.
	Enabled bool `gorm:"not null"`
	// SourceSystem records which sources this row has been seen in.
	SourceSystem UserSource `gorm:"type:varchar(20);not null;default:'directory'"`
	// LastSeenInDirectoryAt is the commit instant of the last directory sync
	// that produced this user. It is never cleared, so users removed at the
	// source remain visible with a stale timestamp.
	LastSeenInDirectoryAt *time.Time
	// LastSeenInAppDBAt is the commit instant of the last application-database
	// sync that produced this user.
	LastSeenInAppDBAt *time.Time
	// CreatedAt is the timestamp when the user was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the user was last updated (managed by GORM).
	UpdatedAt time.Time
}

// TableName specifies the database table name for the User model.
func (User) TableName() string {
	return "users"
}
