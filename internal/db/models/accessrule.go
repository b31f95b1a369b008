package models

import "time"

// AccessRule mirrors one per-model CRUD rule of the application database.
// Rules are keyed by the source's own rule id and updated in place.
type AccessRule struct {
	// ID is the local identifier of the mirrored rule.
	ID uint64 `gorm:"primaryKey"`
	// GroupID is the security group the rule applies to.
	GroupID uint64 `gorm:"not null;index"`
	// Group is the associated group (loaded via foreign key).
	Group SecurityGroup `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
	// SourceID is the application database's id for this rule, unique.
	SourceID int64 `gorm:"not null;uniqueIndex"`
	// ModelName is the technical name of the protected model.
	ModelName string `gorm:"size:255;not null"`
	// ModelDescription is the human readable model name, when available.
	ModelDescription *string `gorm:"size:255"`
	// CanRead grants read access.
	CanRead bool `gorm:"not null;default:false"`
	// CanWrite grants update access.
	CanWrite bool `gorm:"not null;default:false"`
	// CanCreate grants create access.
	CanCreate bool `gorm:"not null;default:false"`
	// CanDelete grants delete access.
	CanDelete bool `gorm:"not null;default:false"`
	// SyncedAt is the commit instant of the last sync run that touched this rule.
	SyncedAt time.Time
	// CreatedAt is the timestamp when the rule was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the rule was last updated (managed by GORM).
	UpdatedAt time.Time
}

// TableName specifies the database table name for the AccessRule model.
func (AccessRule) TableName() string {
	return "access_rules"
}
