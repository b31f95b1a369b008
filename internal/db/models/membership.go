package models

import "time"

// Membership represents the many-to-many relationship between users and
// security groups. Sync replaces the pair set authoritatively per group, so
// pairs dropped at the source are deleted while untouched groups keep theirs.
type Membership struct {
	// UserID is the ID of the user in this membership.
	UserID uint64 `gorm:"primaryKey;column:user_id"`
	// GroupID is the ID of the security group in this membership.
	GroupID uint64 `gorm:"primaryKey;column:group_id"`
	// User is the associated user (loaded via foreign key).
	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	// Group is the associated group (loaded via foreign key).
	Group SecurityGroup `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
	// CreatedAt is the timestamp when the pair was first mirrored (managed by GORM).
	CreatedAt time.Time
}

// TableName specifies the database table name for the Membership model.
func (Membership) TableName() string {
	return "memberships"
}
