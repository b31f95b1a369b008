package models

import "time"

// Inheritance is a directed edge between security groups: members of the
// child group implicitly receive the parent group. The mirrored edge set is
// kept acyclic; sync skips edges that would close a cycle.
type Inheritance struct {
	// ParentID is the ID of the group being inherited.
	ParentID uint64 `gorm:"primaryKey;column:parent_id"`
	// ChildID is the ID of the group that implies the parent.
	ChildID uint64 `gorm:"primaryKey;column:child_id"`
	// Parent is the inherited group (loaded via foreign key).
	Parent SecurityGroup `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE"`
	// Child is the inheriting group (loaded via foreign key).
	Child SecurityGroup `gorm:"foreignKey:ChildID;constraint:OnDelete:CASCADE"`
	// CreatedAt is the timestamp when the edge was first mirrored (managed by GORM).
	CreatedAt time.Time
}

// TableName specifies the database table name for the Inheritance model.
func (Inheritance) TableName() string {
	return "group_inheritance"
}
