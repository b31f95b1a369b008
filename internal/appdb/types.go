package appdb

import "context"

// Group is the normalized shape of one security group record.
type Group struct {
	// ID is the source's group id.
	ID int64
	// Name is the flattened group name.
	Name string
	// Module is the category (application) name, empty when uncategorized.
	Module string
}

// User is the normalized shape of one application user record.
type User struct {
	// ID is the source's user id.
	ID int64
	// Name is the display name, falling back to the login.
	Name string
	// Login is the sign-in name, usually an email address.
	Login string
}

// Membership is one (user, group) pair of the membership join table.
type Membership struct {
	UserID  int64
	GroupID int64
}

// Inheritance is one directed (parent, child) edge of the inheritance join table.
type Inheritance struct {
	ParentID int64
	ChildID  int64
}

// AccessRule is one per-model CRUD rule.
type AccessRule struct {
	// ID is the source's rule id.
	ID int64
	// GroupID is the source's group id the rule applies to.
	GroupID int64
	// Model is the technical model name.
	Model string
	// ModelDescription is the flattened human readable model name.
	ModelDescription string
	CanRead          bool
	CanWrite         bool
	CanCreate        bool
	CanDelete        bool
}

// Source yields the five restartable record streams of one application
// database environment. Implemented by the live connector and the mock
// payload reader.
type Source interface {
	EachGroup(ctx context.Context, fn func(Group) error) error
	EachUser(ctx context.Context, fn func(User) error) error
	EachMembership(ctx context.Context, fn func(Membership) error) error
	EachInheritance(ctx context.Context, fn func(Inheritance) error) error
	EachAccessRule(ctx context.Context, fn func(AccessRule) error) error

	// Warnings reports the number of non-fatal anomalies seen so far,
	// such as translated-field picks and ambiguous join columns.
	Warnings() int
}
