package appdb

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// Physical tables whose column names vary across source versions.
const (
	tableUsers       = "res_users"
	tableMembership  = "res_groups_users_rel"
	tableInheritance = "res_groups_implied_rel"
)

const columnsQuery = `
	SELECT column_name
	FROM information_schema.columns
	WHERE table_name = $1
	ORDER BY ordinal_position`

// MembershipColumns maps the membership join table's logical fields to
// physical column names.
type MembershipColumns struct {
	User  string
	Group string
}

// InheritanceColumns maps the inheritance join table's logical fields to
// physical column names.
type InheritanceColumns struct {
	Parent string
	Child  string
}

// Probe is the resolved field map of one environment, built from the
// source's information schema. It must be rebuilt every run: vendor upgrades
// rename join columns and add or drop the users name column.
type Probe struct {
	// UsersHaveName reports whether res_users carries a denormalized name
	// column; absent it, the login doubles as the display name.
	UsersHaveName bool
	// Membership holds the membership join column mapping.
	Membership MembershipColumns
	// Inheritance holds the inheritance join column mapping.
	Inheritance InheritanceColumns
	// Warnings counts ambiguous layouts resolved by rule of thumb.
	Warnings int
}

// rowQuerier is the slice of pgx.Conn the probe needs.
type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// RunProbe inspects the information schema and resolves every variable-schema
// table. It must run before any data query against those tables.
func RunProbe(ctx context.Context, q rowQuerier) (*Probe, error) {
	p := &Probe{}

	userCols, err := columnNames(ctx, q, tableUsers)
	if err != nil {
		return nil, &QueryError{Table: tableUsers, Err: err}
	}

	p.UsersHaveName = hasColumn(userCols, "name")

	memberCols, err := columnNames(ctx, q, tableMembership)
	if err != nil {
		return nil, &QueryError{Table: tableMembership, Err: err}
	}

	p.Membership, err = resolveMembership(memberCols, &p.Warnings)
	if err != nil {
		return nil, err
	}

	impliedCols, err := columnNames(ctx, q, tableInheritance)
	if err != nil {
		return nil, &QueryError{Table: tableInheritance, Err: err}
	}

	p.Inheritance, err = resolveInheritance(impliedCols, &p.Warnings)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Bool("users_have_name", p.UsersHaveName).
		Str("membership_user", p.Membership.User).
		Str("membership_group", p.Membership.Group).
		Str("inheritance_parent", p.Inheritance.Parent).
		Str("inheritance_child", p.Inheritance.Child).
		Int("warnings", p.Warnings).
		Msg("schema probe resolved")

	return p, nil
}

func columnNames(ctx context.Context, q rowQuerier, table string) ([]string, error) {
	rows, err := q.Query(ctx, columnsQuery, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		cols = append(cols, name)
	}

	return cols, rows.Err()
}

func hasColumn(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}

	return false
}

// resolveMembership decides which join column holds the user id and which the
// group id. Known layouts: (gid, uid), (uid, gid), (group_id, user_id) and
// (user_id, group_id). The group test runs first because "group_id" also
// contains the letter u.
func resolveMembership(cols []string, warnings *int) (MembershipColumns, error) {
	if len(cols) < 2 {
		return MembershipColumns{}, &SchemaMismatchError{
			Table:   tableMembership,
			Missing: []string{"user_col", "group_col"},
		}
	}

	if len(cols) > 2 {
		// undefined layout: use the first two columns in ordinal order
		*warnings++

		log.Warn().Strs("columns", cols).Msg("membership join table has extra columns")
	}

	first, second := cols[0], cols[1]
	if !safeIdentifier(first) || !safeIdentifier(second) {
		return MembershipColumns{}, &SchemaMismatchError{
			Table:   tableMembership,
			Missing: []string{"user_col", "group_col"},
		}
	}

	lower := strings.ToLower(first)

	switch {
	case strings.Contains(lower, "gid") || strings.Contains(lower, "group"):
		return MembershipColumns{Group: first, User: second}, nil
	case strings.Contains(lower, "uid") || strings.Contains(lower, "user"):
		return MembershipColumns{User: first, Group: second}, nil
	default:
		// most common vendor layout puts the group first
		*warnings++

		return MembershipColumns{Group: first, User: second}, nil
	}
}

// resolveInheritance decides which join column holds the parent group. Known
// layouts: (gid, hid), (gid1, gid2), (parent_id, child_id) and
// (group_id, implied_id).
func resolveInheritance(cols []string, warnings *int) (InheritanceColumns, error) {
	if len(cols) < 2 {
		return InheritanceColumns{}, &SchemaMismatchError{
			Table:   tableInheritance,
			Missing: []string{"parent_col", "child_col"},
		}
	}

	if len(cols) > 2 {
		*warnings++

		log.Warn().Strs("columns", cols).Msg("inheritance join table has extra columns")
	}

	first, second := cols[0], cols[1]
	if !safeIdentifier(first) || !safeIdentifier(second) {
		return InheritanceColumns{}, &SchemaMismatchError{
			Table:   tableInheritance,
			Missing: []string{"parent_col", "child_col"},
		}
	}

	firstLower, secondLower := strings.ToLower(first), strings.ToLower(second)

	switch {
	case strings.Contains(secondLower, "hid"),
		strings.Contains(secondLower, "child"),
		strings.Contains(secondLower, "implied"):
		return InheritanceColumns{Parent: first, Child: second}, nil
	case strings.Contains(firstLower, "parent"):
		return InheritanceColumns{Parent: first, Child: second}, nil
	default:
		// default layout: first column is the parent
		return InheritanceColumns{Parent: first, Child: second}, nil
	}
}

// safeIdentifier accepts only alphanumeric and underscore column names, so
// probed names can be quoted into data queries.
func safeIdentifier(name string) bool {
	if name == "" {
		return false
	}

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}

	return true
}
