// Package appdb streams security groups, users, memberships, inheritance
// edges and access rules from the application database.
package appdb

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// driverPrefix matches descriptor schemes of the form scheme+driver://.
// The driver part belongs to the producing framework, not to the wire
// protocol, and must be stripped before dialing.
var driverPrefix = regexp.MustCompile(`^([a-z0-9]+)\+[a-z0-9]+://`)

// NormalizeDSN strips a driver-prefixed scheme from a connection descriptor,
// e.g. postgresql+psycopg://… becomes postgresql://….
func NormalizeDSN(descriptor string) string {
	return driverPrefix.ReplaceAllString(descriptor, "$1://")
}

// Connector streams records from one application database environment over a
// read-only connection. The schema probe runs on Connect and is never reused
// across connections, so schema drift between runs is picked up.
type Connector struct {
	conn     *pgx.Conn
	probe    *Probe
	env      string
	warnings int
}

// Connect opens a read-only session against the environment's database,
// runs the schema probe, and returns the ready connector.
func Connect(ctx context.Context, descriptor, env string) (*Connector, error) {
	if descriptor == "" {
		return nil, ErrNotConfigured
	}

	conn, err := pgx.Connect(ctx, NormalizeDSN(descriptor))
	if err != nil {
		return nil, fmt.Errorf("application database connection: %w", err)
	}

	// read-only guard: sync never writes back to the source
	if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
		log.Warn().Err(err).Msg("could not enforce read-only session")
	}

	probe, err := RunProbe(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)

		return nil, err
	}

	log.Info().Str("environment", env).Msg("application database connected")

	return &Connector{
		conn:     conn,
		probe:    probe,
		env:      env,
		warnings: probe.Warnings,
	}, nil
}

// Close releases the connection.
func (c *Connector) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// Warnings reports the non-fatal anomalies seen so far.
func (c *Connector) Warnings() int {
	return c.warnings
}

// EachGroup streams security groups with their category name resolved. Rows
// are decoded one at a time to keep memory bounded.
func (c *Connector) EachGroup(ctx context.Context, fn func(Group) error) error {
	categories, err := c.categoryNames(ctx)
	if err != nil {
		// category table access is optional for read-only accounts
		log.Warn().Err(err).Msg("module category lookup unavailable")

		categories = map[int64]string{}
	}

	rows, err := c.conn.Query(ctx,
		"SELECT id, name, category_id FROM res_groups ORDER BY id")
	if err != nil {
		return &QueryError{Table: "res_groups", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         int64
			rawName    any
			categoryID *int64
		)

		if err := rows.Scan(&id, &rawName, &categoryID); err != nil {
			return &QueryError{Table: "res_groups", Err: err}
		}

		name, warned := Flatten(rawName)
		if warned {
			c.warnings++
		}

		g := Group{ID: id, Name: strings.TrimSpace(name)}
		if categoryID != nil {
			g.Module = categories[*categoryID]
		}

		if err := fn(g); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return &QueryError{Table: "res_groups", Err: err}
	}

	return nil
}

// categoryNames loads the module category id-to-name mapping.
func (c *Connector) categoryNames(ctx context.Context) (map[int64]string, error) {
	rows, err := c.conn.Query(ctx, "SELECT id, name FROM ir_module_category ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make(map[int64]string)

	for rows.Next() {
		var (
			id      int64
			rawName any
		)

		if err := rows.Scan(&id, &rawName); err != nil {
			return nil, err
		}

		name, warned := Flatten(rawName)
		if warned {
			c.warnings++
		}

		categories[id] = strings.TrimSpace(name)
	}

	return categories, rows.Err()
}

// EachUser streams active application users. The display name column only
// exists on some source versions; the probe decides which query shape to use.
func (c *Connector) EachUser(ctx context.Context, fn func(User) error) error {
	query := "SELECT id, login, login FROM res_users WHERE active = TRUE ORDER BY id"
	if c.probe.UsersHaveName {
		query = "SELECT id, name, login FROM res_users WHERE active = TRUE ORDER BY id"
	}

	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return &QueryError{Table: tableUsers, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			name  *string
			login *string
		)

		if err := rows.Scan(&id, &name, &login); err != nil {
			return &QueryError{Table: tableUsers, Err: err}
		}

		u := User{ID: id}
		if login != nil {
			u.Login = *login
		}

		switch {
		case name != nil && *name != "":
			u.Name = *name
		case u.Login != "":
			u.Name = u.Login
		default:
			u.Name = fmt.Sprintf("User-%d", id)
		}

		if err := fn(u); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return &QueryError{Table: tableUsers, Err: err}
	}

	return nil
}

// EachMembership streams (user, group) pairs using the probed column mapping.
func (c *Connector) EachMembership(ctx context.Context, fn func(Membership) error) error {
	query := fmt.Sprintf(`SELECT "%s", "%s" FROM %s`,
		c.probe.Membership.User, c.probe.Membership.Group, tableMembership)

	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return &QueryError{Table: tableMembership, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var pair Membership
		if err := rows.Scan(&pair.UserID, &pair.GroupID); err != nil {
			return &QueryError{Table: tableMembership, Err: err}
		}

		if err := fn(pair); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return &QueryError{Table: tableMembership, Err: err}
	}

	return nil
}

// EachInheritance streams (parent, child) edges using the probed column mapping.
func (c *Connector) EachInheritance(ctx context.Context, fn func(Inheritance) error) error {
	query := fmt.Sprintf(`SELECT "%s", "%s" FROM %s`,
		c.probe.Inheritance.Parent, c.probe.Inheritance.Child, tableInheritance)

	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return &QueryError{Table: tableInheritance, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var edge Inheritance
		if err := rows.Scan(&edge.ParentID, &edge.ChildID); err != nil {
			return &QueryError{Table: tableInheritance, Err: err}
		}

		if err := fn(edge); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return &QueryError{Table: tableInheritance, Err: err}
	}

	return nil
}

// EachAccessRule streams per-model CRUD rules with the model's readable name.
func (c *Connector) EachAccessRule(ctx context.Context, fn func(AccessRule) error) error {
	const query = `
		SELECT ira.id, ira.group_id, im.model, im.name,
		       ira.perm_read, ira.perm_write, ira.perm_create, ira.perm_unlink
		FROM ir_model_access ira
		JOIN ir_model im ON ira.model_id = im.id
		WHERE ira.group_id IS NOT NULL
		ORDER BY ira.group_id, im.model`

	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return &QueryError{Table: "ir_model_access", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rule           AccessRule
			rawDescription any
		)

		err := rows.Scan(&rule.ID, &rule.GroupID, &rule.Model, &rawDescription,
			&rule.CanRead, &rule.CanWrite, &rule.CanCreate, &rule.CanDelete)
		if err != nil {
			return &QueryError{Table: "ir_model_access", Err: err}
		}

		description, warned := Flatten(rawDescription)
		if warned {
			c.warnings++
		}

		rule.ModelDescription = description

		if err := fn(rule); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return &QueryError{Table: "ir_model_access", Err: err}
	}

	return nil
}
