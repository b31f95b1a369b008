package appdb

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned when the selected environment has no DSN.
var ErrNotConfigured = errors.New("application database environment is not configured")

// ErrUnknownEnvironment is returned when a sync names an environment that
// does not exist in the configuration.
var ErrUnknownEnvironment = errors.New("unknown application database environment")

// SchemaMismatchError reports that the schema probe could not resolve the
// required logical fields of a table.
type SchemaMismatchError struct {
	// Table is the physical table under inspection.
	Table string
	// Missing lists the logical fields that could not be resolved.
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on %s: cannot resolve %s",
		e.Table, strings.Join(e.Missing, ", "))
}

// QueryError reports a failed data query against one source table.
type QueryError struct {
	// Table is the table the query targeted.
	Table string
	// Err is the underlying cause.
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query against %s failed: %v", e.Table, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
